package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/i18n"
	"github.com/wattmonk-ai/rag-gateway/internal/middleware"
	"github.com/wattmonk-ai/rag-gateway/internal/models"
	"github.com/wattmonk-ai/rag-gateway/internal/services/orchestrator"
)

// Generator is the orchestrator surface the handlers depend on.
type Generator interface {
	Generate(ctx context.Context, req *orchestrator.Request) (*models.ChatResponse, error)
	GenerateStream(ctx context.Context, req *orchestrator.Request) <-chan models.StreamEvent
	ValidateKey(ctx context.Context, apiKey string) (*models.ValidationResult, error)
}

// ChatHandler serves the chat API endpoints.
type ChatHandler struct {
	generator Generator
	localizer *i18n.Localizer
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(generator Generator, localizer *i18n.Localizer, metrics *middleware.Metrics, logger *logrus.Logger) *ChatHandler {
	return &ChatHandler{
		generator: generator,
		localizer: localizer,
		metrics:   metrics,
		logger:    logger,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// HandleChat serves the buffered generation endpoint.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, err := h.decodeRequest(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, i18n.MsgMalformedRequest)
		h.metrics.RecordRequest("chat", "400", time.Since(start))
		return
	}

	resp, err := h.generator.Generate(r.Context(), req)
	if err != nil {
		status, messageID := mapPreflightError(err)
		h.writeError(w, r, status, messageID)
		h.metrics.RecordRequest("chat", strconv.Itoa(status), time.Since(start))
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
	h.metrics.RecordRequest("chat", "200", time.Since(start))
}

// HandleValidateKey probes the supplied credential against live models.
func (h *ChatHandler) HandleValidateKey(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	apiKey := r.URL.Query().Get("apiKey")
	if apiKey == "" {
		apiKey = r.Header.Get("X-API-Key")
	}
	if apiKey == "" {
		h.writeError(w, r, http.StatusBadRequest, i18n.MsgInvalidKeyFormat)
		h.metrics.RecordRequest("validate_key", "400", time.Since(start))
		return
	}

	result, err := h.generator.ValidateKey(r.Context(), apiKey)
	if err != nil {
		if errors.Is(err, models.ErrCredentialUnusable) {
			h.writeJSON(w, http.StatusOK, &models.ValidationResult{Valid: false})
			h.metrics.RecordRequest("validate_key", "200", time.Since(start))
			return
		}
		h.writeError(w, r, http.StatusBadGateway, i18n.MsgHintUpstreamGeneric)
		h.metrics.RecordRequest("validate_key", "502", time.Since(start))
		return
	}

	h.writeJSON(w, http.StatusOK, result)
	h.metrics.RecordRequest("validate_key", "200", time.Since(start))
}

// HandleHealth is a liveness probe.
func (h *ChatHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ChatHandler) decodeRequest(r *http.Request) (*orchestrator.Request, error) {
	var body models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, err
	}

	apiKey := body.APIKey
	if apiKey == "" {
		apiKey = r.Header.Get("X-API-Key")
	}

	return &orchestrator.Request{
		Messages:   body.Messages,
		APIKey:     apiKey,
		Model:      body.Model,
		CallerAddr: callerAddr(r),
		Lang:       requestLanguage(r),
	}, nil
}

func (h *ChatHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

func (h *ChatHandler) writeError(w http.ResponseWriter, r *http.Request, status int, messageID string) {
	h.writeJSON(w, status, errorBody{Error: h.localizer.Get(requestLanguage(r), messageID, nil)})
}

// mapPreflightError maps orchestrator pre-flight errors to HTTP status and
// localized message ID.
func mapPreflightError(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrMalformedRequest):
		return http.StatusBadRequest, i18n.MsgMalformedRequest
	case errors.Is(err, models.ErrInvalidKeyFormat):
		return http.StatusBadRequest, i18n.MsgInvalidKeyFormat
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests, i18n.MsgRateLimitExceeded
	default:
		return http.StatusInternalServerError, i18n.MsgHintUpstreamGeneric
	}
}
