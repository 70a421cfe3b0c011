package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/config"
	"golang.org/x/time/rate"
)

// Client talks to the generativelanguage API. All calls carry the
// per-request credential; the client itself holds no secret beyond the
// configured server fallback handled by its callers.
type Client struct {
	baseURL    string
	embedModel string
	httpClient *http.Client
	// streamClient carries no overall timeout: http.Client.Timeout covers
	// reading the body, and a healthy stream may outlive any fixed
	// deadline. Only the handshake is bounded.
	streamClient *http.Client
	limiter      *rate.Limiter
	logger       *logrus.Logger
}

// NewClient creates an upstream client. The limiter is a global outbound
// throttle across all callers; per-caller limiting happens in middleware.
func NewClient(cfg *config.UpstreamConfig, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		embedModel: cfg.EmbedModel,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		streamClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: cfg.RequestTimeout,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxRPS), cfg.Burst),
		logger:  logger,
	}
}

// Content is one turn in the provider's wire format.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text string `json:"text"`
}

// GenerationConfig mirrors the provider's tuning block.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// GenerateRequest is the generation call payload.
type GenerateRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []Part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type listModelsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type embedResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

// ListModels returns the raw model names the credential may use. Transport
// failures and non-success statuses yield an error; the registry decides
// how to degrade.
func (c *Client) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	body, err := c.call(ctx, http.MethodGet, c.baseURL+"/v1beta/models?key="+url.QueryEscape(apiKey), nil)
	if err != nil {
		return nil, err
	}

	var result listModelsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse model list: %w", err)
	}

	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Generate performs a non-streaming generation call and extracts the text
// from the nested candidate/content/parts structure.
func (c *Client) Generate(ctx context.Context, apiKey, model string, req *GenerateRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, model, url.QueryEscape(apiKey))
	body, err := c.call(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return "", err
	}

	var result generateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	text := extractText(&result)
	if text == "" {
		return "", fmt.Errorf("no text in upstream response")
	}
	return text, nil
}

// GenerateStream performs a streaming generation call. On a success status
// it returns the response with its body still open; the caller owns the
// body. Non-success statuses are drained into a *StatusError.
func (c *Client) GenerateStream(ctx context.Context, apiKey, model string, req *GenerateRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, model, url.QueryEscape(apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()
		return nil, parseStatusError(resp.StatusCode, body)
	}

	return resp, nil
}

// Embed returns the embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, apiKey, text string) ([]float64, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"model":   "models/" + c.embedModel,
		"content": Content{Parts: []Part{{Text: text}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:embedContent?key=%s", c.baseURL, c.embedModel, url.QueryEscape(apiKey))
	body, err := c.call(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}

	var result embedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse embedding: %w", err)
	}
	if len(result.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return result.Embedding.Values, nil
}

// call issues one HTTP request through the outbound throttle and returns
// the body on a 2xx status or a *StatusError otherwise.
func (c *Client) call(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := parseStatusError(resp.StatusCode, body)
		c.logger.WithFields(logrus.Fields{
			"status":   resp.StatusCode,
			"duration": time.Since(start),
			"message":  statusErr.Message,
		}).Warn("Upstream request failed")
		return nil, statusErr
	}

	return body, nil
}

func extractText(resp *generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
