package orchestrator

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/i18n"
	"github.com/wattmonk-ai/rag-gateway/internal/middleware"
	"github.com/wattmonk-ai/rag-gateway/internal/models"
	"github.com/wattmonk-ai/rag-gateway/internal/services/registry"
	"github.com/wattmonk-ai/rag-gateway/internal/services/upstream"
)

const streamReadBuffer = 4096

// GenerateStream runs the streaming pipeline and returns the event
// sequence. The channel always terminates: success closes after an end
// event, failure closes after exactly one error event followed by one end
// event, and a vanished client closes with nothing further. Metadata is
// emitted exactly once, only after a candidate model has been confirmed
// working, so a candidate that fails mid-handshake never produces a meta
// event for the caller.
func (o *Orchestrator) GenerateStream(ctx context.Context, req *Request) <-chan models.StreamEvent {
	events := make(chan models.StreamEvent, 8)
	go func() {
		defer close(events)
		o.relay(ctx, req, events)
	}()
	return events
}

func (o *Orchestrator) relay(ctx context.Context, req *Request, events chan<- models.StreamEvent) {
	emit := func(ev models.StreamEvent) bool {
		select {
		case events <- ev:
			o.metrics.RecordStreamEvent(string(ev.Type))
			return true
		case <-ctx.Done():
			return false
		}
	}
	// fail transitions to the terminal error state: one error, one end.
	fail := func(status int, message string) {
		if emit(models.StreamEvent{Type: models.StreamError, Err: &models.StreamFailure{Status: status, Error: message}}) {
			emit(models.StreamEvent{Type: models.StreamEnd})
		}
	}

	apiKey, query, err := o.prepare(req)
	if err != nil {
		fail(http.StatusBadRequest, o.preflightMessage(req.Lang, err))
		return
	}
	prefix := registry.KeyPrefix(apiKey)

	if !o.limiter.Allow(middleware.CallerKey(req.CallerAddr, prefix)) {
		o.metrics.RecordRateLimitRejection()
		fail(http.StatusTooManyRequests, o.localizer.Get(req.Lang, i18n.MsgRateLimitExceeded, nil))
		return
	}

	ret := o.retrieve(ctx, req.Messages, apiKey)
	mode, maxScore := decideMode(ret)
	prompt := buildPrompt(query, ret.Docs, mode, ret.Intent)
	contents := buildContents(req.Messages, prompt)

	genReq := &upstream.GenerateRequest{
		Contents:         contents,
		GenerationConfig: &upstream.GenerationConfig{Temperature: 0.7},
	}
	candidates := orderCandidates(o.registry.ResolveCandidates(ctx, apiKey), sanitizeModel(req.Model))

	var lastStatus *upstream.StatusError

candidateLoop:
	for _, model := range candidates {
		for attempt := 1; attempt <= maxThrottleAttempts; attempt++ {
			resp, err := o.upstream.GenerateStream(ctx, apiKey, model, genReq)
			if err == nil {
				// Candidate confirmed: commit to it for the rest of the stream.
				o.registry.Promote(apiKey, model)
				meta := &models.StreamMetadata{
					Sources:       sourcesFromDocs(ret.Docs),
					Confidence:    confidence(maxScore),
					Intent:        ret.Intent,
					Mode:          mode,
					ModelUsed:     model,
					MemorySummary: ret.MemorySummary,
				}
				if !emit(models.StreamEvent{Type: models.StreamMeta, Meta: meta}) {
					resp.Body.Close()
					return
				}
				o.drain(ctx, resp.Body, emit)
				return
			}

			var statusErr *upstream.StatusError
			if !errors.As(err, &statusErr) {
				if ctx.Err() != nil {
					return
				}
				o.metrics.RecordCandidateFallback("transport")
				o.logger.WithError(err).WithField("model", model).Warn("Upstream unreachable, advancing candidate")
				continue candidateLoop
			}

			switch {
			case statusErr.Permission():
				o.metrics.RecordCandidateFallback("permission")
				o.logger.WithFields(logrus.Fields{
					"model":  model,
					"status": statusErr.StatusCode,
				}).Info("Model not permitted, advancing candidate")
				continue candidateLoop

			case statusErr.Throttled():
				lastStatus = statusErr
				if attempt == maxThrottleAttempts {
					o.metrics.RecordCandidateFallback("throttled")
					continue candidateLoop
				}
				if err := o.backoff(ctx, attempt); err != nil {
					return
				}

			default:
				fail(statusErr.StatusCode, o.localizer.Get(req.Lang, statusErr.HintID, map[string]interface{}{
					"Status": statusErr.StatusCode,
				}))
				return
			}
		}
	}

	status := 0
	if lastStatus != nil {
		status = lastStatus.StatusCode
	}
	fail(status, o.localizer.Get(req.Lang, i18n.MsgAllModelsExhausted, nil))
}

// drain forwards the upstream body to the caller as verbatim data
// fragments. A clean upstream EOF ends the stream with a single end event;
// an upstream read failure mid-stream becomes one error plus one end; a
// gone client stops the read with no further events.
func (o *Orchestrator) drain(ctx context.Context, body io.ReadCloser, emit func(models.StreamEvent) bool) {
	defer body.Close()

	buf := make([]byte, streamReadBuffer)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			fragment := make([]byte, n)
			copy(fragment, buf[:n])
			if !emit(models.StreamEvent{Type: models.StreamData, Data: fragment}) {
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				emit(models.StreamEvent{Type: models.StreamEnd})
			case ctx.Err() != nil:
				// Client disconnected; nobody is listening.
			default:
				o.logger.WithError(err).Warn("Upstream stream broke mid-response")
				if emit(models.StreamEvent{Type: models.StreamError, Err: &models.StreamFailure{Error: "upstream stream interrupted"}}) {
					emit(models.StreamEvent{Type: models.StreamEnd})
				}
			}
			return
		}
	}
}

// preflightMessage maps pre-flight validation errors to localized text.
func (o *Orchestrator) preflightMessage(lang string, err error) string {
	switch {
	case errors.Is(err, models.ErrMalformedRequest):
		return o.localizer.Get(lang, i18n.MsgMalformedRequest, nil)
	case errors.Is(err, models.ErrInvalidKeyFormat):
		return o.localizer.Get(lang, i18n.MsgInvalidKeyFormat, nil)
	default:
		return err.Error()
	}
}
