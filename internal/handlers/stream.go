package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wattmonk-ai/rag-gateway/internal/i18n"
	"github.com/wattmonk-ai/rag-gateway/internal/models"
)

// HandleChatStream serves the streaming endpoint over SSE. Event framing
// mirrors the relay's contract: one meta event once a model is confirmed,
// verbatim data fragments, and a terminating end event, with failures
// surfacing as a single error event before the end.
func (h *ChatHandler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, http.StatusInternalServerError, i18n.MsgHintUpstreamGeneric)
		h.metrics.RecordRequest("chat_stream", "500", time.Since(start))
		return
	}

	req, err := h.decodeRequest(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, i18n.MsgMalformedRequest)
		h.metrics.RecordRequest("chat_stream", "400", time.Since(start))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	events := h.generator.GenerateStream(r.Context(), req)
	for ev := range events {
		if err := writeSSE(w, ev); err != nil {
			// Client is gone; drain so the relay goroutine unblocks.
			h.logger.WithError(err).Debug("Client dropped stream")
			for range events {
			}
			break
		}
		flusher.Flush()
	}

	h.metrics.RecordRequest("chat_stream", "200", time.Since(start))
}

// writeSSE frames one relay event as a server-sent event. Data fragments
// are JSON-encoded strings so arbitrary upstream bytes survive SSE's
// line-oriented framing intact.
func writeSSE(w http.ResponseWriter, ev models.StreamEvent) error {
	switch ev.Type {
	case models.StreamMeta:
		payload, err := json.Marshal(ev.Meta)
		if err != nil {
			return err
		}
		_, err = w.Write([]byte("event: meta\ndata: " + string(payload) + "\n\n"))
		return err

	case models.StreamData:
		payload, err := json.Marshal(string(ev.Data))
		if err != nil {
			return err
		}
		_, err = w.Write([]byte("data: " + string(payload) + "\n\n"))
		return err

	case models.StreamError:
		payload, err := json.Marshal(ev.Err)
		if err != nil {
			return err
		}
		_, err = w.Write([]byte("event: error\ndata: " + string(payload) + "\n\n"))
		return err

	case models.StreamEnd:
		_, err := w.Write([]byte("event: end\ndata: {}\n\n"))
		return err
	}
	return nil
}
