package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/i18n"
	"github.com/wattmonk-ai/rag-gateway/internal/middleware"
	"github.com/wattmonk-ai/rag-gateway/internal/models"
	"github.com/wattmonk-ai/rag-gateway/internal/services/orchestrator"
)

type fakeGenerator struct {
	resp       *models.ChatResponse
	err        error
	events     []models.StreamEvent
	validation *models.ValidationResult
	vErr       error

	lastReq *orchestrator.Request
}

func (f *fakeGenerator) Generate(_ context.Context, req *orchestrator.Request) (*models.ChatResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func (f *fakeGenerator) GenerateStream(_ context.Context, req *orchestrator.Request) <-chan models.StreamEvent {
	f.lastReq = req
	ch := make(chan models.StreamEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func (f *fakeGenerator) ValidateKey(context.Context, string) (*models.ValidationResult, error) {
	return f.validation, f.vErr
}

func newTestHandler(gen Generator) *ChatHandler {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewChatHandler(gen, i18n.Default(), middleware.NewMetrics(), log)
}

func testRouter(gen Generator) *mux.Router {
	r := mux.NewRouter()
	newTestHandler(gen).Routes(r)
	return r
}

func TestHandleChatSuccess(t *testing.T) {
	fake := &fakeGenerator{resp: &models.ChatResponse{
		Text:       "grounded answer",
		Mode:       "rag",
		Intent:     "nec",
		Confidence: 0.7,
	}}
	router := testRouter(fake)

	body := `{"messages":[{"role":"user","content":"NEC GFCI kitchen requirements?"}],"apiKey":"test-key-0123456789abcdefgh"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:54321"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp models.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Text != "grounded answer" || resp.Mode != "rag" {
		t.Errorf("response = %+v", resp)
	}
	if fake.lastReq.APIKey != "test-key-0123456789abcdefgh" {
		t.Errorf("APIKey = %q", fake.lastReq.APIKey)
	}
	if fake.lastReq.CallerAddr != "10.0.0.1" {
		t.Errorf("CallerAddr = %q, want host without port", fake.lastReq.CallerAddr)
	}
}

func TestHandleChatHeaderKeyFallback(t *testing.T) {
	fake := &fakeGenerator{resp: &models.ChatResponse{Text: "ok"}}
	router := testRouter(fake)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("X-API-Key", "header-key-0123456789abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if fake.lastReq.APIKey != "header-key-0123456789abc" {
		t.Errorf("APIKey = %q, want header value", fake.lastReq.APIKey)
	}
}

func TestHandleChatMalformedBody(t *testing.T) {
	router := testRouter(&fakeGenerator{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error == "" {
		t.Errorf("error body = %q", rec.Body.String())
	}
}

func TestHandleChatErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrMalformedRequest, http.StatusBadRequest},
		{models.ErrInvalidKeyFormat, http.StatusBadRequest},
		{models.ErrRateLimited, http.StatusTooManyRequests},
		{models.ErrAllCandidatesExhausted, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		router := testRouter(&fakeGenerator{err: tt.err})
		req := httptest.NewRequest(http.MethodPost, "/api/chat",
			strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestHandleChatStreamFraming(t *testing.T) {
	fake := &fakeGenerator{events: []models.StreamEvent{
		{Type: models.StreamMeta, Meta: &models.StreamMetadata{ModelUsed: "gemini-1.5-flash", Mode: "rag"}},
		{Type: models.StreamData, Data: []byte("data: {\"text\":\"hel\"}\n\n")},
		{Type: models.StreamData, Data: []byte("data: {\"text\":\"lo\"}\n\n")},
		{Type: models.StreamEnd},
	}}
	router := testRouter(fake)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}],"apiKey":"test-key-0123456789abcdefgh"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	out := rec.Body.String()
	if !strings.Contains(out, "event: meta\n") {
		t.Error("output missing meta event")
	}
	if !strings.Contains(out, `"modelUsed":"gemini-1.5-flash"`) {
		t.Error("meta payload missing model")
	}
	if !strings.Contains(out, "event: end\n") {
		t.Error("output missing end event")
	}
	if strings.Index(out, "event: meta") > strings.Index(out, "event: end") {
		t.Error("meta must precede end")
	}

	// Data fragments are JSON string encoded; decoding them restores the
	// upstream bytes exactly.
	var rebuilt strings.Builder
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		var fragment string
		if err := json.Unmarshal([]byte(payload), &fragment); err != nil {
			continue
		}
		rebuilt.WriteString(fragment)
	}
	want := "data: {\"text\":\"hel\"}\n\ndata: {\"text\":\"lo\"}\n\n"
	if rebuilt.String() != want {
		t.Errorf("rebuilt fragments = %q, want %q", rebuilt.String(), want)
	}
}

func TestHandleChatStreamError(t *testing.T) {
	fake := &fakeGenerator{events: []models.StreamEvent{
		{Type: models.StreamError, Err: &models.StreamFailure{Status: 429, Error: "quota"}},
		{Type: models.StreamEnd},
	}}
	router := testRouter(fake)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	out := rec.Body.String()
	if !strings.Contains(out, "event: error\n") {
		t.Error("output missing error event")
	}
	if !strings.Contains(out, `"status":429`) {
		t.Error("error payload missing status")
	}
	if !strings.Contains(out, "event: end\n") {
		t.Error("error stream must still terminate with end")
	}
}

func TestHandleValidateKey(t *testing.T) {
	fake := &fakeGenerator{validation: &models.ValidationResult{Valid: true, Model: "gemini-1.5-flash"}}
	router := testRouter(fake)

	req := httptest.NewRequest(http.MethodGet, "/api/validate-key?apiKey=test-key-0123456789abcdefgh", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var result models.ValidationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Valid || result.Model != "gemini-1.5-flash" {
		t.Errorf("result = %+v", result)
	}
}

func TestHandleValidateKeyMissing(t *testing.T) {
	router := testRouter(&fakeGenerator{})
	req := httptest.NewRequest(http.MethodGet, "/api/validate-key", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleValidateKeyUnusable(t *testing.T) {
	router := testRouter(&fakeGenerator{vErr: models.ErrCredentialUnusable})
	req := httptest.NewRequest(http.MethodGet, "/api/validate-key?apiKey=test-key-0123456789abcdefgh", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with valid:false", rec.Code)
	}
	var result models.ValidationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Valid {
		t.Error("unusable credential reported as valid")
	}
}

func TestHandleHealth(t *testing.T) {
	router := testRouter(&fakeGenerator{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := testRouter(&fakeGenerator{})
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
}

func TestRequestLanguage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "es-MX,es;q=0.9,en;q=0.8")
	if got := requestLanguage(req); got != "es" {
		t.Errorf("requestLanguage = %q, want es", got)
	}

	req.Header.Del("Accept-Language")
	if got := requestLanguage(req); got != "" {
		t.Errorf("requestLanguage without header = %q, want empty", got)
	}
}

func TestCallerAddrForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")
	if got := callerAddr(req); got != "203.0.113.7" {
		t.Errorf("callerAddr = %q, want first forwarded hop", got)
	}
}
