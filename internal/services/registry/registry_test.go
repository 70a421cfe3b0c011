package registry_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/config"
	"github.com/wattmonk-ai/rag-gateway/internal/models"
	"github.com/wattmonk-ai/rag-gateway/internal/services/registry"
	"github.com/wattmonk-ai/rag-gateway/internal/services/upstream"
)

const testKey = "test-key-0123456789abcdefgh"

var defaults = []string{"gemini-1.5-flash", "gemini-1.5-pro"}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newClient(t *testing.T, baseURL string) *upstream.Client {
	t.Helper()
	return upstream.NewClient(&config.UpstreamConfig{
		BaseURL:        baseURL,
		EmbedModel:     "text-embedding-004",
		RequestTimeout: 5 * time.Second,
		MaxRPS:         1000,
		Burst:          1000,
	}, testLogger())
}

func modelList(names ...string) string {
	type m struct {
		Name string `json:"name"`
	}
	var out struct {
		Models []m `json:"models"`
	}
	for _, n := range names {
		out.Models = append(out.Models, m{Name: n})
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func TestKeyPrefix(t *testing.T) {
	if got := registry.KeyPrefix("abcdefghijkl"); got != "abcdefgh" {
		t.Errorf("KeyPrefix = %q, want %q", got, "abcdefgh")
	}
	if got := registry.KeyPrefix("short"); got != "short" {
		t.Errorf("KeyPrefix of short key = %q, want %q", got, "short")
	}
}

func TestValidFormat(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"AIzaSyA1234567890abcdefghijklmno", true},
		{"abc_def-ghi_jkl-mno_pqr", true},
		{"", false},
		{"short", false},
		{"has spaces in it which are not allowed", false},
		{"key-with-#-illegal-chars-padpad", false},
	}
	for _, tt := range tests {
		if got := registry.ValidFormat(tt.key); got != tt.want {
			t.Errorf("ValidFormat(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestResolveCandidatesRanksAndNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, modelList(
			"models/gemini-1.0-pro",
			"models/Gemini-1.5-Flash",
			"models/text-embedding-004",
			"models/gemini-2.0-flash",
			"models/gemini-1.5-flash",
			"models/gemini-1.5-pro",
		))
	}))
	defer srv.Close()

	reg := registry.New(newClient(t, srv.URL), defaults, testLogger())
	got := reg.ResolveCandidates(context.Background(), testKey)

	want := []string{"gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash", "gemini-1.0-pro"}
	if len(got) != len(want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidates = %v, want %v", got, want)
		}
	}
}

func TestResolveCandidatesUsesCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, modelList("models/gemini-1.5-flash"))
	}))
	defer srv.Close()

	reg := registry.New(newClient(t, srv.URL), defaults, testLogger())
	reg.ResolveCandidates(context.Background(), testKey)
	reg.ResolveCandidates(context.Background(), testKey)

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("discovery hit upstream %d times, want 1", n)
	}
}

func TestResolveCandidatesFailureUsesDefaultsUncached(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := registry.New(newClient(t, srv.URL), defaults, testLogger())

	for i := 0; i < 2; i++ {
		got := reg.ResolveCandidates(context.Background(), testKey)
		if len(got) != len(defaults) || got[0] != defaults[0] || got[1] != defaults[1] {
			t.Fatalf("candidates on failure = %v, want defaults %v", got, defaults)
		}
	}
	// Failures are never cached, so both calls reach upstream.
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("discovery hit upstream %d times, want 2", n)
	}
}

func TestResolveCandidatesEmptyDiscoveryUsesDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, modelList("models/text-embedding-004", "models/aqa"))
	}))
	defer srv.Close()

	reg := registry.New(newClient(t, srv.URL), defaults, testLogger())
	got := reg.ResolveCandidates(context.Background(), testKey)
	if len(got) != len(defaults) || got[0] != defaults[0] {
		t.Errorf("candidates = %v, want defaults %v", got, defaults)
	}
}

func TestPromoteMovesModelToFront(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, modelList("models/gemini-1.5-pro", "models/gemini-1.5-flash"))
	}))
	defer srv.Close()

	reg := registry.New(newClient(t, srv.URL), defaults, testLogger())
	reg.ResolveCandidates(context.Background(), testKey)
	reg.Promote(testKey, "gemini-1.5-flash")

	got := reg.ResolveCandidates(context.Background(), testKey)
	if len(got) == 0 || got[0] != "gemini-1.5-flash" {
		t.Errorf("candidates after promote = %v, want gemini-1.5-flash first", got)
	}
}

func TestValidateFallsThroughPermissionDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, modelList("models/gemini-1.5-pro", "models/gemini-1.5-flash"))
			return
		}
		if strings.Contains(r.URL.Path, "gemini-1.5-pro") {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":{"code":403,"status":"PERMISSION_DENIED","message":"no access"}}`)
			return
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"pong"}]}}]}`)
	}))
	defer srv.Close()

	reg := registry.New(newClient(t, srv.URL), defaults, testLogger())
	result, err := reg.Validate(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Valid || result.Model != "gemini-1.5-flash" || result.RateLimited {
		t.Errorf("result = %+v, want valid via gemini-1.5-flash", result)
	}
}

func TestValidateThrottledMeansValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, modelList("models/gemini-1.5-flash"))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"quota"}}`)
	}))
	defer srv.Close()

	reg := registry.New(newClient(t, srv.URL), defaults, testLogger())
	result, err := reg.Validate(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Valid || !result.RateLimited {
		t.Errorf("result = %+v, want valid and rate limited", result)
	}
}

func TestValidateUnknownStatusIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, modelList("models/gemini-1.5-flash", "models/gemini-1.5-pro"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := registry.New(newClient(t, srv.URL), defaults, testLogger())
	if _, err := reg.Validate(context.Background(), testKey); err == nil {
		t.Fatal("expected terminal error for unknown status")
	}
}

func TestValidateExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, modelList("models/gemini-1.5-flash", "models/gemini-1.5-pro"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	reg := registry.New(newClient(t, srv.URL), defaults, testLogger())
	_, err := reg.Validate(context.Background(), testKey)
	if !errors.Is(err, models.ErrCredentialUnusable) {
		t.Fatalf("err = %v, want ErrCredentialUnusable", err)
	}
}

func TestValidateRejectsMalformedKey(t *testing.T) {
	reg := registry.New(newClient(t, "http://127.0.0.1:0"), defaults, testLogger())
	_, err := reg.Validate(context.Background(), "bad key")
	if !errors.Is(err, models.ErrInvalidKeyFormat) {
		t.Fatalf("err = %v, want ErrInvalidKeyFormat", err)
	}
}
