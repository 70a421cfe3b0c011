package handlers

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// Routes registers the API endpoints on the router.
func (h *ChatHandler) Routes(r *mux.Router) {
	r.Use(corsMiddleware)

	r.HandleFunc("/api/chat", h.HandleChat).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/chat/stream", h.HandleChatStream).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/validate-key", h.HandleValidateKey).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
}

// corsMiddleware allows browser clients on other origins to call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Accept-Language")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerAddr identifies the caller for rate limiting. Proxy headers win
// over the socket address so limits follow the real client.
func callerAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestLanguage picks the response language from the Accept-Language
// header, first tag only.
func requestLanguage(r *http.Request) string {
	header := r.Header.Get("Accept-Language")
	if header == "" {
		return ""
	}
	tag := header
	if i := strings.IndexAny(tag, ",;"); i >= 0 {
		tag = tag[:i]
	}
	if i := strings.IndexByte(tag, '-'); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(strings.TrimSpace(tag))
}
