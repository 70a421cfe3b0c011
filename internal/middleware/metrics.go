package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_gateway_requests_total",
		Help: "Total number of inbound requests",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rag_gateway_request_duration_seconds",
		Help:    "Duration of inbound requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// Upstream metrics
	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rag_gateway_upstream_request_duration_seconds",
		Help:    "Duration of upstream generation calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "status"})

	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_gateway_upstream_requests_total",
		Help: "Total number of upstream generation calls",
	}, []string{"model", "status"})

	candidateFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_gateway_candidate_fallbacks_total",
		Help: "Total number of candidate model advancements",
	}, []string{"reason"})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_gateway_cache_hits_total",
		Help: "Total number of response cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_gateway_cache_misses_total",
		Help: "Total number of response cache misses",
	})

	// Rate limit metrics
	rateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_gateway_rate_limit_rejections_total",
		Help: "Total number of locally rejected requests",
	})

	// Retrieval metrics
	retrievalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_gateway_retrieval_requests_total",
		Help: "Total number of retrieval calls",
	}, []string{"status"})

	// Streaming metrics
	streamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_gateway_stream_events_total",
		Help: "Total number of stream events emitted",
	}, []string{"type"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRequest records an inbound request
func (m *Metrics) RecordRequest(endpoint, status string, duration time.Duration) {
	requestsTotal.WithLabelValues(endpoint, status).Inc()
	requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordUpstreamRequest records an upstream generation call
func (m *Metrics) RecordUpstreamRequest(model, status string, duration time.Duration) {
	upstreamRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
	upstreamRequestsTotal.WithLabelValues(model, status).Inc()
}

// RecordCandidateFallback records advancement to the next candidate model
func (m *Metrics) RecordCandidateFallback(reason string) {
	candidateFallbacks.WithLabelValues(reason).Inc()
}

// RecordCacheHit records a response cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a response cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordRateLimitRejection records a locally rejected request
func (m *Metrics) RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// RecordRetrieval records a retrieval call outcome
func (m *Metrics) RecordRetrieval(status string) {
	retrievalRequests.WithLabelValues(status).Inc()
}

// RecordStreamEvent records one emitted stream event
func (m *Metrics) RecordStreamEvent(eventType string) {
	streamEvents.WithLabelValues(eventType).Inc()
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
