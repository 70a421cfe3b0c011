package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/config"
	"github.com/wattmonk-ai/rag-gateway/internal/handlers"
	"github.com/wattmonk-ai/rag-gateway/internal/i18n"
	"github.com/wattmonk-ai/rag-gateway/internal/middleware"
	"github.com/wattmonk-ai/rag-gateway/internal/services/cache"
	"github.com/wattmonk-ai/rag-gateway/internal/services/orchestrator"
	"github.com/wattmonk-ai/rag-gateway/internal/services/ranker"
	"github.com/wattmonk-ai/rag-gateway/internal/services/registry"
	"github.com/wattmonk-ai/rag-gateway/internal/services/retrieval"
	"github.com/wattmonk-ai/rag-gateway/internal/services/upstream"
	"github.com/wattmonk-ai/rag-gateway/pkg/logger"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting RAG gateway...")

	// Initialize upstream client and model registry
	upstreamClient := upstream.NewClient(&cfg.Upstream, log)
	modelRegistry := registry.New(upstreamClient, cfg.Upstream.DefaultModels, log)

	// Initialize retrieval
	embedder := ranker.NewUpstreamEmbedder(upstreamClient, log)
	rk := ranker.New(cfg.Corpus.Dir, embedder, log)
	retriever, err := retrieval.New(&cfg.Retrieval, rk, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize retrieval")
	}
	log.WithField("mode", cfg.Retrieval.Mode).Info("Retrieval initialized")

	// Initialize cache
	responseCache := cache.NewResponseCache(&cfg.Cache, log)

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Warn("Failed to load message files, using built-in strings")
		localizer = i18n.Default()
	}

	// Initialize metrics
	metrics := middleware.NewMetrics()

	// Start metrics server if enabled
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Wire the orchestrator and handlers
	orch := orchestrator.New(
		cfg,
		upstreamClient,
		modelRegistry,
		retriever,
		responseCache,
		rateLimiter,
		metrics,
		localizer,
		log,
	)

	chatHandler := handlers.NewChatHandler(orch, localizer, metrics, log)

	router := mux.NewRouter()
	chatHandler.Routes(router)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		// The write timeout doubles as the ceiling on stream duration.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}

	log.Info("Gateway stopped")
}
