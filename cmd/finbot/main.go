package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	fbhttp "github.com/finbot-ai/finbot/internal/adapter/http"
	fbnats "github.com/finbot-ai/finbot/internal/adapter/nats"
	"github.com/finbot-ai/finbot/internal/adapter/openai"
	fbotel "github.com/finbot-ai/finbot/internal/adapter/otel"
	"github.com/finbot-ai/finbot/internal/adapter/postgres"
	"github.com/finbot-ai/finbot/internal/adapter/ristretto"
	"github.com/finbot-ai/finbot/internal/config"
	"github.com/finbot-ai/finbot/internal/logger"
	"github.com/finbot-ai/finbot/internal/port/messagequeue"
	"github.com/finbot-ai/finbot/internal/port/reasoning"
	"github.com/finbot-ai/finbot/internal/resilience"
	"github.com/finbot-ai/finbot/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"reasoning_enabled", cfg.Reasoning.Enabled(),
	)

	ctx := context.Background()

	// --- Infrastructure ---

	shutdownTracer, err := fbotel.InitTracer(ctx, cfg.Logging.Service, cfg.Tracing.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	metrics, err := fbotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	var queue messagequeue.Queue
	natsQueue, err := fbnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, outcome events disabled", "error", err)
	} else {
		queue = natsQueue
		defer func() { _ = natsQueue.Close() }()
	}

	vendorCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer vendorCache.Close()

	// --- Reasoning backend ---

	var completer reasoning.Completer
	if cfg.Reasoning.Enabled() {
		client := openai.NewClient(openai.Options{
			BaseURL:     cfg.Reasoning.BaseURL,
			APIKey:      cfg.Reasoning.APIKey,
			Model:       cfg.Reasoning.Model,
			Temperature: cfg.Reasoning.Temperature,
			MaxTokens:   cfg.Reasoning.MaxTokens,
			Timeout:     cfg.Reasoning.Timeout,
		})
		client.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
		completer = client
		slog.Info("reasoning backend configured", "model", cfg.Reasoning.Model)
	} else {
		slog.Warn("no reasoning backend configured, all stages will use fallback rules")
	}

	// --- Services ---

	store := postgres.NewStore(pool)
	vendorSvc := service.NewVendorService(store, vendorCache, cfg.Cache.VendorTTL, log)
	invoiceSvc := service.NewInvoiceService(store, log)
	chainSvc := service.NewChainService(
		store,
		queue,
		service.NewValidatorAgent(store, vendorSvc, completer, log),
		service.NewRiskAnalyzerAgent(completer, log),
		service.NewApprovalAgent(store, completer, log),
		service.NewPaymentProcessorAgent(store, log),
		metrics,
		log,
	)

	handlers := &fbhttp.Handlers{
		Vendors:  vendorSvc,
		Invoices: invoiceSvc,
		Chain:    chainSvc,
	}

	// --- HTTP ---

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(fbotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(fbhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chimw.Timeout(60 * time.Second))

	r.Get("/health", healthHandler(cfg, queue, vendorCache))
	fbhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports service health and collaborator status.
func healthHandler(cfg *config.Config, queue messagequeue.Queue, vendorCache *ristretto.Cache) http.HandlerFunc {
	type healthStatus struct {
		Status    string          `json:"status"`
		NATS      string          `json:"nats"`
		Reasoning string          `json:"reasoning"`
		Cache     ristretto.Stats `json:"cache"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{Status: "ok", NATS: "disconnected", Reasoning: "fallback-only"}
		status.Cache = vendorCache.Stats()
		if queue != nil && queue.IsConnected() {
			status.NATS = "connected"
		}
		if cfg.Reasoning.Enabled() {
			status.Reasoning = cfg.Reasoning.Model
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
