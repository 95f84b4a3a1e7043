package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jfenner/hirewell/internal"
	"github.com/jfenner/hirewell/internal/billing"
	"github.com/jfenner/hirewell/internal/handler"
	"github.com/jfenner/hirewell/internal/metrics"
	"github.com/jfenner/hirewell/internal/middleware"
	"github.com/jfenner/hirewell/internal/sequence"
	"github.com/jfenner/hirewell/internal/service"
	"github.com/jfenner/hirewell/internal/store"
	"github.com/jfenner/hirewell/internal/sweeper"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Run migrations over a short-lived database/sql connection
	migrateDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if err := internal.RunMigrations(migrateDB); err != nil {
		migrateDB.Close()
		return fmt.Errorf("migration failed: %w", err)
	}
	migrateDB.Close()

	// Initialize the store
	st, err := store.ConnectPostgres(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("store initialization failed: %w", err)
	}
	defer st.Close()
	logger.Info("Database ready")

	// Initialize services
	allocator := sequence.New(st, logger)
	quotaService := service.NewQuotaService(st, logger)
	billingService := service.NewBillingService(st, allocator, logger)

	// Payment gateway (optional in development)
	var gateway billing.Gateway
	if cfg.StripeSecretKey != "" {
		gateway = billing.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			StandardPriceID: cfg.StripeStandardPriceID,
			PremiumPriceID:  cfg.StripePremiumPriceID,
		})
		logger.Info("Stripe gateway configured")
	} else {
		logger.Warn("Stripe not configured, webhook events will be acknowledged only")
	}

	// Batch window-reset sweeper
	var sw *sweeper.Sweeper
	if cfg.SweeperEnabled {
		sw, err = sweeper.New(st, sweeper.Config{
			Interval:        cfg.SweeperInterval,
			BatchSize:       int32(cfg.SweeperBatchSize),
			ShutdownTimeout: 30 * time.Second,
		}, logger)
		if err != nil {
			return fmt.Errorf("sweeper initialization failed: %w", err)
		}
		sw.Start(ctx)
	}

	// Initialize handlers
	quotaHandler := handler.NewQuotaHandler(quotaService, st, logger)
	billingHandler := handler.NewBillingHandler(billingService, gateway, cfg.BaseURL, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Healthcheck(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics (basic auth when configured)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	quotaHandler.RegisterRoutes(mux)
	billingHandler.RegisterRoutes(mux)

	// Middleware stack for every route
	logging := middleware.NewRequestLoggingMiddleware(logger)
	root := middleware.Stack(metrics.Middleware, logging.Handler)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	if sw != nil {
		sw.Stop()
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
