package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelhealth/dentalbridge/internal/api/router"
	appconfig "github.com/kestrelhealth/dentalbridge/internal/config"
	"github.com/kestrelhealth/dentalbridge/internal/http/handlers"
	"github.com/kestrelhealth/dentalbridge/internal/observability/metrics"
	"github.com/kestrelhealth/dentalbridge/internal/practice"
	"github.com/kestrelhealth/dentalbridge/internal/syncer"
	"github.com/kestrelhealth/dentalbridge/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dentalbridge API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	entries, err := practice.ParseDirectory(cfg.PracticesJSON)
	if err != nil {
		logger.Error("failed to load practice directory", "error", err)
		os.Exit(1)
	}

	bridgeMetrics := metrics.NewBridgeMetrics(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database and sync store are optional: without DATABASE_URL the bridge
	// still dispatches tasks and answers availability queries.
	var store syncer.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = syncer.NewPostgresStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, bulk sync disabled")
	}

	registry, err := practice.NewRegistry(practice.RegistryConfig{
		Entries:        entries,
		BaseURL:        cfg.OpenDentalBaseURL,
		RequestTimeout: cfg.RequestTimeout,
		MinInterval:    cfg.RequestInterval,
		MaxRetries:     cfg.MaxRetries,
		BackoffBase:    cfg.BackoffBase,
		Jitter:         cfg.RetryJitter,
		CooldownWindow: cfg.CooldownWindow,
		SyncPageSize:   cfg.SyncPageSize,
		Store:          store,
		Logger:         logger,
		Metrics:        bridgeMetrics,
	})
	if err != nil {
		logger.Error("failed to build practice registry", "error", err)
		os.Exit(1)
	}

	// Periodic background sync across all configured practices.
	if store != nil && cfg.SyncEnabled {
		syncers := make(map[string]*syncer.Syncer)
		for _, id := range registry.Practices() {
			rt, err := registry.Runtime(id)
			if err != nil {
				logger.Error("failed to build practice runtime", "practice", id, "error", err)
				os.Exit(1)
			}
			syncers[id] = rt.Syncer()
		}
		svc, err := syncer.NewService(syncer.ServiceConfig{
			Syncers:    syncers,
			Interval:   cfg.SyncInterval,
			WindowDays: cfg.SyncWindowDays,
			Logger:     logger,
		})
		if err != nil {
			logger.Error("failed to build sync service", "error", err)
			os.Exit(1)
		}
		go svc.Start(ctx)
	}

	// Setup router
	r := router.New(&router.Config{
		Logger:         logger,
		Bridge:         handlers.NewBridgeHandler(registry, logger),
		MetricsHandler: promhttp.Handler(),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
