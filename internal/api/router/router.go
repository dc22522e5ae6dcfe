package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kestrelhealth/dentalbridge/internal/http/handlers"
	httpmiddleware "github.com/kestrelhealth/dentalbridge/internal/http/middleware"
	"github.com/kestrelhealth/dentalbridge/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Bridge         *handlers.BridgeHandler
	MetricsHandler http.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", cfg.Bridge.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/practices/{practiceID}", func(r chi.Router) {
		r.Post("/sync/{entity}", cfg.Bridge.Sync)
		r.Post("/tasks", cfg.Bridge.Dispatch)
		r.Get("/slots", cfg.Bridge.Slots)
		r.Get("/availability", cfg.Bridge.Availability)
	})

	return r
}
