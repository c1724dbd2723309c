// Package api provides the HTTP surface of the review workflow service.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/reviewflow/reviewflow/internal/api/handlers"
	"github.com/reviewflow/reviewflow/internal/api/handlers/webhooks"
	"github.com/reviewflow/reviewflow/pkg/logging"
)

// RouterConfig holds the optional pieces of the router.
type RouterConfig struct {
	WebhookHandler *webhooks.Handler
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// NewRouter creates the chi router with middleware and all routes.
func NewRouter(h *handlers.Handler, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if cfg.Logger != nil {
		r.Use(logging.RequestLogger(cfg.Logger))
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/healthz", func(r chi.Router) {
		r.Get("/", h.Health)
		r.Get("/live", h.Live)
		r.Get("/ready", h.Ready)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scans", h.ScanComplete)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Get("/{id}", h.GetRun)
		})
	})

	if cfg.WebhookHandler != nil {
		cfg.WebhookHandler.RegisterRoutes(r)
	}
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	return r
}
