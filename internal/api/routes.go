// Package api assembles the HTTP router.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/matiasleandrokruk/lightspeed/internal/api/handlers"
	"github.com/matiasleandrokruk/lightspeed/internal/api/middleware"
	"github.com/matiasleandrokruk/lightspeed/internal/domain/assistant"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

const maxRequestBytes = 1 << 20

// Deps are the collaborators the router serves. Querier and Models are
// required; the rest may be nil.
type Deps struct {
	Querier       handlers.Querier
	Models        assistant.ModelLoader
	Index         handlers.IndexState
	Authenticator middleware.Authenticator
	REST          middleware.RESTRecorder
	Metrics       http.Handler
	Logger        *slog.Logger
}

// NewRouter creates and configures the chi router with all routes.
func NewRouter(cfg config.ServiceConfig, deps Deps) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.AccessMiddleware(logger, deps.REST))
	r.Use(chimw.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", "X-DAB-JW-TOKEN"},
			ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
			MaxAge:         300,
		}))
	}

	health := handlers.NewHealthHandler(deps.Index, deps.Models)
	r.Get("/readiness", health.Readiness)
	r.Get("/liveness", health.Liveness)

	metricsHandler := deps.Metrics
	if metricsHandler == nil {
		metricsHandler = http.NotFoundHandler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	query := handlers.NewQueryHandler(deps.Querier, logger)
	r.Route("/v1", func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
		}
		r.Use(chimw.RequestSize(maxRequestBytes))
		r.Use(middleware.AuthMiddleware(deps.Authenticator, logger))

		r.Post("/query", query.Query)
	})

	return r
}
