// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the HTTP control surface of the resilience engine.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/api/middleware"
	"github.com/ManuGH/streamkeeper/internal/engine"
	"github.com/ManuGH/streamkeeper/internal/health"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/resilience"
)

// Config controls the router.
type Config struct {
	// APIToken guards /api/v1 when set.
	APIToken string
	// RequestsPerMinute is the per-IP budget; 0 disables throttling.
	RequestsPerMinute int
	// TracingService enables otelhttp spans under this service name.
	TracingService string
}

// Server exposes the engine, its components and the health manager.
type Server struct {
	cfg      Config
	engine   *engine.Engine
	health   *health.Manager
	breakers *resilience.Registry
	metrics  http.Handler
	logger   zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithBreakers exposes the circuit breaker states under /api/v1/breakers.
func WithBreakers(r *resilience.Registry) Option {
	return func(s *Server) { s.breakers = r }
}

// WithMetricsHandler replaces the default Prometheus handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a Server. hm may be nil, in which case the health endpoints always succeed.
func New(cfg Config, eng *engine.Engine, hm *health.Manager, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  eng,
		health:  hm,
		metrics: promhttp.Handler(),
		logger:  xglog.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with the full middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.cfg.TracingService,
		EnableLogging:         true,
		RequestsPerMinute:     s.cfg.RequestsPerMinute,
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BearerToken(s.cfg.APIToken))

		r.Post("/resolve/{videoID}", s.handleResolve)
		r.Delete("/resolve/{videoID}", s.handleCancel)
		r.Delete("/resolve", s.handleCancelAll)
		r.Get("/resolver/stats", s.handleResolverStats)

		r.Post("/classify", s.handleClassify)
		r.Post("/failures", s.handleRecordFailure)
		r.Get("/failures", s.handleFailures)
		r.Delete("/failures", s.handleClearFailures)
		r.Get("/expiry/{videoID}", s.handleExpiry)

		r.Get("/ratelimit/{videoID}", s.handleRateLimit)
		r.Delete("/ratelimit/{videoID}", s.handleRateLimitReset)

		r.Get("/manifests", s.handleManifests)
		r.Get("/manifests/{videoID}.mpd", s.handleManifest)
		r.Delete("/manifests/{videoID}", s.handleManifestDelete)

		r.Post("/decide", s.handleDecide)

		r.Get("/degradation", s.handleBudgets)
		r.Get("/degradation/{videoID}", s.handleBudget)
		r.Delete("/degradation/{videoID}", s.handleBudgetReset)

		r.Get("/sessions", s.handleSessions)
		r.Get("/sessions/{id}", s.handleSession)
		r.Post("/sessions/{id}/retry", s.handleSessionRetry)
		r.Post("/sessions/{id}/refresh", s.handleSessionRefresh)
		r.Delete("/sessions/{id}", s.handleSessionClose)

		r.Get("/breakers", s.handleBreakers)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { writeNotFound(w) })
	return r
}
