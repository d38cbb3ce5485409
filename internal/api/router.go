// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/pagesync/internal/cursor"
	"github.com/tomtom215/pagesync/internal/pipeline"
	"github.com/tomtom215/pagesync/internal/scope"
)

// LockInspector reads lock ownership. *lock.Manager implements it.
type LockInspector interface {
	Owner(ctx context.Context, s scope.Scope) (scope.RunID, bool, error)
}

// CursorReader reads persisted cursors. *cursor.Store implements it.
type CursorReader interface {
	Get(ctx context.Context, s scope.Scope, runID scope.RunID, def cursor.Position) (cursor.Position, error)
}

// ResourceLister lists registered resource types. *pipeline.Registry implements it.
type ResourceLister interface {
	Resources() []string
}

// HealthCheck is one named dependency probe. A nil error means healthy.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the components the API reads from or drives.
type Deps struct {
	Firer     pipeline.Firer
	Locks     LockInspector
	Cursors   CursorReader
	Resources ResourceLister
	Checks    []HealthCheck

	// Ready is closed once continuation jobs can be consumed. Until then
	// manual triggers are refused with 503. Nil means always ready.
	Ready <-chan struct{}
}

// Handler serves the ops API.
type Handler struct {
	deps           Deps
	triggerTimeout time.Duration
	startTime      time.Time
}

// NewHandler creates a Handler. triggerTimeout bounds a manual trigger, which
// runs the first page step synchronously; zero means 5m.
func NewHandler(deps Deps, triggerTimeout time.Duration) *Handler {
	if triggerTimeout <= 0 {
		triggerTimeout = 5 * time.Minute
	}
	return &Handler{deps: deps, triggerTimeout: triggerTimeout, startTime: time.Now()}
}

// NewRouter builds the chi router with the middleware stack.
func NewRouter(h *Handler, rl RateLimitConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(AccessLog())
	r.Use(PrometheusMetrics())

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(rl))

		r.Get("/resources", h.ListResources)
		r.Post("/sync/{resource}", h.TriggerSync)
		r.Get("/locks/{resource}", h.GetLock)
		r.Get("/cursors/{resource}", h.GetCursor)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}

// NewServer wraps handler in an http.Server with conservative timeouts.
// writeTimeout must cover a manual trigger's first page.
func NewServer(addr string, handler http.Handler, writeTimeout time.Duration) *http.Server {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Minute
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
