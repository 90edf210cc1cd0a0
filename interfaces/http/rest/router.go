// Package rest exposes the undo/redo stack over HTTP.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/framefield/tooll-sub003/application/history"
	"github.com/framefield/tooll-sub003/pkg/errors"
	"github.com/framefield/tooll-sub003/pkg/observability"
)

// Router wires the HTTP routes onto a history stack.
type Router struct {
	stack        *history.Stack
	logger       *zap.Logger
	errorHandler *errors.ErrorHandler
	metrics      *observability.Collector
	metricsPath  string
}

// NewRouter creates a router. A nil collector disables the metrics route.
func NewRouter(stack *history.Stack, logger *zap.Logger, errorHandler *errors.ErrorHandler, metrics *observability.Collector, metricsPath string) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	return &Router{
		stack:        stack,
		logger:       logger,
		errorHandler: errorHandler,
		metrics:      metrics,
		metricsPath:  metricsPath,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(rt.errorHandler.Middleware)
	router.Use(Tracing(observability.Tracer()))
	router.Use(Logger(rt.logger))
	if rt.metrics != nil {
		router.Use(Metrics(rt.metrics))
		router.Method(http.MethodGet, rt.metricsPath, rt.metrics.Handler())
	}

	router.Get("/health", rt.healthCheck)

	h := NewHistoryHandler(rt.stack, rt.logger, rt.errorHandler)
	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/history", func(r chi.Router) {
			r.Get("/", h.GetHistory)
			r.Delete("/", h.ClearHistory)
			r.Post("/undo", h.Undo)
			r.Post("/redo", h.Redo)
		})
		r.Get("/commands", h.ListOperations)
		r.Post("/commands", h.ExecuteCommand)
		r.Get("/graph", h.GetGraph)
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, rt.logger, http.StatusOK, map[string]string{"status": "healthy"})
}
