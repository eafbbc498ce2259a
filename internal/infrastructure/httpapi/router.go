// Package httpapi exposes the continuity engine over HTTP.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ersonp/continuity/internal/application/handlers"
	"github.com/ersonp/continuity/internal/domain/services"
)

// maxBodyBytes bounds request bodies; chapter texts and story bibles fit.
const maxBodyBytes = 16 << 20

// API serves the engine operations of every book.
type API struct {
	engine  *services.Engine
	imports *handlers.ImportHandler
	queries *handlers.QueryHandler
	logger  *slog.Logger
}

// NewRouter builds the HTTP handler. gatherer backs /metrics and may be nil.
func NewRouter(engine *services.Engine, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	api := &API{
		engine:  engine,
		imports: handlers.NewImportHandler(engine),
		queries: handlers.NewQueryHandler(engine),
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/books/{bookID}", func(r chi.Router) {
		r.Post("/scan", api.startScan)
		r.Get("/scan", api.scanStatus)
		r.Delete("/scan", api.cancelScan)

		r.Get("/facts", api.facts)
		r.Get("/search", api.search)
		r.Get("/events", api.events)
		r.Get("/analysis", api.analysis)
		r.Get("/audit/{targetID}", api.audit)

		r.Post("/check", api.check)
		r.Post("/sessions/{sessionID}/edits", api.submitEdit)
		r.Get("/sessions/{sessionID}", api.sessionStatus)

		r.Get("/issues", api.issues)
		r.Route("/issues/{issueID}", func(r chi.Router) {
			r.Get("/", api.issue)
			r.Post("/resolve", api.resolveIssue)
			r.Post("/acknowledge", api.transitionIssue(api.engine.AcknowledgeIssue))
			r.Post("/dismiss", api.transitionIssue(api.engine.DismissIssue))
			r.Post("/reopen", api.transitionIssue(api.engine.ReopenIssue))
		})

		r.Post("/aliases", api.registerAlias)
		r.Post("/import", api.importFacts)
	})

	return r
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
