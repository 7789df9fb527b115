package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lazypower/ember/internal/engine"
)

// Server is the ember HTTP API server.
type Server struct {
	engine   *engine.Engine
	router   chi.Router
	validate *validator.Validate
	version  string
	started  time.Time
}

// New creates a new Server over the given engine and version string.
func New(e *engine.Engine, version string) *Server {
	s := &Server{
		engine:   e,
		validate: validator.New(),
		version:  version,
		started:  time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/search", s.handleSearch)

		r.Post("/memories", s.handleAddMemory)
		r.Get("/memories/{id}", s.handleGetMemory)
		r.Post("/memories/{id}/pin", s.handlePin)
		r.Delete("/memories/{id}/pin", s.handleUnpin)
		r.Post("/memories/{id}/access", s.handleAccess)
		r.Post("/memories/{id}/mention", s.handleMention)

		r.Get("/hot", s.handleHot)
		r.Get("/cold", s.handleCold)
		r.Get("/stats", s.handleStats)

		r.Post("/maintenance/decay", s.handleDecay)
		r.Post("/maintenance/backfill", s.handleBackfill)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.engine.DB.PingContext(r.Context()); err != nil {
		dbOK = false
	}
	schema, err := s.engine.DB.SchemaVersion()
	if err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime":         time.Since(s.started).Seconds(),
		"db":             dbOK,
		"db_path":        s.engine.DB.Path,
		"schema_version": schema,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an engine error kind to its HTTP status.
func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindInvalidArgument:
		return http.StatusBadRequest
	case engine.KindPartialFailure:
		return http.StatusMultiStatus
	default:
		return http.StatusServiceUnavailable
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := engine.KindOf(err)
	if kind == "" {
		kind = engine.KindUpstreamUnavailable
	}
	status := statusFor(kind)
	if status == http.StatusServiceUnavailable {
		slog.Warn("request failed", "kind", kind, "error", err)
	}

	body := map[string]any{"error": err.Error(), "kind": kind}
	var ee *engine.Error
	if errors.As(err, &ee) && len(ee.Failures) > 0 {
		body["failures"] = ee.Failures
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": msg,
		"kind":  engine.KindInvalidArgument,
	})
}
