// Package ops exposes health and metrics endpoints while a run is in
// flight. It is observability plumbing only; there is no operational UI.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/medflow-ops/claimbridge/internal/shared/metrics"
)

// HealthChecker reports readiness of a dependency.
type HealthChecker func(ctx context.Context) error

// Server is the ops HTTP listener.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// New builds the ops server. checks are named dependency probes run by
// /ready.
func New(addr string, checks map[string]HealthChecker, log *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		results := map[string]string{}
		for name, check := range checks {
			if err := check(req.Context()); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
			} else {
				results[name] = "ok"
			}
		}
		writeJSON(w, status, results)
	})

	r.Handle("/metrics", metrics.Handler())

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: r},
		log:        log,
	}
}

// Start serves in the background. Listener errors are logged, not fatal:
// the pipeline must not die because an ops port is taken.
func (s *Server) Start() {
	go func() {
		s.log.Info("ops listener started", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn("ops listener stopped", "error", err)
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("ops listener shutdown failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
