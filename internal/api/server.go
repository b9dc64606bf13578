// Package api exposes a read-only HTTP surface for monitoring scans:
// live progress, scan history, per-scan snapshots, and Prometheus
// metrics. All mutation happens through the CLI.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drinkits/attachment-architect/internal/scan"
	"github.com/drinkits/attachment-architect/internal/scheduler"
	"github.com/drinkits/attachment-architect/internal/store"
)

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires all routes and returns a Server ready to Run. progress may be
// nil when no scan runs in this process, sched may be nil when no cleanup
// is scheduled, and registry may be nil to skip the /metrics endpoint.
func New(addr string, st *store.Store, progress *scan.Progress, sched *scheduler.Scheduler, registry *prometheus.Registry, version string) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &statusHandler{progress: progress, sched: sched, version: version}
	scansH := &scansHandler{store: st}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)
		r.Get("/scans", scansH.List)
		r.Get("/scans/{id}", scansH.Get)
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: r},
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
