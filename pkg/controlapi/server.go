// Package controlapi is a thin HTTP facade over orchestrator.Coordinator:
// every handler here is a direct translation of a Control API operation
// (§6.1) to a REST verb. The Coordinator's Go methods remain the
// authoritative API; nothing in this package carries domain logic.
package controlapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cuemby/swarmd/pkg/coordserver"
	"github.com/cuemby/swarmd/pkg/metrics"
	"github.com/cuemby/swarmd/pkg/orchestrator"
)

// Server wraps an http.Server exposing the Control API, the worker
// protocol's websocket upgrade endpoint, and the Prometheus scrape
// endpoint on one mux.
type Server struct {
	http *http.Server
}

// NewServer builds the chi router and wraps it in an http.Server bound to
// addr. hub serves the worker protocol's websocket upgrade at /ws.
func NewServer(addr string, coord *orchestrator.Coordinator, hub *coordserver.Hub) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	h := &handler{coord: coord}

	r.Route("/agents", func(r chi.Router) {
		r.Get("/", h.listAgents)
		r.Post("/", h.spawnAgent)
		r.Get("/{id}", h.getAgent)
		r.Delete("/{id}", h.terminateAgent)
	})
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", h.listTasks)
		r.Post("/", h.submitTask)
		r.Get("/{id}", h.getTask)
		r.Delete("/{id}", h.cancelTask)
	})
	r.Get("/swarm", h.swarmMetrics)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Handle("/ws", hub)

	return &Server{
		http: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second, // the websocket upgrade outlives this on the hijacked conn
			IdleTimeout:  60 * time.Second,
		},
	}
}

// ListenAndServe blocks serving the Control API until the server is shut
// down or a fatal error occurs.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
