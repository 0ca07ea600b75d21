package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/health", s.handleHealth)

	if s.metrics.Enabled {
		path := s.metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, s.metricsHandler)
	}

	wsPath := s.cfg.WebSocket.Path
	if wsPath == "" {
		wsPath = "/api/v1/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", s.handleListDeliveries)
			r.Get("/stats", s.handleDeliveryStats)
			r.Get("/{id}", s.handleGetDelivery)
		})

		r.Get("/connection/events", s.handleConnectionEvents)
	})

	return r
}
