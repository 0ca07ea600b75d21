package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/hublink/internal/infrastructure/config"
	"github.com/nerrad567/hublink/internal/infrastructure/logging"
	"github.com/nerrad567/hublink/internal/ledger"
	"github.com/nerrad567/hublink/internal/transport"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// LedgerReader is the read side of the delivery ledger.
type LedgerReader interface {
	Delivery(ctx context.Context, messageID string) (*ledger.Delivery, error)
	Deliveries(ctx context.Context, filter ledger.Filter) ([]ledger.Delivery, error)
	ConnectionEvents(ctx context.Context, limit int) ([]ledger.ConnectionEvent, error)
	StatusCounts(ctx context.Context) (map[string]int, error)
}

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// Deps holds the dependencies of the API server.
type Deps struct {
	Config  config.APIConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger

	// Hub streams events to WebSocket clients. If nil, the server creates
	// one; it only receives events once registered as an observer.
	Hub *Hub

	// Ledger backs the delivery routes. Optional.
	Ledger LedgerReader

	// MetricsHandler serves the Prometheus registry. Optional.
	MetricsHandler http.Handler

	// Status reports the connection status. Optional.
	Status func() transport.ConnectionStatus

	// Checks are run by /health, by name. Optional.
	Checks map[string]HealthCheck

	Version string
}

// Server is the HTTP operations API.
type Server struct {
	cfg            config.APIConfig
	metrics        config.MetricsConfig
	logger         *logging.Logger
	hub            *Hub
	ledger         LedgerReader
	metricsHandler http.Handler
	status         func() transport.ConnectionStatus
	checks         map[string]HealthCheck
	version        string
	server         *http.Server

	mu   sync.RWMutex
	addr net.Addr
}

// New creates an API server. It does not listen until Run or Serve.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Metrics.Enabled && deps.MetricsHandler == nil {
		return nil, fmt.Errorf("metrics enabled without a metrics handler")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.Config.WebSocket, deps.Logger)
	}

	s := &Server{
		cfg:            deps.Config,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		hub:            hub,
		ledger:         deps.Ledger,
		metricsHandler: deps.MetricsHandler,
		status:         deps.Status,
		checks:         deps.Checks,
		version:        deps.Version,
	}
	s.server = &http.Server{
		Addr:              deps.Config.Listen,
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(deps.Config.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(deps.Config.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(deps.Config.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(deps.Config.Timeouts.Idle) * time.Second,
	}
	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the bound address once the server is listening.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Run listens on the configured address and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("api server failed to bind %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down gracefully and
// disconnects WebSocket clients. It returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("API server listening", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.hub.closeAll()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gracefulShutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	<-errCh
	s.hub.closeAll()
	if err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}
