package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ssrf-beamline/fpsioc/internal/auth"
	"github.com/ssrf-beamline/fpsioc/internal/config"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Server represents the HTTP API server.
type Server struct {
	httpServer   *http.Server
	router       *mux.Router
	telemetry    TelemetryPort
	orchestrator OrchestratorPort
	auth         *auth.Middleware
	upgrader     websocket.Upgrader
	cfg          config.HTTPConfig
	logger       *slog.Logger
	startTime    time.Time
}

// NewServer creates the API server. authMiddleware may be nil, in which
// case no route is protected.
func NewServer(telemetry TelemetryPort, orchestrator OrchestratorPort, authMiddleware *auth.Middleware, cfg config.HTTPConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		telemetry:    telemetry,
		orchestrator: orchestrator,
		auth:         authMiddleware,
		cfg:          cfg,
		logger:       logger.With("component", "api"),
		startTime:    time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.router = mux.NewRouter()
	s.RegisterRoutes(s.router)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on the configured address until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.logger.Info("HTTP API listening", "addr", ln.Addr().String())

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
