package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/artpar/stackship/internal/shell/api"
	"github.com/artpar/stackship/internal/shell/store"
)

// =============================================================================
// Server
// =============================================================================

// Server serves the run ledger over HTTP.
type Server struct {
	config     *Config
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a ledger server over s.
func NewServer(cfg *Config, s store.Store, logger *slog.Logger) *Server {
	handler := api.NewHandler(s, logger)
	return &Server{
		config: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		logger: logger,
	}
}

// Start listens and blocks until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return &ServerError{Op: "Listen", Err: err}
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return &ServerError{Op: "Serve", Err: err}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op  string
	Err error
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
