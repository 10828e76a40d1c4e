// Package http hosts the API server: router construction, the middleware
// chain, and graceful lifecycle.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/driveport/api/internal/config"
	"github.com/driveport/api/pkg/logger"
)

// Server wraps the HTTP server with lifecycle management.
type Server struct {
	httpServer *http.Server
	config     *config.Config
	logger     *logger.Logger

	// cleanup functions run on shutdown, before the listener closes.
	cleanupFuncs []func()
}

// NewServer creates the HTTP server around a built router.
func NewServer(cfg *config.Config, handler http.Handler, log *logger.Logger, cleanup ...func()) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  time.Minute,
		},
		config:       cfg,
		logger:       log,
		cleanupFuncs: cleanup,
	}
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.config.Server.Addr())

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and runs cleanup functions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	for _, cleanup := range s.cleanupFuncs {
		cleanup()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
