package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mahakalaqua/visitor-tracker/internal/infrastructure/config"
)

// Server is the HTTP facade the site's UI components talk to
type Server struct {
	httpServer *http.Server
	cfg        config.ServerConfig
}

// NewServer builds the server with the standard middleware chain
func NewServer(cfg config.ServerConfig, security config.SecurityConfig, handler *Handler) *Server {
	mux := http.NewServeMux()
	handler.Register(mux)

	limiter := newIPRateLimiter(
		security.RateLimit.RequestsPerSecond,
		security.RateLimit.BurstSize,
	)

	root := chain(mux,
		recoveryMiddleware,
		loggingMiddleware,
		corsMiddleware,
		rateLimitMiddleware(limiter),
	)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		cfg: cfg,
	}
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
