// Package server owns the HTTP listener lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

// Config holds HTTP server configuration.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns default HTTP server configuration. WriteTimeout
// covers a classifier call plus a generation call at the default LLM timeout.
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ConfigFrom applies the service section and the LLM timeout over DefaultConfig.
func ConfigFrom(cfg config.Config) Config {
	c := DefaultConfig()
	if cfg.Service.Host != "" {
		c.Host = cfg.Service.Host
	}
	if cfg.Service.Port > 0 {
		c.Port = cfg.Service.Port
	}
	if llm := time.Duration(cfg.OLSConfig.LLMTimeoutSeconds) * time.Second; 2*llm+30*time.Second > c.WriteTimeout {
		c.WriteTimeout = 2*llm + 30*time.Second
	}
	return c
}

// Closer releases one resource on shutdown.
type Closer func(ctx context.Context) error

// Server wraps the HTTP server and the resources it must release.
type Server struct {
	config  Config
	http    *http.Server
	logger  *slog.Logger
	closers []Closer
}

// NewServer creates a new HTTP server for handler. closers run in order
// after the listener has drained.
func NewServer(handler http.Handler, config Config, logger *slog.Logger, closers ...Closer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	return &Server{
		config:  config,
		http:    httpServer,
		logger:  logger.With(slog.String("component", "server")),
		closers: closers,
	}
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Start serves until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Start(ctx context.Context) error {
	s.http.BaseContext = func(net.Listener) context.Context { return ctx }
	s.logger.Info("starting HTTP server", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains the listener, then runs every closer. All closer errors
// are reported.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}
	for _, c := range s.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("server shutdown complete")
	return nil
}
