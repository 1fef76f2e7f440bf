// Package server exposes the trading cache over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/tradecache/pkg/cache"
	"github.com/Sternrassler/tradecache/pkg/invalidation"
	"github.com/Sternrassler/tradecache/pkg/monitoring"
	"github.com/Sternrassler/tradecache/pkg/ratelimit"
	"github.com/Sternrassler/tradecache/pkg/trading"
	"github.com/Sternrassler/tradecache/pkg/warming"
)

// Config holds HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds the cache work of a single request.
	RequestTimeout time.Duration

	Logger *zerolog.Logger
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Deps are the components served by the API. Limiter is optional.
type Deps struct {
	Cache   *cache.Manager
	Engine  *invalidation.Engine
	Monitor *monitoring.Monitor
	Trading *trading.Layer
	Warmer  *warming.Warmer
	Limiter *ratelimit.Limiter
}

// Server is the HTTP API of the cache service.
type Server struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
	router *mux.Router
	srv    *http.Server
}

// New builds the router and the underlying http.Server.
func New(deps Deps, cfg Config) (*Server, error) {
	if deps.Cache == nil || deps.Engine == nil || deps.Monitor == nil || deps.Trading == nil || deps.Warmer == nil {
		return nil, errors.New("server: cache, engine, monitor, trading layer and warmer are required")
	}

	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logger = log.With().Str("component", "server").Logger()
	}

	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		router: mux.NewRouter(),
	}
	s.routes()

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("HTTP server shutting down")
	return s.srv.Shutdown(ctx)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
}
