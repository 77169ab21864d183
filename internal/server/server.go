// Package server provides the HTTP API for kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/rag"
	"github.com/hyperjump/kotae/internal/scope"
)

// Answerer runs questions against a scope and keeps each scope's session.
type Answerer interface {
	Ask(ctx context.Context, scope, question string) (*rag.Turn, error)
	Session(scope string) (*rag.Session, error)
}

// Scopes exposes index state and forced rebuilds.
type Scopes interface {
	Rebuild(ctx context.Context, scope string) (*scope.Lease, error)
	Status() []scope.Status
}

// Server is the HTTP server for the kotae API.
type Server struct {
	engine    Answerer
	scopes    Scopes
	metrics   *metrics.Metrics
	config    *config.ServerConfig
	logger    *zap.Logger
	diskPaths []string
	server    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithDiskPaths lists files and directories whose size /api/v1/status reports.
func WithDiskPaths(paths ...string) Option {
	return func(s *Server) { s.diskPaths = paths }
}

// NewServer creates a server with the given dependencies.
func NewServer(engine Answerer, scopes Scopes, cfg *config.ServerConfig, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine: engine,
		scopes: scopes,
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Answer streams outlive the request timeout and must not be compressed.
	r.Post("/api/v1/scopes/{scope}/ask", s.handleAsk)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		r.Use(middleware.Compress(5))
		r.Get("/api/v1/scopes/{scope}/session", s.handleSession)
		r.Delete("/api/v1/scopes/{scope}/session", s.handleResetSession)
		r.Post("/api/v1/scopes/{scope}/rebuild", s.handleRebuild)
		r.Get("/api/v1/status", s.handleStatus)
		r.Get("/health", s.handleHealth)
	})
	r.Handle("/metrics", s.metrics.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
