// Package api serves the mailprobe HTTP API.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mailprobe/mailprobe/internal/config"
	"github.com/mailprobe/mailprobe/internal/finder"
	"github.com/mailprobe/mailprobe/internal/job"
	"github.com/mailprobe/mailprobe/internal/metrics"
	"github.com/mailprobe/mailprobe/internal/proxy"
	"github.com/mailprobe/mailprobe/internal/verifier"
)

// Prober verifies a single address
type Prober interface {
	Verify(ctx context.Context, email string, pxy *proxy.Config) verifier.Result
}

// Searcher discovers an address for a query
type Searcher interface {
	Find(ctx context.Context, q finder.Query, pxy *proxy.Config) finder.Result
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	registry   *job.Registry
	runner     *job.Runner
	prober     Prober
	searcher   Searcher
	config     *config.Config
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(registry *job.Registry, runner *job.Runner, prober Prober, searcher Searcher, cfg *config.Config, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		registry:  registry,
		runner:    runner,
		prober:    prober,
		searcher:  searcher,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/verify", s.handleVerify)
		r.Post("/find", s.handleFind)
		r.Post("/verify/bulk", s.handleVerifyBulk)
		r.Post("/find/bulk", s.handleFindBulk)
		r.Get("/jobs/{id}", s.handleJobProgress)
		r.Get("/jobs/{id}/results", s.handleJobResults)
		r.Get("/templates/{kind}", s.handleTemplate)
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.API.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.API.ReadTimeout,
		WriteTimeout: s.config.API.WriteTimeout,
		IdleTimeout:  s.config.API.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.API.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
