// Package app wires the mailprobe components together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailprobe/mailprobe/internal/api"
	"github.com/mailprobe/mailprobe/internal/config"
	"github.com/mailprobe/mailprobe/internal/dns"
	"github.com/mailprobe/mailprobe/internal/finder"
	"github.com/mailprobe/mailprobe/internal/job"
	"github.com/mailprobe/mailprobe/internal/metrics"
	"github.com/mailprobe/mailprobe/internal/verifier"
)

// App is the main application
type App struct {
	config        *config.Config
	store         *job.Store
	registry      *job.Registry
	apiServer     *api.Server
	metricsServer *metrics.Server
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	store, err := job.NewStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	registry := job.NewRegistry(store, cfg.Jobs.Retention, cfg.Jobs.SweepInterval,
		logger.With("component", "registry"))

	resolver := dns.NewResolver(cfg.Verifier.CacheTTL)

	prober := verifier.New(resolver, verifier.Config{
		HeloDomain:    cfg.Verifier.HeloDomain,
		MailFrom:      cfg.Verifier.MailFrom,
		Timeout:       cfg.Verifier.Timeout,
		CacheTTL:      cfg.Verifier.CacheTTL,
		CatchAllCheck: cfg.Verifier.CatchAllCheck,
	}, logger.With("component", "verifier"))

	searcher := finder.New(prober, logger.With("component", "finder"))

	runner := job.NewRunner(registry, prober, searcher, job.RunnerConfig{
		Workers:    cfg.Jobs.Workers,
		RowTimeout: cfg.Jobs.RowTimeout,
	}, logger.With("component", "runner"))

	apiServer := api.NewServer(registry, runner, prober, searcher, cfg,
		logger.With("component", "api"))

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			logger.With("component", "metrics"))
	}

	return &App{
		config:        cfg,
		store:         store,
		registry:      registry,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting mailprobe",
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"workers", a.config.Jobs.Workers,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.registry.StartSweeper()

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	a.registry.Stop()

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
