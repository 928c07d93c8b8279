package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/scenesmith/scenesmith/config"
	"github.com/scenesmith/scenesmith/internal/adapters/reaper"
)

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Storage  *StorageContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := config.ParseServices(cfg.Config.Services)
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if enabled[config.ServiceModePipeline] {
		g.Go(func() error {
			if err := cfg.Services.Scheduler.Run(ctx); err != nil {
				return fmt.Errorf("pipeline scheduler failed: %w", err)
			}
			return nil
		})
	}

	if enabled[config.ServiceModeReaper] {
		runner, err := reaper.NewRunner(reaper.RunnerOptions{
			Store:     cfg.Storage.Store,
			Artifacts: cfg.Storage.Artifacts,
			Config:    cfg.Config.Reaper,
			Logger:    logger,
			Metrics:   cfg.Services.Observability.MetricsSink,
		})
		if err != nil {
			return fmt.Errorf("create reaper runner: %w", err)
		}
		g.Go(func() error {
			if err := runner.Run(ctx); err != nil {
				return fmt.Errorf("reaper failed: %w", err)
			}
			return nil
		})
	}

	if enabled[config.ServiceModeHTTP] {
		server := NewHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		})
		g.Go(func() error {
			logger.InfoContext(ctx, "starting HTTP server", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return ShutdownHTTPServer(ctx, server, logger)
		})
	}

	logger.InfoContext(ctx, "services running", "enabled", GetEnabledServices(cfg.Config))
	return g.Wait()
}
