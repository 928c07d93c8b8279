package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/scenesmith/scenesmith/config"
	"github.com/scenesmith/scenesmith/internal/adapters/scheduler"
	"github.com/scenesmith/scenesmith/internal/observability/statsd"
	"github.com/scenesmith/scenesmith/internal/service"
	"github.com/scenesmith/scenesmith/internal/stageexec"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobService
	Status        *service.StatusService
	Scheduler     *scheduler.Runner
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config  *config.AppConfig
	Storage *StorageContainer
	Logger  *slog.Logger
}

// NewServices builds the service graph from connected storage.
//
// The scheduler is always built, even in a reaper-only process, because the
// job service needs an admission queue. Whether it runs is decided by the
// enabled service modes.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observability := buildObservability(logger, deps.Config.Observability)

	executor, err := stageexec.NewScript(stageexec.ScriptOptions{
		Command: deps.Config.Pipeline.StageCommand,
		Args:    deps.Config.Pipeline.StageArgs,
		Logger:  logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("wire stage executor: %w", err)
	}

	sched, err := scheduler.NewRunner(scheduler.RunnerOptions{
		Store:         deps.Storage.Store,
		Artifacts:     deps.Storage.Artifacts,
		Executor:      executor,
		Concurrency:   deps.Config.Pipeline.MaxConcurrentJobs,
		QueueCapacity: deps.Config.Pipeline.QueueCapacity,
		JobTimeout:    deps.Config.Pipeline.JobTimeout,
		Logger:        logger,
		Metrics:       observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("wire pipeline scheduler: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Store:     deps.Storage.Store,
		Artifacts: deps.Storage.Artifacts,
		Queue:     sched,
		Logger:    logger,
		Metrics:   observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("wire job service: %w", err)
	}

	status, err := service.NewStatusService(service.StatusServiceOptions{
		Store: deps.Storage.Store,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("wire status service: %w", err)
	}

	return ServiceContainer{
		Jobs:          jobs,
		Status:        status,
		Scheduler:     sched,
		Observability: observability,
	}, nil
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	container := ObservabilityContainer{MetricsConfig: cfg.Metrics}
	if !cfg.Metrics.IsEnabled() {
		return container
	}

	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.Metrics.StatsdAddress,
		Prefix:  "scenesmith",
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		return container
	}
	container.MetricsSink = client
	return container
}
