package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModePipeline runs the pipeline scheduler workers.
	ServiceModePipeline ServiceMode = "pipeline"
	// ServiceModeReaper runs the retention reaper for cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModePipeline, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModePipeline, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, pipeline, reaper)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// PipelineConfig contains pipeline scheduler configuration.
type PipelineConfig struct {
	// MaxConcurrentJobs is the number of jobs the scheduler runs in parallel.
	MaxConcurrentJobs int `env:"PIPELINE_MAX_CONCURRENT_JOBS" envDefault:"2"`

	// QueueCapacity is the number of admitted jobs that may wait for a worker.
	// Submissions beyond this are rejected as queue_full.
	QueueCapacity int `env:"PIPELINE_QUEUE_CAPACITY" envDefault:"32"`

	// JobTimeout bounds a job's whole stage sequence.
	JobTimeout time.Duration `env:"PIPELINE_JOB_TIMEOUT" envDefault:"25m"`

	// StageCommand is the program invoked once per pipeline stage.
	StageCommand string `env:"PIPELINE_STAGE_COMMAND" envDefault:"scenesmith-stage"`

	// StageArgs are fixed arguments passed to the stage command.
	StageArgs []string `env:"PIPELINE_STAGE_ARGS" envSeparator:" "`
}

// Sanitize applies guardrails to pipeline configuration values.
func (p *PipelineConfig) Sanitize() {
	if p.MaxConcurrentJobs < 1 {
		p.MaxConcurrentJobs = 1
	}
	if p.MaxConcurrentJobs > 64 {
		p.MaxConcurrentJobs = 64
	}
	if p.QueueCapacity < 1 {
		p.QueueCapacity = 1
	}
	if p.QueueCapacity > 10000 {
		p.QueueCapacity = 10000
	}
	if p.JobTimeout < time.Minute {
		p.JobTimeout = time.Minute
	}
}

// ReaperConfig contains retention reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// TTL is how long terminal jobs and their artifacts are retained after
	// completion before deletion.
	TTL time.Duration `env:"REAPER_TTL" envDefault:"24h"`

	// BatchSize is the maximum number of jobs to reap per tick.
	// Batching prevents I/O spikes when a backlog has accumulated.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive store load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.TTL < 1*time.Hour {
		r.TTL = 1 * time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
