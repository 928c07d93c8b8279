package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scenesmith/scenesmith/config"
	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/data"
	"github.com/scenesmith/scenesmith/internal/observability/metrics"
	"github.com/scenesmith/scenesmith/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Store     core.JobStore      // Required: job record store
	Artifacts core.ArtifactStore // Required: artifact byte store
	Config    config.ReaperConfig // Required: reaper configuration
	Logger    *slog.Logger       // Optional: structured logger
	Metrics   statsd.Sink        // Optional: metrics sink (StatsD-compatible)
	Time      data.TimeProvider  // Optional: time source, defaults to real time
}

// ReaperService deletes terminal jobs past their retention window.
//
// The job record goes first, atomically with respect to status polls, then the
// artifact tree. A poll racing the sweep therefore sees either the whole job
// or not_found, never a record pointing at missing files.
type ReaperService struct {
	store     core.JobStore
	artifacts core.ArtifactStore
	config    config.ReaperConfig
	logger    *slog.Logger
	metrics   statsd.Sink
	time      data.TimeProvider
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("ArtifactStore is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.Time
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	return &ReaperService{
		store:     opts.Store,
		artifacts: opts.Artifacts,
		config:    opts.Config,
		logger:    logger.With("component", "reaper_service"),
		metrics:   opts.Metrics,
		time:      tp,
	}, nil
}

// MustNewReaperService constructs a new ReaperService and panics on error.
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		panic(err)
	}
	return svc
}

// CleanupStats summarises one sweep.
type CleanupStats struct {
	Reaped  int
	Errors  int
	Elapsed time.Duration
}

// RunCleanup deletes expired terminal jobs, at most BatchSize per call.
func (s *ReaperService) RunCleanup(ctx context.Context) (CleanupStats, error) {
	start := s.time.Now()
	cutoff := start.Add(-s.config.TTL)
	stats := CleanupStats{}

	expired, err := s.store.ListTerminalBefore(ctx, cutoff)
	if err != nil {
		return stats, fmt.Errorf("list expired jobs: %w", err)
	}
	if len(expired) > s.config.BatchSize && s.config.BatchSize > 0 {
		expired = expired[:s.config.BatchSize]
	}

	var errs []error
	for _, job := range expired {
		if ctx.Err() != nil {
			break
		}
		if err := s.reapJob(ctx, job.ID); err != nil {
			stats.Errors++
			errs = append(errs, err)
			s.logger.ErrorContext(ctx, "reap job", "job_id", job.ID, "error", err)
			continue
		}
		stats.Reaped++
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: "reaped", Result: metrics.ResultSuccess,
		})
		s.logger.InfoContext(ctx, "job reaped", "job_id", job.ID, "completed_at", job.CompletedAt)
	}

	stats.Elapsed = time.Since(start)
	if len(errs) > 0 {
		return stats, fmt.Errorf("cleanup finished with %d failures: %w", stats.Errors, errors.Join(errs...))
	}
	return stats, nil
}

func (s *ReaperService) reapJob(ctx context.Context, id string) error {
	if _, err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if err := s.artifacts.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("delete artifacts: %w", err)
	}
	return nil
}
