// Package reaper provides the adapter that runs the retention sweep loop.
package reaper

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scenesmith/scenesmith/config"
	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/observability/statsd"
	"github.com/scenesmith/scenesmith/internal/service"
)

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Store     core.JobStore
	Artifacts core.ArtifactStore
	Config    config.ReaperConfig
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// Runner drives ReaperService.RunCleanup on a jittered ticker until its
// context is cancelled.
type Runner struct {
	reaper   *service.ReaperService
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Store:     opts.Store,
		Artifacts: opts.Artifacts,
		Config:    opts.Config,
		Logger:    logger,
		Metrics:   opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{
		reaper:   reaper,
		interval: opts.Config.Interval,
		logger:   logger.With("component", "reaper"),
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper", "interval", r.interval)

	// Jitter the first sweep so multiple instances do not sweep in lockstep.
	if !r.waitWithJitter(ctx) {
		return nil
	}

	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reaper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	stats, err := r.reaper.RunCleanup(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "cleanup sweep failed",
				"error", err, "reaped", stats.Reaped, "errors", stats.Errors)
		}
		return
	}
	if stats.Reaped > 0 {
		r.logger.InfoContext(ctx, "cleanup sweep finished",
			"reaped", stats.Reaped, "elapsed", stats.Elapsed)
	}
}

// waitWithJitter sleeps up to 10% of the interval. Returns false when the
// context was cancelled during the wait.
func (r *Runner) waitWithJitter(ctx context.Context) bool {
	maxJitter := int64(r.interval / 10)
	if maxJitter <= 0 {
		return ctx.Err() == nil
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup.
		r.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return ctx.Err() == nil
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter

	select {
	case <-time.After(jitter):
		return true
	case <-ctx.Done():
		return false
	}
}
