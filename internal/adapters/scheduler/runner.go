// Package scheduler provides the bounded-concurrency pipeline runner.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/domain/model"
	"github.com/scenesmith/scenesmith/internal/domain/stage"
	apperrors "github.com/scenesmith/scenesmith/internal/errors"
	"github.com/scenesmith/scenesmith/internal/observability/metrics"
	"github.com/scenesmith/scenesmith/internal/observability/statsd"
)

// FailureCauseTimeout marks jobs failed by a stage or job deadline.
const FailureCauseTimeout = "timeout"

// FailureCauseInterrupted marks jobs orphaned by a process crash.
const FailureCauseInterrupted = "interrupted"

// RunnerOptions configures the pipeline scheduler.
type RunnerOptions struct {
	Store     core.JobStore
	Artifacts core.ArtifactStore
	Executor  core.StageExecutor

	// Stages is the ordered pipeline table; defaults to stage.Default().
	Stages stage.Table

	// Concurrency is the number of worker goroutines; defaults to 2.
	Concurrency int
	// QueueCapacity bounds how many admitted jobs may wait for a worker;
	// defaults to 32.
	QueueCapacity int
	// JobTimeout bounds a job's whole stage sequence; defaults to 25m.
	JobTimeout time.Duration

	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Runner executes admitted jobs through the stage sequence.
//
// Admission is a buffered channel of job IDs: Enqueue is non-blocking and a
// full channel means queue_full. Workers receive from the channel, so FIFO
// order holds and a finishing worker admits the next waiting job with no
// polling.
type Runner struct {
	store     core.JobStore
	artifacts core.ArtifactStore
	executor  core.StageExecutor
	stages    stage.Table
	queue     chan string

	workers    int
	jobTimeout time.Duration
	logger     *slog.Logger
	metrics    statsd.Sink
}

// NewRunner creates a pipeline scheduler from options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Store == nil {
		return nil, apperrors.InvalidInput("scheduler requires a job store")
	}
	if opts.Artifacts == nil {
		return nil, apperrors.InvalidInput("scheduler requires an artifact store")
	}
	if opts.Executor == nil {
		return nil, apperrors.InvalidInput("scheduler requires a stage executor")
	}

	stages := opts.Stages
	if stages == nil {
		stages = stage.Default()
	}
	if err := stages.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid stage table")
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = 2
	}
	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = 32
	}
	jobTimeout := opts.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 25 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		store:      opts.Store,
		artifacts:  opts.Artifacts,
		executor:   opts.Executor,
		stages:     stages,
		queue:      make(chan string, capacity),
		workers:    workers,
		jobTimeout: jobTimeout,
		logger:     logger.With("component", "scheduler"),
		metrics:    opts.Metrics,
	}, nil
}

// MustNewRunner creates a pipeline scheduler or panics. For use at startup.
func MustNewRunner(opts RunnerOptions) *Runner {
	r, err := NewRunner(opts)
	if err != nil {
		panic(err)
	}
	return r
}

// Enqueue admits a created job for execution without blocking. A full wait
// list yields a queue_full error and leaves no trace in the queue.
func (r *Runner) Enqueue(jobID string) error {
	select {
	case r.queue <- jobID:
		metrics.EmitQueueDepth(r.metrics, len(r.queue))
		return nil
	default:
		return apperrors.QueueFull("admission queue at capacity")
	}
}

// QueueDepth returns the number of jobs waiting for a worker.
func (r *Runner) QueueDepth() int {
	return len(r.queue)
}

// Stages returns the pipeline table the runner executes.
func (r *Runner) Stages() stage.Table {
	return r.stages
}

// Run recovers persisted queue state, then starts worker goroutines and
// processes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting pipeline scheduler",
		"workers", r.workers, "queue_capacity", cap(r.queue), "job_timeout", r.jobTimeout)

	if err := r.recoverPersisted(ctx); err != nil {
		return fmt.Errorf("recover persisted jobs: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			return r.workerLoop(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// recoverPersisted handles jobs left behind by a previous process: running
// jobs were orphaned mid-flight and are failed, queued jobs are re-admitted
// oldest first.
func (r *Runner) recoverPersisted(ctx context.Context) error {
	orphaned, err := r.store.ListByState(ctx, model.JobStateRunning)
	if err != nil {
		return err
	}
	for _, job := range orphaned {
		_, err := r.store.Fail(ctx, core.FailParams{
			JobID: job.ID, Stage: job.CurrentStage, Cause: FailureCauseInterrupted,
		})
		if err != nil {
			return err
		}
		r.logger.WarnContext(ctx, "failed orphaned running job", "job_id", job.ID, "stage", job.CurrentStage)
	}

	queued, err := r.store.ListByState(ctx, model.JobStateQueued)
	if err != nil {
		return err
	}
	for _, job := range queued {
		if enqErr := r.Enqueue(job.ID); enqErr != nil {
			// Re-admission overflow; the job cannot wait anywhere else.
			if _, failErr := r.store.Fail(ctx, core.FailParams{
				JobID: job.ID, Cause: "queue full during recovery",
			}); failErr != nil {
				return failErr
			}
			r.logger.WarnContext(ctx, "dropped queued job during recovery", "job_id", job.ID)
			continue
		}
		r.logger.InfoContext(ctx, "re-admitted queued job", "job_id", job.ID)
	}
	return nil
}

func (r *Runner) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case jobID := <-r.queue:
			metrics.EmitQueueDepth(r.metrics, len(r.queue))
			r.processJob(ctx, jobID)
		}
	}
}

// processJob runs the whole stage sequence for one job.
func (r *Runner) processJob(ctx context.Context, jobID string) {
	start := time.Now()
	logger := r.logger.With("job_id", jobID)

	job, err := r.store.Get(ctx, jobID)
	if err != nil {
		// Deleted while waiting in the queue.
		if apperrors.IsNotFound(err) {
			logger.InfoContext(ctx, "skipping dequeued job, record gone")
			return
		}
		logger.ErrorContext(ctx, "load dequeued job", "error", err)
		return
	}
	if job.State != model.JobStateQueued {
		logger.WarnContext(ctx, "skipping dequeued job in unexpected state", "state", job.State)
		return
	}

	workspace, err := r.artifacts.JobDir(jobID)
	if err != nil {
		r.failJob(ctx, jobID, "", fmt.Sprintf("prepare workspace: %v", err), start, err)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	prior := make(map[model.ArtifactKind]model.ArtifactRef)
	for _, desc := range r.stages {
		if ok := r.runStage(jobCtx, job, desc, workspace, prior); !ok {
			if ctx.Err() != nil {
				return
			}
			metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
				Transition: "failed", Result: metrics.ResultError, Duration: time.Since(start),
			})
			return
		}
	}

	if _, err := r.store.Complete(ctx, jobID); err != nil {
		logger.ErrorContext(ctx, "complete job", "error", err)
		return
	}
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		Transition: "completed", Result: metrics.ResultSuccess, Duration: time.Since(start),
	})
	logger.InfoContext(ctx, "job completed", "duration", time.Since(start))
}

// runStage executes one stage and records its result. Returns false when the
// job must stop, either failed or interrupted by shutdown.
func (r *Runner) runStage(
	jobCtx context.Context,
	job *model.Job,
	desc stage.Descriptor,
	workspace string,
	prior map[model.ArtifactKind]model.ArtifactRef,
) bool {
	logger := r.logger.With("job_id", job.ID, "stage", desc.Name)

	if _, err := r.store.StartStage(jobCtx, core.StartStageParams{
		JobID: job.ID, Stage: desc.Name, Floor: desc.Floor,
		Message: "running " + desc.Name,
	}); err != nil {
		logger.ErrorContext(jobCtx, "start stage", "error", err)
		return false
	}
	logger.InfoContext(jobCtx, "stage started", "progress", desc.Floor)

	stageCtx, cancel := context.WithTimeout(jobCtx, desc.Timeout)
	start := time.Now()
	outcome, err := r.executor.Execute(stageCtx, core.ExecuteRequest{
		JobID:        job.ID,
		Stage:        desc.Name,
		Workspace:    workspace,
		Inputs:       job.InputRefs,
		PriorOutputs: clonePrior(prior),
	})
	cancel()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Shutdown, not a job fault: leave the record running so
			// startup recovery marks it interrupted.
			logger.InfoContext(jobCtx, "stage interrupted by shutdown")
			return false
		}
		metrics.EmitStage(r.metrics, metrics.StageMetric{
			Stage: desc.Name, Result: metrics.ResultError, Duration: time.Since(start), Err: err,
		})
		cause := failureCause(err)
		r.failJob(jobCtx, job.ID, desc.Name, cause, start, err)
		logger.WarnContext(jobCtx, "stage failed", "cause", cause, "error", err)
		return false
	}

	metrics.EmitStage(r.metrics, metrics.StageMetric{
		Stage: desc.Name, Result: metrics.ResultSuccess, Duration: time.Since(start),
	})

	message := outcome.Message
	if message == "" {
		message = desc.Name + " completed"
	}
	if _, err := r.store.CompleteStage(jobCtx, core.CompleteStageParams{
		JobID: job.ID, Stage: desc.Name, Ceiling: desc.Ceiling,
		Message: message, Outputs: outcome.Outputs,
	}); err != nil {
		logger.ErrorContext(jobCtx, "complete stage", "error", err)
		r.failJob(jobCtx, job.ID, desc.Name, "record stage result: "+err.Error(), start, err)
		return false
	}
	for kind, ref := range outcome.Outputs {
		prior[kind] = ref
	}
	logger.InfoContext(jobCtx, "stage completed", "progress", desc.Ceiling, "duration", time.Since(start))
	return true
}

func (r *Runner) failJob(ctx context.Context, jobID, stageName, cause string, start time.Time, origErr error) {
	// Use a detached context so a blown job deadline cannot block the
	// failure record itself.
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if _, err := r.store.Fail(failCtx, core.FailParams{JobID: jobID, Stage: stageName, Cause: cause}); err != nil {
		r.logger.ErrorContext(failCtx, "fail job error",
			"job_id", jobID, "error", err, "original_error", origErr)
	}
}

// failureCause maps an executor error to the recorded cause string.
func failureCause(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || apperrors.IsTimeout(err) {
		return FailureCauseTimeout
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code == apperrors.ErrCodeStage {
		if appErr.Message != "" && appErr.Message != "stage execution failed" {
			return appErr.Message
		}
		if appErr.Cause != nil {
			return appErr.Cause.Error()
		}
	}
	return strings.TrimSpace(err.Error())
}

func clonePrior(src map[model.ArtifactKind]model.ArtifactRef) map[model.ArtifactKind]model.ArtifactRef {
	out := make(map[model.ArtifactKind]model.ArtifactRef, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
