// Package service provides the business logic layer for the scenesmith job system.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/data"
	"github.com/scenesmith/scenesmith/internal/domain/model"
	apperrors "github.com/scenesmith/scenesmith/internal/errors"
	"github.com/scenesmith/scenesmith/internal/observability/metrics"
	"github.com/scenesmith/scenesmith/internal/observability/statsd"
)

// Enqueuer admits created jobs to the pipeline scheduler.
type Enqueuer interface {
	Enqueue(jobID string) error
	QueueDepth() int
}

// Upload is one file received in a submission.
type Upload struct {
	Filename string
	Content  io.Reader
}

// SubmitRequest carries a validated submission into the job service.
type SubmitRequest struct {
	Floorplan *Upload
	Photos    []Upload
}

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Store     core.JobStore     // Required: job record store
	Artifacts core.ArtifactStore // Required: artifact byte store
	Queue     Enqueuer          // Required: pipeline admission queue
	Logger    *slog.Logger      // Optional: structured logger
	Metrics   statsd.Sink       // Optional: metrics sink (StatsD-compatible)
	Time      data.TimeProvider // Optional: time source, defaults to real time
	// NewID generates job identifiers; defaults to uuid.NewString.
	NewID func() string
}

// JobService provides business logic for job submission and lifecycle queries.
type JobService struct {
	store     core.JobStore
	artifacts core.ArtifactStore
	queue     Enqueuer
	logger    *slog.Logger
	metrics   statsd.Sink
	time      data.TimeProvider
	newID     func() string
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("ArtifactStore is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("Enqueuer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.Time
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &JobService{
		store:     opts.Store,
		artifacts: opts.Artifacts,
		queue:     opts.Queue,
		logger:    logger.With("component", "job_service"),
		metrics:   opts.Metrics,
		time:      tp,
		newID:     newID,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		panic(err)
	}
	return svc
}

// Submit validates a submission, stages its artifacts, creates the job record,
// and admits it to the pipeline.
//
// When the admission queue is full, every trace of the attempt is rolled back:
// the caller observes queue_full and no job record or artifacts remain. An
// admin listing racing the rollback may briefly observe the queued record
// before it is deleted; the ID never reaches the submitter, so nothing can
// act on it.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (*model.SubmitResult, error) {
	if req.Floorplan == nil || req.Floorplan.Content == nil {
		return nil, apperrors.InvalidInput("a floorplan file is required")
	}
	if len(req.Photos) == 0 {
		return nil, apperrors.InvalidInput("at least one photo is required")
	}

	id := s.newID()
	inputRefs, err := s.stageInputs(ctx, id, req)
	if err != nil {
		s.rollback(ctx, id, false)
		return nil, err
	}

	job := &model.Job{
		ID:        id,
		State:     model.JobStateQueued,
		Message:   "queued",
		InputRefs: inputRefs,
		CreatedAt: s.time.Now().UTC(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		// A failed Create may still have persisted a partial record, so the
		// rollback deletes it as well. Delete on a missing record is a no-op.
		s.rollback(ctx, id, true)
		return nil, fmt.Errorf("create job record: %w", err)
	}

	if err := s.queue.Enqueue(id); err != nil {
		s.rollback(ctx, id, true)
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: "submitted", Result: metrics.ResultError, Err: err,
		})
		return nil, err
	}

	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: "submitted", Result: metrics.ResultSuccess,
	})
	s.logger.InfoContext(ctx, "job submitted",
		"job_id", id, "photos", len(req.Photos), "queue_depth", s.queue.QueueDepth())

	return &model.SubmitResult{ID: id, State: model.JobStateQueued}, nil
}

// stageInputs writes the uploaded files into the artifact store.
func (s *JobService) stageInputs(ctx context.Context, id string, req SubmitRequest) ([]model.ArtifactRef, error) {
	refs := make([]model.ArtifactRef, 0, len(req.Photos)+1)

	floorplanRef := model.ArtifactRef{
		JobID:    id,
		Kind:     model.KindFloorplan,
		Filename: sanitizeFilename(req.Floorplan.Filename, "floorplan"),
	}
	if err := s.artifacts.Put(ctx, floorplanRef, req.Floorplan.Content); err != nil {
		return nil, fmt.Errorf("store floorplan: %w", err)
	}
	refs = append(refs, floorplanRef)

	for i, photo := range req.Photos {
		if photo.Content == nil {
			return nil, apperrors.InvalidInputf("photo %d has no content", i+1)
		}
		ref := model.ArtifactRef{
			JobID: id,
			Kind:  model.KindPhoto,
			// Index prefix keeps colliding upload names distinct.
			Filename: fmt.Sprintf("%02d_%s", i+1, sanitizeFilename(photo.Filename, "photo")),
		}
		if err := s.artifacts.Put(ctx, ref, photo.Content); err != nil {
			return nil, fmt.Errorf("store photo %d: %w", i+1, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// rollback removes the traces of a failed submission.
func (s *JobService) rollback(ctx context.Context, id string, recordCreated bool) {
	if recordCreated {
		if _, err := s.store.Delete(ctx, id); err != nil {
			s.logger.ErrorContext(ctx, "rollback job record", "job_id", id, "error", err)
		}
	}
	if err := s.artifacts.DeleteJob(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "rollback job artifacts", "job_id", id, "error", err)
	}
}

// Get returns the job record.
func (s *JobService) Get(ctx context.Context, id string) (*model.Job, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("job id is required")
	}
	return s.store.Get(ctx, id)
}

// List returns jobs ordered by creation time descending.
func (s *JobService) List(ctx context.Context, opts core.ListOptions) ([]*model.Job, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	return s.store.List(ctx, opts)
}

// Delete removes a terminal job and its artifacts. Active jobs cannot be
// deleted; clients must wait for a terminal state.
func (s *JobService) Delete(ctx context.Context, id string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.State.Terminal() {
		return apperrors.Conflictf("job %s is %s and cannot be deleted", id, job.State)
	}

	// Record first so concurrent polls flip to not_found before the files go.
	if _, err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete job record: %w", err)
	}
	if err := s.artifacts.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("delete job artifacts: %w", err)
	}
	s.logger.InfoContext(ctx, "job deleted", "job_id", id)
	return nil
}

// OpenArtifact streams a stored artifact for download. The kind must be one
// recorded on the job, so callers cannot probe arbitrary paths.
func (s *JobService) OpenArtifact(ctx context.Context, id string, kind model.ArtifactKind) (io.ReadCloser, *model.ArtifactRef, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if ref, ok := job.OutputRefs[kind]; ok {
		rc, err := s.artifacts.Open(ctx, ref)
		return rc, &ref, err
	}
	for _, ref := range job.InputRefs {
		if ref.Kind == kind {
			rc, err := s.artifacts.Open(ctx, ref)
			return rc, &ref, err
		}
	}
	return nil, nil, apperrors.NotFoundf("job %s has no %s artifact", id, kind)
}

// Stats summarises the store for health reporting.
type Stats struct {
	Known   int `json:"known"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

// Stats returns job counts for health reporting.
func (s *JobService) Stats(ctx context.Context) (*Stats, error) {
	all, err := s.store.List(ctx, core.ListOptions{})
	if err != nil {
		return nil, err
	}
	stats := &Stats{Known: len(all)}
	for _, job := range all {
		switch job.State {
		case model.JobStateQueued:
			stats.Queued++
		case model.JobStateRunning:
			stats.Running++
		}
	}
	return stats, nil
}

// sanitizeFilename strips any path components and falls back to a default
// base name when nothing safe remains.
func sanitizeFilename(name, fallback string) string {
	base := filepath.Base(strings.TrimSpace(name))
	base = strings.ReplaceAll(base, "..", "")
	if base == "" || base == "." || base == string(filepath.Separator) {
		return fallback
	}
	return base
}
