package service

import (
	"context"
	"errors"

	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/domain/model"
)

// StatusServiceOptions groups dependencies for StatusService.
type StatusServiceOptions struct {
	Store core.JobStore // Required: job record store
}

// StatusService projects job records into the externally observable status
// shape. It performs no recomputation: progress, stage, and message are passed
// through verbatim from the record.
type StatusService struct {
	store core.JobStore
}

// NewStatusService constructs a new StatusService.
func NewStatusService(opts StatusServiceOptions) (*StatusService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	return &StatusService{store: opts.Store}, nil
}

// MustNewStatusService constructs a new StatusService and panics on error.
func MustNewStatusService(opts StatusServiceOptions) *StatusService {
	svc, err := NewStatusService(opts)
	if err != nil {
		panic(err)
	}
	return svc
}

// Status returns the status projection for a job, or not_found when the job
// never existed or has already been reaped. The two cases are deliberately
// indistinguishable.
func (s *StatusService) Status(ctx context.Context, id string) (*model.Status, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return Project(job), nil
}

// Project maps a job record to its status projection.
//
// Outputs appear only once the job completed, and list only deliverable kinds;
// intermediate stage outputs stay internal. The error detail appears only on
// failed jobs.
func Project(job *model.Job) *model.Status {
	status := &model.Status{
		ID:           job.ID,
		State:        job.State,
		CurrentStage: job.CurrentStage,
		Progress:     job.Progress,
		Message:      job.Message,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}

	if job.State == model.JobStateCompleted {
		outputs := make(map[model.ArtifactKind]model.ArtifactRef)
		for _, kind := range model.DeliverableKinds() {
			if ref, ok := job.OutputRefs[kind]; ok {
				outputs[kind] = ref
			}
		}
		if len(outputs) > 0 {
			status.Outputs = outputs
		}
	}
	if job.State == model.JobStateFailed && job.Error != nil {
		e := *job.Error
		status.Error = &e
	}
	return status
}
