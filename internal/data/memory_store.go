package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/domain/model"
	apperrors "github.com/scenesmith/scenesmith/internal/errors"
)

// MemoryJobStore implements core.JobStore with an in-process map.
//
// This is the default driver for single-node deployments. All methods are safe
// for concurrent use; records are deep-copied on the way in and out so callers
// never share memory with the store.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	tp   TimeProvider
}

// NewMemoryJobStore creates an empty MemoryJobStore.
func NewMemoryJobStore(tp TimeProvider) *MemoryJobStore {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &MemoryJobStore{jobs: make(map[string]*model.Job), tp: tp}
}

// Create persists a new job record.
func (s *MemoryJobStore) Create(_ context.Context, job *model.Job) error {
	if job.ID == "" {
		return apperrors.InvalidInput("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return apperrors.Conflictf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the job record.
func (s *MemoryJobStore) Get(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	return job.Clone(), nil
}

// List returns jobs ordered by creation time descending.
func (s *MemoryJobStore) List(_ context.Context, opts core.ListOptions) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if opts.State != "" && job.State != opts.State {
			continue
		}
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// ListByState returns jobs in the given state, oldest first.
func (s *MemoryJobStore) ListByState(_ context.Context, state model.JobState) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Job, 0)
	for _, job := range s.jobs {
		if job.State == state {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// StartStage transitions the job into the named stage.
func (s *MemoryJobStore) StartStage(_ context.Context, params core.StartStageParams) (*model.Job, error) {
	return s.mutate(params.JobID, func(job *model.Job) error {
		return applyStartStage(job, params)
	})
}

// CompleteStage records stage outputs and raises progress to the ceiling.
func (s *MemoryJobStore) CompleteStage(_ context.Context, params core.CompleteStageParams) (*model.Job, error) {
	return s.mutate(params.JobID, func(job *model.Job) error {
		return applyCompleteStage(job, params)
	})
}

// Complete transitions a running job to completed.
func (s *MemoryJobStore) Complete(_ context.Context, id string) (*model.Job, error) {
	return s.mutate(id, func(job *model.Job) error {
		return applyComplete(job, s.tp.Now())
	})
}

// Fail transitions a queued or running job to failed.
func (s *MemoryJobStore) Fail(_ context.Context, params core.FailParams) (*model.Job, error) {
	return s.mutate(params.JobID, func(job *model.Job) error {
		return applyFail(job, params, s.tp.Now())
	})
}

// ListTerminalBefore returns terminal jobs completed before cutoff.
func (s *MemoryJobStore) ListTerminalBefore(_ context.Context, cutoff time.Time) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Job, 0)
	for _, job := range s.jobs {
		if job.State.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(*out[j].CompletedAt)
	})
	return out, nil
}

// Delete removes a job record.
func (s *MemoryJobStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	return true, nil
}

func (s *MemoryJobStore) mutate(id string, fn func(*model.Job) error) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}
