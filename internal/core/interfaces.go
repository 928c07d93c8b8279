// Package core defines the ports between the service layer and the adapters.
package core

import (
	"context"
	"io"
	"time"

	"github.com/scenesmith/scenesmith/internal/domain/model"
)

// This file contains the port interfaces (hexagonal architecture). Services and
// runners depend on these contracts, never on concrete store or executor types.

// StartStageParams groups parameters for JobStore.StartStage (≤3 params rule).
type StartStageParams struct {
	JobID   string
	Stage   string
	Floor   int
	Message string
}

// CompleteStageParams groups parameters for JobStore.CompleteStage.
type CompleteStageParams struct {
	JobID   string
	Stage   string
	Ceiling int
	Message string
	Outputs map[model.ArtifactKind]model.ArtifactRef
}

// FailParams groups parameters for JobStore.Fail.
type FailParams struct {
	JobID string
	Stage string
	Cause string
}

// ListOptions filters and bounds JobStore.List results.
type ListOptions struct {
	Limit int
	State model.JobState // zero value means no state filter
}

// JobStore defines the interface for job record persistence.
//
// Implementations enforce the lifecycle invariants: only legal state
// transitions, monotonically non-decreasing progress, write-once output kinds,
// and immutability of terminal records (apart from Delete).
type JobStore interface {
	// Create persists a new queued job. Fails with a conflict error if the ID exists.
	Create(ctx context.Context, job *model.Job) error
	// Get returns the job or a not_found error.
	Get(ctx context.Context, id string) (*model.Job, error)
	// List returns jobs ordered by creation time descending.
	List(ctx context.Context, opts ListOptions) ([]*model.Job, error)
	// ListByState returns all jobs in the given state, oldest first.
	ListByState(ctx context.Context, state model.JobState) ([]*model.Job, error)
	// StartStage transitions a queued or running job into the named stage,
	// raising progress to the stage floor.
	StartStage(ctx context.Context, params StartStageParams) (*model.Job, error)
	// CompleteStage records a stage's outputs and raises progress to the ceiling.
	CompleteStage(ctx context.Context, params CompleteStageParams) (*model.Job, error)
	// Complete transitions a running job to completed and stamps CompletedAt.
	Complete(ctx context.Context, id string) (*model.Job, error)
	// Fail transitions a queued or running job to failed with a structured cause.
	Fail(ctx context.Context, params FailParams) (*model.Job, error)
	// ListTerminalBefore returns terminal jobs whose CompletedAt is before cutoff.
	ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]*model.Job, error)
	// Delete removes a job record. Returns false if the job was not present.
	Delete(ctx context.Context, id string) (bool, error)
}

// ArtifactStore defines the interface for artifact byte storage.
//
// References are write-once; deletion is per job and atomic with respect to
// concurrent reads of the same job.
type ArtifactStore interface {
	// Put stores the content under the reference. Fails with a conflict error
	// if the reference already exists.
	Put(ctx context.Context, ref model.ArtifactRef, content io.Reader) error
	// Open returns a reader for the stored bytes or a not_found error.
	Open(ctx context.Context, ref model.ArtifactRef) (io.ReadCloser, error)
	// DeleteJob removes every artifact belonging to the job.
	DeleteJob(ctx context.Context, jobID string) error
	// JobDir returns the workspace directory for a job, creating it if needed.
	JobDir(jobID string) (string, error)
}

// ExecuteRequest carries everything a stage executor needs for one invocation.
type ExecuteRequest struct {
	JobID string
	Stage string
	// Workspace is the job's artifact directory on disk.
	Workspace string
	// Inputs are the original submission artifacts.
	Inputs []model.ArtifactRef
	// PriorOutputs are the outputs of all previously completed stages.
	PriorOutputs map[model.ArtifactKind]model.ArtifactRef
}

// StageExecutor runs one pipeline stage to completion.
//
// Execute must honor ctx cancellation; the scheduler treats a context deadline
// as a stage timeout. A non-nil error marks the stage failed.
type StageExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*model.StageOutcome, error)
}
