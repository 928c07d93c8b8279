package data

import (
	"time"

	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/domain/model"
	apperrors "github.com/scenesmith/scenesmith/internal/errors"
)

// Transition helpers shared by every JobStore driver. Each mutates the record
// in place after checking the lifecycle invariants, so memory, redis, and
// postgres drivers all enforce identical rules.

func applyStartStage(job *model.Job, params core.StartStageParams) error {
	if job.State.Terminal() {
		return apperrors.Conflictf("job %s is %s and cannot start stage %s", job.ID, job.State, params.Stage)
	}
	job.State = model.JobStateRunning
	job.CurrentStage = params.Stage
	if params.Floor > job.Progress {
		job.Progress = params.Floor
	}
	job.Message = params.Message
	return nil
}

func applyCompleteStage(job *model.Job, params core.CompleteStageParams) error {
	if job.State != model.JobStateRunning {
		return apperrors.Conflictf("job %s is %s, stage %s cannot complete", job.ID, job.State, params.Stage)
	}
	if job.CurrentStage != params.Stage {
		return apperrors.Conflictf("job %s is in stage %s, not %s", job.ID, job.CurrentStage, params.Stage)
	}
	for kind := range params.Outputs {
		if _, exists := job.OutputRefs[kind]; exists {
			return apperrors.Conflictf("job %s already has a %s output", job.ID, kind)
		}
	}
	if job.OutputRefs == nil {
		job.OutputRefs = make(map[model.ArtifactKind]model.ArtifactRef, len(params.Outputs))
	}
	for kind, ref := range params.Outputs {
		job.OutputRefs[kind] = ref
	}
	if params.Ceiling > job.Progress {
		job.Progress = params.Ceiling
	}
	job.Message = params.Message
	return nil
}

func applyComplete(job *model.Job, now time.Time) error {
	if job.State != model.JobStateRunning {
		return apperrors.Conflictf("job %s is %s and cannot complete", job.ID, job.State)
	}
	job.State = model.JobStateCompleted
	job.CurrentStage = ""
	job.Message = "completed"
	job.CompletedAt = &now
	return nil
}

func applyFail(job *model.Job, params core.FailParams, now time.Time) error {
	if job.State.Terminal() {
		return apperrors.Conflictf("job %s is already %s", job.ID, job.State)
	}
	job.State = model.JobStateFailed
	job.CurrentStage = ""
	job.Error = &model.JobError{Stage: params.Stage, Cause: params.Cause}
	job.Message = "failed: " + params.Cause
	job.CompletedAt = &now
	return nil
}
