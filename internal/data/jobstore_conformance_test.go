package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/domain/model"
	apperrors "github.com/scenesmith/scenesmith/internal/errors"
)

// runJobStoreConformance exercises the lifecycle invariants every JobStore
// driver must enforce. Both the memory and redis drivers run this suite.
func runJobStoreConformance(t *testing.T, newStore func(t *testing.T) core.JobStore) {
	t.Helper()
	ctx := context.Background()

	newJob := func(id string, created time.Time) *model.Job {
		return &model.Job{
			ID:        id,
			State:     model.JobStateQueued,
			Message:   "queued",
			InputRefs: []model.ArtifactRef{{JobID: id, Kind: model.KindFloorplan, Filename: "plan.png"}},
			CreatedAt: created,
		}
	}

	t.Run("create and get", func(t *testing.T) {
		store := newStore(t)
		created := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, store.Create(ctx, newJob("j1", created)))

		job, err := store.Get(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, model.JobStateQueued, job.State)
		assert.Equal(t, 0, job.Progress)
		assert.True(t, created.Equal(job.CreatedAt))
	})

	t.Run("create duplicate id conflicts", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newJob("j1", time.Now())))
		err := store.Create(ctx, newJob("j1", time.Now()))
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("get unknown job", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "missing")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("stage lifecycle to completion", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newJob("j1", time.Now())))

		job, err := store.StartStage(ctx, core.StartStageParams{
			JobID: "j1", Stage: "preprocess", Floor: 10, Message: "preprocessing",
		})
		require.NoError(t, err)
		assert.Equal(t, model.JobStateRunning, job.State)
		assert.Equal(t, "preprocess", job.CurrentStage)
		assert.Equal(t, 10, job.Progress)

		job, err = store.CompleteStage(ctx, core.CompleteStageParams{
			JobID: "j1", Stage: "preprocess", Ceiling: 25, Message: "surfaces extracted",
			Outputs: map[model.ArtifactKind]model.ArtifactRef{
				model.KindSurfaces: {JobID: "j1", Kind: model.KindSurfaces, Filename: "surfaces.zip"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 25, job.Progress)
		assert.Contains(t, job.OutputRefs, model.KindSurfaces)

		job, err = store.Complete(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, model.JobStateCompleted, job.State)
		require.NotNil(t, job.CompletedAt)
	})

	t.Run("progress never decreases", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newJob("j1", time.Now())))

		_, err := store.StartStage(ctx, core.StartStageParams{JobID: "j1", Stage: "textures", Floor: 40})
		require.NoError(t, err)

		// A lower floor must not pull progress back.
		job, err := store.StartStage(ctx, core.StartStageParams{JobID: "j1", Stage: "preprocess", Floor: 10})
		require.NoError(t, err)
		assert.Equal(t, 40, job.Progress)
	})

	t.Run("output kinds are write-once", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newJob("j1", time.Now())))
		_, err := store.StartStage(ctx, core.StartStageParams{JobID: "j1", Stage: "modelgen", Floor: 85})
		require.NoError(t, err)

		outputs := map[model.ArtifactKind]model.ArtifactRef{
			model.KindModel: {JobID: "j1", Kind: model.KindModel, Filename: "model.obj"},
		}
		_, err = store.CompleteStage(ctx, core.CompleteStageParams{
			JobID: "j1", Stage: "modelgen", Ceiling: 95, Outputs: outputs,
		})
		require.NoError(t, err)

		_, err = store.StartStage(ctx, core.StartStageParams{JobID: "j1", Stage: "modelgen", Floor: 85})
		require.NoError(t, err)
		_, err = store.CompleteStage(ctx, core.CompleteStageParams{
			JobID: "j1", Stage: "modelgen", Ceiling: 95, Outputs: outputs,
		})
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("complete requires running", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newJob("j1", time.Now())))
		_, err := store.Complete(ctx, "j1")
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("complete stage requires matching stage", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newJob("j1", time.Now())))
		_, err := store.StartStage(ctx, core.StartStageParams{JobID: "j1", Stage: "preprocess", Floor: 10})
		require.NoError(t, err)

		_, err = store.CompleteStage(ctx, core.CompleteStageParams{JobID: "j1", Stage: "textures", Ceiling: 60})
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("fail records stage and cause", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newJob("j1", time.Now())))
		_, err := store.StartStage(ctx, core.StartStageParams{JobID: "j1", Stage: "embeddings", Floor: 25})
		require.NoError(t, err)

		job, err := store.Fail(ctx, core.FailParams{JobID: "j1", Stage: "embeddings", Cause: "timeout"})
		require.NoError(t, err)
		assert.Equal(t, model.JobStateFailed, job.State)
		require.NotNil(t, job.Error)
		assert.Equal(t, "embeddings", job.Error.Stage)
		assert.Equal(t, "timeout", job.Error.Cause)
		assert.Equal(t, 25, job.Progress)
		require.NotNil(t, job.CompletedAt)
	})

	t.Run("terminal jobs are immutable", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newJob("j1", time.Now())))
		_, err := store.Fail(ctx, core.FailParams{JobID: "j1", Stage: "preprocess", Cause: "boom"})
		require.NoError(t, err)

		_, err = store.StartStage(ctx, core.StartStageParams{JobID: "j1", Stage: "preprocess", Floor: 10})
		assert.True(t, apperrors.IsConflict(err))
		_, err = store.Fail(ctx, core.FailParams{JobID: "j1", Stage: "preprocess", Cause: "again"})
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("list orders newest first and filters", func(t *testing.T) {
		store := newStore(t)
		base := time.Now().UTC()
		require.NoError(t, store.Create(ctx, newJob("j1", base.Add(-2*time.Hour))))
		require.NoError(t, store.Create(ctx, newJob("j2", base.Add(-1*time.Hour))))
		require.NoError(t, store.Create(ctx, newJob("j3", base)))
		_, err := store.StartStage(ctx, core.StartStageParams{JobID: "j2", Stage: "preprocess", Floor: 10})
		require.NoError(t, err)

		jobs, err := store.List(ctx, core.ListOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "j3", jobs[0].ID)
		assert.Equal(t, "j2", jobs[1].ID)

		running, err := store.List(ctx, core.ListOptions{State: model.JobStateRunning})
		require.NoError(t, err)
		require.Len(t, running, 1)
		assert.Equal(t, "j2", running[0].ID)
	})

	t.Run("list by state oldest first", func(t *testing.T) {
		store := newStore(t)
		base := time.Now().UTC()
		require.NoError(t, store.Create(ctx, newJob("j1", base.Add(-time.Hour))))
		require.NoError(t, store.Create(ctx, newJob("j2", base)))

		queued, err := store.ListByState(ctx, model.JobStateQueued)
		require.NoError(t, err)
		require.Len(t, queued, 2)
		assert.Equal(t, "j1", queued[0].ID)
	})

	t.Run("list terminal before cutoff", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newJob("old", time.Now())))
		require.NoError(t, store.Create(ctx, newJob("fresh", time.Now())))
		_, err := store.Fail(ctx, core.FailParams{JobID: "old", Stage: "preprocess", Cause: "boom"})
		require.NoError(t, err)

		expired, err := store.ListTerminalBefore(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "old", expired[0].ID)

		expired, err = store.ListTerminalBefore(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, expired)
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newJob("j1", time.Now())))

		deleted, err := store.Delete(ctx, "j1")
		require.NoError(t, err)
		assert.True(t, deleted)

		_, err = store.Get(ctx, "j1")
		assert.True(t, apperrors.IsNotFound(err))

		deleted, err = store.Delete(ctx, "j1")
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}
