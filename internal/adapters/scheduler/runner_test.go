package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/data"
	"github.com/scenesmith/scenesmith/internal/domain/model"
	"github.com/scenesmith/scenesmith/internal/domain/stage"
	apperrors "github.com/scenesmith/scenesmith/internal/errors"
	"github.com/scenesmith/scenesmith/internal/mocks"
)

// executorFunc adapts a function to core.StageExecutor for tests.
type executorFunc func(ctx context.Context, req core.ExecuteRequest) (*model.StageOutcome, error)

func (f executorFunc) Execute(ctx context.Context, req core.ExecuteRequest) (*model.StageOutcome, error) {
	return f(ctx, req)
}

// succeedingExecutor produces one output per stage named after the stage.
func succeedingExecutor(tbl stage.Table) executorFunc {
	return func(_ context.Context, req core.ExecuteRequest) (*model.StageOutcome, error) {
		desc, _ := tbl.Lookup(req.Stage)
		return &model.StageOutcome{
			Message: req.Stage + " done",
			Outputs: map[model.ArtifactKind]model.ArtifactRef{
				desc.Output: {JobID: req.JobID, Kind: desc.Output, Filename: req.Stage + ".out"},
			},
		}, nil
	}
}

// shortStages is a fast two-stage table for tests.
func shortStages() stage.Table {
	return stage.Table{
		{Name: "first", Floor: 10, Ceiling: 50, Timeout: time.Second, Output: model.KindSurfaces},
		{Name: "second", Floor: 50, Ceiling: 100, Timeout: time.Second, Output: model.KindModel},
	}
}

func newTestRunner(t *testing.T, store core.JobStore, exec core.StageExecutor, opts RunnerOptions) *Runner {
	t.Helper()
	artifacts, err := data.NewFileArtifactStore(t.TempDir())
	require.NoError(t, err)

	opts.Store = store
	opts.Artifacts = artifacts
	opts.Executor = exec
	if opts.Stages == nil {
		opts.Stages = shortStages()
	}
	runner, err := NewRunner(opts)
	require.NoError(t, err)
	return runner
}

func startRunner(t *testing.T, runner *Runner) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = runner.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("runner did not stop")
		}
	})
	return cancel
}

func createQueuedJob(t *testing.T, store core.JobStore, id string) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &model.Job{
		ID:        id,
		State:     model.JobStateQueued,
		Message:   "queued",
		InputRefs: []model.ArtifactRef{{JobID: id, Kind: model.KindFloorplan, Filename: "plan.png"}},
		CreatedAt: time.Now(),
	}))
}

func waitForTerminal(t *testing.T, store core.JobStore, id string) *model.Job {
	t.Helper()
	var job *model.Job
	require.Eventually(t, func() bool {
		j, err := store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestRunner_CompletesJobThroughAllStages(t *testing.T) {
	store := data.NewMemoryJobStore(nil)
	tbl := shortStages()
	runner := newTestRunner(t, store, succeedingExecutor(tbl), RunnerOptions{Stages: tbl})
	startRunner(t, runner)

	createQueuedJob(t, store, "j1")
	require.NoError(t, runner.Enqueue("j1"))

	job := waitForTerminal(t, store, "j1")
	assert.Equal(t, model.JobStateCompleted, job.State)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, "completed", job.Message)
	assert.Empty(t, job.CurrentStage)
	require.NotNil(t, job.CompletedAt)
	assert.Nil(t, job.Error)
	assert.Contains(t, job.OutputRefs, model.KindSurfaces)
	assert.Contains(t, job.OutputRefs, model.KindModel)
}

func TestRunner_FailureAtStageRetainsPriorOutputs(t *testing.T) {
	store := data.NewMemoryJobStore(nil)
	tbl := shortStages()
	exec := executorFunc(func(ctx context.Context, req core.ExecuteRequest) (*model.StageOutcome, error) {
		if req.Stage == "second" {
			return nil, apperrors.Stage(req.Stage, "mesh reconstruction diverged")
		}
		return succeedingExecutor(tbl)(ctx, req)
	})
	runner := newTestRunner(t, store, exec, RunnerOptions{Stages: tbl})
	startRunner(t, runner)

	createQueuedJob(t, store, "j1")
	require.NoError(t, runner.Enqueue("j1"))

	job := waitForTerminal(t, store, "j1")
	assert.Equal(t, model.JobStateFailed, job.State)
	require.NotNil(t, job.Error)
	assert.Equal(t, "second", job.Error.Stage)
	assert.Equal(t, "mesh reconstruction diverged", job.Error.Cause)
	// Progress froze at the last completed ceiling, first stage outputs kept.
	assert.Equal(t, 50, job.Progress)
	assert.Contains(t, job.OutputRefs, model.KindSurfaces)
	assert.NotContains(t, job.OutputRefs, model.KindModel)
}

func TestRunner_StageTimeoutFailsWithTimeoutCause(t *testing.T) {
	store := data.NewMemoryJobStore(nil)
	tbl := stage.Table{
		{Name: "slow", Floor: 10, Ceiling: 100, Timeout: 50 * time.Millisecond, Output: model.KindModel},
	}
	exec := executorFunc(func(ctx context.Context, _ core.ExecuteRequest) (*model.StageOutcome, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	runner := newTestRunner(t, store, exec, RunnerOptions{Stages: tbl})
	startRunner(t, runner)

	createQueuedJob(t, store, "j1")
	require.NoError(t, runner.Enqueue("j1"))

	job := waitForTerminal(t, store, "j1")
	assert.Equal(t, model.JobStateFailed, job.State)
	require.NotNil(t, job.Error)
	assert.Equal(t, "slow", job.Error.Stage)
	assert.Equal(t, FailureCauseTimeout, job.Error.Cause)
}

func TestRunner_WrappedExecutorErrorRecordsUnderlyingCause(t *testing.T) {
	store := data.NewMemoryJobStore(nil)
	tbl := shortStages()
	exec := executorFunc(func(ctx context.Context, req core.ExecuteRequest) (*model.StageOutcome, error) {
		if req.Stage == "second" {
			return nil, apperrors.StageWrap(req.Stage, fmt.Errorf("exit status 3: GPU unavailable"))
		}
		return succeedingExecutor(tbl)(ctx, req)
	})
	runner := newTestRunner(t, store, exec, RunnerOptions{Stages: tbl})
	startRunner(t, runner)

	createQueuedJob(t, store, "j1")
	require.NoError(t, runner.Enqueue("j1"))

	job := waitForTerminal(t, store, "j1")
	assert.Equal(t, model.JobStateFailed, job.State)
	require.NotNil(t, job.Error)
	assert.Equal(t, "second", job.Error.Stage)
	// The wrapper's fixed message is dropped in favour of the real cause.
	assert.Equal(t, "exit status 3: GPU unavailable", job.Error.Cause)
}

func TestRunner_JobDeadlineFailsAcrossStages(t *testing.T) {
	store := data.NewMemoryJobStore(nil)
	tbl := shortStages()

	// Each stage finishes well inside its own one-second timeout, but the two
	// together overrun the job deadline.
	exec := executorFunc(func(ctx context.Context, req core.ExecuteRequest) (*model.StageOutcome, error) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return succeedingExecutor(tbl)(ctx, req)
	})
	runner := newTestRunner(t, store, exec, RunnerOptions{
		Stages: tbl, JobTimeout: 300 * time.Millisecond,
	})
	startRunner(t, runner)

	createQueuedJob(t, store, "j1")
	require.NoError(t, runner.Enqueue("j1"))

	job := waitForTerminal(t, store, "j1")
	assert.Equal(t, model.JobStateFailed, job.State)
	require.NotNil(t, job.Error)
	assert.Equal(t, "second", job.Error.Stage)
	assert.Equal(t, FailureCauseTimeout, job.Error.Cause)
	// The first stage completed before the deadline hit.
	assert.Equal(t, 50, job.Progress)
	assert.Contains(t, job.OutputRefs, model.KindSurfaces)
	assert.NotContains(t, job.OutputRefs, model.KindModel)
}

func TestRunner_EnqueueQueueFull(t *testing.T) {
	store := data.NewMemoryJobStore(nil)
	runner := newTestRunner(t, store, succeedingExecutor(shortStages()), RunnerOptions{QueueCapacity: 1})
	// Runner not started: nothing drains the queue.

	require.NoError(t, runner.Enqueue("j1"))
	err := runner.Enqueue("j2")
	assert.True(t, apperrors.IsQueueFull(err))
	assert.Equal(t, 1, runner.QueueDepth())
}

func TestRunner_ConcurrencyCapAndFIFO(t *testing.T) {
	store := data.NewMemoryJobStore(nil)
	tbl := stage.Table{
		{Name: "only", Floor: 10, Ceiling: 100, Timeout: time.Second, Output: model.KindModel},
	}

	var mu sync.Mutex
	started := []string{}
	running, maxRunning := 0, 0
	release := make(chan struct{})

	exec := executorFunc(func(ctx context.Context, req core.ExecuteRequest) (*model.StageOutcome, error) {
		mu.Lock()
		started = append(started, req.JobID)
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()

		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		mu.Lock()
		running--
		mu.Unlock()
		return &model.StageOutcome{
			Outputs: map[model.ArtifactKind]model.ArtifactRef{
				model.KindModel: {JobID: req.JobID, Kind: model.KindModel, Filename: "model.obj"},
			},
		}, nil
	})

	runner := newTestRunner(t, store, exec, RunnerOptions{
		Stages: tbl, Concurrency: 2, QueueCapacity: 16,
	})
	startRunner(t, runner)

	ids := []string{"j1", "j2", "j3", "j4", "j5"}
	for _, id := range ids {
		createQueuedJob(t, store, id)
		require.NoError(t, runner.Enqueue(id))
	}

	// Both workers pick up work; the rest waits.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(started) == 2
	}, 2*time.Second, 10*time.Millisecond)

	close(release)
	for _, id := range ids {
		job := waitForTerminal(t, store, id)
		assert.Equal(t, model.JobStateCompleted, job.State, id)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, maxRunning, "worker pool must cap concurrent jobs")
	assert.ElementsMatch(t, ids, started)
}

func TestRunner_SingleWorkerRunsFIFO(t *testing.T) {
	store := data.NewMemoryJobStore(nil)
	tbl := stage.Table{
		{Name: "only", Floor: 10, Ceiling: 100, Timeout: time.Second, Output: model.KindModel},
	}

	var mu sync.Mutex
	started := []string{}
	exec := executorFunc(func(_ context.Context, req core.ExecuteRequest) (*model.StageOutcome, error) {
		mu.Lock()
		started = append(started, req.JobID)
		mu.Unlock()
		return &model.StageOutcome{
			Outputs: map[model.ArtifactKind]model.ArtifactRef{
				model.KindModel: {JobID: req.JobID, Kind: model.KindModel, Filename: "model.obj"},
			},
		}, nil
	})

	runner := newTestRunner(t, store, exec, RunnerOptions{
		Stages: tbl, Concurrency: 1, QueueCapacity: 16,
	})

	ids := []string{"j1", "j2", "j3", "j4"}
	for _, id := range ids {
		createQueuedJob(t, store, id)
		require.NoError(t, runner.Enqueue(id))
	}
	startRunner(t, runner)

	for _, id := range ids {
		waitForTerminal(t, store, id)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ids, started, "jobs must start in submission order")
}

func TestRunner_RecoversPersistedState(t *testing.T) {
	store := data.NewMemoryJobStore(nil)
	ctx := context.Background()

	// A job orphaned mid-stage by a crash.
	createQueuedJob(t, store, "orphan")
	_, err := store.StartStage(ctx, core.StartStageParams{JobID: "orphan", Stage: "first", Floor: 10})
	require.NoError(t, err)

	// A job still waiting when the process died.
	createQueuedJob(t, store, "waiting")

	tbl := shortStages()
	runner := newTestRunner(t, store, succeedingExecutor(tbl), RunnerOptions{Stages: tbl})
	startRunner(t, runner)

	orphan := waitForTerminal(t, store, "orphan")
	assert.Equal(t, model.JobStateFailed, orphan.State)
	require.NotNil(t, orphan.Error)
	assert.Equal(t, FailureCauseInterrupted, orphan.Error.Cause)
	assert.Equal(t, "first", orphan.Error.Stage)

	waiting := waitForTerminal(t, store, "waiting")
	assert.Equal(t, model.JobStateCompleted, waiting.State)
}

func TestRunner_SkipsJobDeletedWhileQueued(t *testing.T) {
	store := data.NewMemoryJobStore(nil)
	var calls int
	var mu sync.Mutex
	exec := executorFunc(func(_ context.Context, _ core.ExecuteRequest) (*model.StageOutcome, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &model.StageOutcome{}, nil
	})
	runner := newTestRunner(t, store, exec, RunnerOptions{})
	startRunner(t, runner)

	// Enqueued but never created (submission aborted mid-flight).
	require.NoError(t, runner.Enqueue("ghost"))

	require.Eventually(t, func() bool { return runner.QueueDepth() == 0 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestRunner_ExecutorInvokedOncePerStage(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := data.NewMemoryJobStore(nil)
	tbl := shortStages()

	exec := mocks.NewMockStageExecutor(ctrl)
	for _, desc := range tbl {
		desc := desc
		exec.EXPECT().
			Execute(gomock.Any(), gomock.Cond(func(req core.ExecuteRequest) bool {
				return req.Stage == desc.Name && req.JobID == "j1"
			})).
			Return(&model.StageOutcome{
				Outputs: map[model.ArtifactKind]model.ArtifactRef{
					desc.Output: {JobID: "j1", Kind: desc.Output, Filename: desc.Name + ".out"},
				},
			}, nil).
			Times(1)
	}

	runner := newTestRunner(t, store, exec, RunnerOptions{Stages: tbl})
	startRunner(t, runner)

	createQueuedJob(t, store, "j1")
	require.NoError(t, runner.Enqueue("j1"))

	job := waitForTerminal(t, store, "j1")
	assert.Equal(t, model.JobStateCompleted, job.State)
}

func TestNewRunner_Validation(t *testing.T) {
	artifacts, err := data.NewFileArtifactStore(t.TempDir())
	require.NoError(t, err)
	store := data.NewMemoryJobStore(nil)
	exec := succeedingExecutor(shortStages())

	_, err = NewRunner(RunnerOptions{Artifacts: artifacts, Executor: exec})
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = NewRunner(RunnerOptions{Store: store, Executor: exec})
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = NewRunner(RunnerOptions{Store: store, Artifacts: artifacts})
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = NewRunner(RunnerOptions{
		Store: store, Artifacts: artifacts, Executor: exec,
		Stages: stage.Table{{Name: "bad", Floor: 10, Ceiling: 90, Timeout: time.Second}},
	})
	assert.True(t, apperrors.IsInvalidInput(err))
}
