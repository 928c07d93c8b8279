package data

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/domain/model"
	apperrors "github.com/scenesmith/scenesmith/internal/errors"
)

func setupRedisStore(t *testing.T) *RedisJobStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisJobStore(client, nil)
}

func TestRedisJobStore_Conformance(t *testing.T) {
	runJobStoreConformance(t, func(t *testing.T) core.JobStore {
		return setupRedisStore(t)
	})
}

func TestRedisJobStore_DeleteRemovesIndexEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisJobStore(client, nil)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &model.Job{
		ID: "j1", State: model.JobStateQueued, CreatedAt: time.Now(),
	}))

	deleted, err := store.Delete(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, deleted)

	// Both the record and the index entry must be gone.
	assert.False(t, mr.Exists(redisJobKey("j1")))
	members, err := client.ZRange(ctx, redisJobIndexKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Empty(t, members)

	jobs, err := store.List(ctx, core.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRedisJobStore_ListSkipsRecordDeletedMidScan(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisJobStore(client, nil)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &model.Job{
		ID: "j1", State: model.JobStateQueued, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Create(ctx, &model.Job{
		ID: "j2", State: model.JobStateQueued, CreatedAt: time.Now().Add(time.Second),
	}))

	// Simulate a record whose value vanished while still indexed.
	mr.Del(redisJobKey("j1"))

	jobs, err := store.List(ctx, core.ListOptions{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "j2", jobs[0].ID)
}

func TestRedisJobStore_CreateIndexesRecordAtomically(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisJobStore(client, nil)
	ctx := context.Background()

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, &model.Job{
		ID: "j1", State: model.JobStateQueued, CreatedAt: created,
	}))

	// The record is indexed, so every index-driven read path sees it.
	assert.True(t, mr.Exists(redisJobKey("j1")))
	score, err := client.ZScore(ctx, redisJobIndexKey, "j1").Result()
	require.NoError(t, err)
	assert.Equal(t, float64(created.UnixNano()), score)

	queued, err := store.ListByState(ctx, model.JobStateQueued)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "j1", queued[0].ID)

	// A duplicate create conflicts without touching the record or its
	// index entry.
	err = store.Create(ctx, &model.Job{
		ID: "j1", State: model.JobStateRunning, CreatedAt: created.Add(time.Hour),
	})
	assert.True(t, apperrors.IsConflict(err))

	job, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateQueued, job.State)
	score, err = client.ZScore(ctx, redisJobIndexKey, "j1").Result()
	require.NoError(t, err)
	assert.Equal(t, float64(created.UnixNano()), score)
}

func TestRedisJobStore_MutateUnknownJob(t *testing.T) {
	store := setupRedisStore(t)
	_, err := store.Complete(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}
