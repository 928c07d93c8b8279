package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/domain/model"
	apperrors "github.com/scenesmith/scenesmith/internal/errors"
)

const (
	redisJobKeyPrefix = "scenesmith:jobs:"
	redisJobIndexKey  = "scenesmith:jobs:index"

	// redisTxRetries bounds optimistic-lock retries on contended transitions.
	redisTxRetries = 5
)

// RedisJobStore implements core.JobStore on Redis.
//
// Job records are stored as JSON values under scenesmith:jobs:<id>, with a
// created-at-scored sorted set as the listing index. Transitions use WATCH so
// concurrent writers never lose updates, and deletion removes the record and
// the index entry in one pipeline so a concurrent poll sees either the whole
// job or not_found.
type RedisJobStore struct {
	client redis.UniversalClient
	tp     TimeProvider
}

// NewRedisJobStore creates a RedisJobStore with the given Redis client.
func NewRedisJobStore(client redis.UniversalClient, tp TimeProvider) *RedisJobStore {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &RedisJobStore{client: client, tp: tp}
}

func redisJobKey(id string) string {
	return redisJobKeyPrefix + id
}

// Create persists a new job record. The record and its index entry are
// written in one transaction so listings and startup recovery always see
// every created job.
func (s *RedisJobStore) Create(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		return apperrors.InvalidInput("job id is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	key := redisJobKey(job.ID)

	txn := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis exists: %w", err)
		}
		if exists > 0 {
			return apperrors.Conflictf("job %s already exists", job.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.ZAdd(ctx, redisJobIndexKey, redis.Z{
				Score:  float64(job.CreatedAt.UnixNano()),
				Member: job.ID,
			})
			return nil
		})
		return err
	}

	for i := 0; i < redisTxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return apperrors.Internalf("job %s creation lost optimistic lock %d times", job.ID, redisTxRetries)
}

// Get returns the job record.
func (s *RedisJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	payload, err := s.client.Get(ctx, redisJobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var job model.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// List returns jobs ordered by creation time descending.
func (s *RedisJobStore) List(ctx context.Context, opts core.ListOptions) ([]*model.Job, error) {
	jobs, err := s.loadIndexed(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Job, 0, len(jobs))
	for _, job := range jobs {
		if opts.State != "" && job.State != opts.State {
			continue
		}
		out = append(out, job)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// ListByState returns jobs in the given state, oldest first.
func (s *RedisJobStore) ListByState(ctx context.Context, state model.JobState) ([]*model.Job, error) {
	jobs, err := s.loadIndexed(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Job, 0)
	for _, job := range jobs {
		if job.State == state {
			out = append(out, job)
		}
	}
	return out, nil
}

// StartStage transitions the job into the named stage.
func (s *RedisJobStore) StartStage(ctx context.Context, params core.StartStageParams) (*model.Job, error) {
	return s.mutate(ctx, params.JobID, func(job *model.Job) error {
		return applyStartStage(job, params)
	})
}

// CompleteStage records stage outputs and raises progress to the ceiling.
func (s *RedisJobStore) CompleteStage(ctx context.Context, params core.CompleteStageParams) (*model.Job, error) {
	return s.mutate(ctx, params.JobID, func(job *model.Job) error {
		return applyCompleteStage(job, params)
	})
}

// Complete transitions a running job to completed.
func (s *RedisJobStore) Complete(ctx context.Context, id string) (*model.Job, error) {
	return s.mutate(ctx, id, func(job *model.Job) error {
		return applyComplete(job, s.tp.Now())
	})
}

// Fail transitions a queued or running job to failed.
func (s *RedisJobStore) Fail(ctx context.Context, params core.FailParams) (*model.Job, error) {
	return s.mutate(ctx, params.JobID, func(job *model.Job) error {
		return applyFail(job, params, s.tp.Now())
	})
}

// ListTerminalBefore returns terminal jobs completed before cutoff.
func (s *RedisJobStore) ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]*model.Job, error) {
	jobs, err := s.loadIndexed(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Job, 0)
	for _, job := range jobs {
		if job.State.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(*out[j].CompletedAt)
	})
	return out, nil
}

// Delete removes the record and its index entry in one pipeline.
func (s *RedisJobStore) Delete(ctx context.Context, id string) (bool, error) {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, redisJobKey(id))
	pipe.ZRem(ctx, redisJobIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis delete job %s: %w", id, err)
	}
	return del.Val() > 0, nil
}

// mutate runs a read-modify-write transition under WATCH, retrying when a
// concurrent writer touches the same record.
func (s *RedisJobStore) mutate(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	key := redisJobKey(id)
	var out *model.Job

	txn := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return apperrors.NotFoundf("job %s not found", id)
			}
			return fmt.Errorf("redis get: %w", err)
		}
		var job model.Job
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("unmarshal job %s: %w", id, err)
		}
		if err := fn(&job); err != nil {
			return err
		}
		updated, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out = &job
		return nil
	}

	for i := 0; i < redisTxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, apperrors.Internalf("job %s transition lost optimistic lock %d times", id, redisTxRetries)
}

// loadIndexed fetches every indexed job record, oldest first when asc is set.
// Records deleted between the index read and the value read are skipped.
func (s *RedisJobStore) loadIndexed(ctx context.Context, asc bool) ([]*model.Job, error) {
	var ids []string
	var err error
	if asc {
		ids, err = s.client.ZRange(ctx, redisJobIndexKey, 0, -1).Result()
	} else {
		ids, err = s.client.ZRevRange(ctx, redisJobIndexKey, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisJobKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([]*model.Job, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var job model.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("unmarshal job %s: %w", ids[i], err)
		}
		out = append(out, &job)
	}
	return out, nil
}
