package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	// Import pgx driver for database/sql compatibility.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/domain/model"
	apperrors "github.com/scenesmith/scenesmith/internal/errors"
)

// PostgresJobStore implements core.JobStore on PostgreSQL via database/sql
// over the pgx stdlib driver.
//
// Transitions read the row under FOR UPDATE inside a transaction so the
// invariant checks and the write are atomic.
type PostgresJobStore struct {
	DB *sql.DB
	tp TimeProvider
}

// NewPostgresJobStore creates a PostgresJobStore with the given connection.
func NewPostgresJobStore(db *sql.DB, tp TimeProvider) *PostgresJobStore {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &PostgresJobStore{DB: db, tp: tp}
}

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
  id            TEXT PRIMARY KEY,
  state         TEXT NOT NULL,
  current_stage TEXT NOT NULL DEFAULT '',
  progress      INTEGER NOT NULL DEFAULT 0,
  message       TEXT NOT NULL DEFAULT '',
  input_refs    JSONB NOT NULL DEFAULT '[]',
  output_refs   JSONB,
  error         JSONB,
  created_at    TIMESTAMPTZ NOT NULL,
  completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS jobs_created_at_idx ON jobs (created_at DESC);
CREATE INDEX IF NOT EXISTS jobs_state_idx ON jobs (state);
`

// EnsureSchema creates the jobs table if it does not exist.
func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, jobsSchema); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

const jobColumns = `id, state, current_stage, progress, message, input_refs, output_refs, error, created_at, completed_at`

// Create persists a new job record.
func (s *PostgresJobStore) Create(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		return apperrors.InvalidInput("job id is required")
	}
	inputs, outputs, jobErr, err := marshalJobJSON(job)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.State, job.CurrentStage, job.Progress, job.Message,
		inputs, outputs, jobErr, job.CreatedAt, job.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return apperrors.Conflictf("job %s already exists", job.ID)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get returns the job record.
func (s *PostgresJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row, id)
}

// List returns jobs ordered by creation time descending.
func (s *PostgresJobStore) List(ctx context.Context, opts core.ListOptions) ([]*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if opts.State != "" {
		query += ` WHERE state = $1`
		args = append(args, opts.State)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	return s.queryJobs(ctx, query, args...)
}

// ListByState returns jobs in the given state, oldest first.
func (s *PostgresJobStore) ListByState(ctx context.Context, state model.JobState) ([]*model.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = $1
		ORDER BY created_at ASC, id ASC`, state)
}

// StartStage transitions the job into the named stage.
func (s *PostgresJobStore) StartStage(ctx context.Context, params core.StartStageParams) (*model.Job, error) {
	return s.mutate(ctx, params.JobID, func(job *model.Job) error {
		return applyStartStage(job, params)
	})
}

// CompleteStage records stage outputs and raises progress to the ceiling.
func (s *PostgresJobStore) CompleteStage(ctx context.Context, params core.CompleteStageParams) (*model.Job, error) {
	return s.mutate(ctx, params.JobID, func(job *model.Job) error {
		return applyCompleteStage(job, params)
	})
}

// Complete transitions a running job to completed.
func (s *PostgresJobStore) Complete(ctx context.Context, id string) (*model.Job, error) {
	return s.mutate(ctx, id, func(job *model.Job) error {
		return applyComplete(job, s.tp.Now())
	})
}

// Fail transitions a queued or running job to failed.
func (s *PostgresJobStore) Fail(ctx context.Context, params core.FailParams) (*model.Job, error) {
	return s.mutate(ctx, params.JobID, func(job *model.Job) error {
		return applyFail(job, params, s.tp.Now())
	})
}

// ListTerminalBefore returns terminal jobs completed before cutoff.
func (s *PostgresJobStore) ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]*model.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state IN ($1, $2) AND completed_at IS NOT NULL AND completed_at < $3
		ORDER BY completed_at ASC`,
		model.JobStateCompleted, model.JobStateFailed, cutoff)
}

// Delete removes a job record.
func (s *PostgresJobStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete job %s: %w", id, err)
	}
	return n > 0, nil
}

// mutate runs a transition inside a transaction with the row locked.
func (s *PostgresJobStore) mutate(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	job, err := scanJob(row, id)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}

	inputs, outputs, jobErr, err := marshalJobJSON(job)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET state = $2, current_stage = $3, progress = $4, message = $5,
		    input_refs = $6, output_refs = $7, error = $8, completed_at = $9
		WHERE id = $1`,
		job.ID, job.State, job.CurrentStage, job.Progress, job.Message,
		inputs, outputs, jobErr, job.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit job %s: %w", id, err)
	}
	return job, nil
}

func (s *PostgresJobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*model.Job, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*model.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func marshalJobJSON(job *model.Job) (inputs, outputs, jobErr []byte, err error) {
	inputs, err = json.Marshal(job.InputRefs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal input refs: %w", err)
	}
	if job.OutputRefs != nil {
		outputs, err = json.Marshal(job.OutputRefs)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal output refs: %w", err)
		}
	}
	if job.Error != nil {
		jobErr, err = json.Marshal(job.Error)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal job error: %w", err)
		}
	}
	return inputs, outputs, jobErr, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner, id string) (*model.Job, error) {
	var (
		job     model.Job
		inputs  []byte
		outputs []byte
		jobErr  []byte
	)
	err := row.Scan(
		&job.ID, &job.State, &job.CurrentStage, &job.Progress, &job.Message,
		&inputs, &outputs, &jobErr, &job.CreatedAt, &job.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if err := json.Unmarshal(inputs, &job.InputRefs); err != nil {
		return nil, fmt.Errorf("unmarshal input refs: %w", err)
	}
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &job.OutputRefs); err != nil {
			return nil, fmt.Errorf("unmarshal output refs: %w", err)
		}
	}
	if len(jobErr) > 0 {
		if err := json.Unmarshal(jobErr, &job.Error); err != nil {
			return nil, fmt.Errorf("unmarshal job error: %w", err)
		}
	}
	return &job, nil
}
