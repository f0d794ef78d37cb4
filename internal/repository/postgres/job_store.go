package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/cassiomorais/ordercompletion/internal/domain/job"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, hook, run_at, payload, status, last_error, created_at`

// JobStore keeps scheduled completion jobs in the completion_jobs table.
// Calls made inside AdvisoryLocker.WithLock share its transaction.
type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

func (s *JobStore) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, s.pool)
}

func (s *JobStore) Schedule(ctx context.Context, hook string, runAt time.Time, payload job.Payload) (*job.Job, error) {
	j := job.New(hook, runAt, payload)
	data, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	_, err = s.db(ctx).Exec(ctx,
		`INSERT INTO completion_jobs (id, hook, run_at, payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		j.Handle, j.Hook, j.RunAt, data, string(j.Status), j.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

func (s *JobStore) FindPending(ctx context.Context, hook string) ([]*job.Job, error) {
	rows, err := s.db(ctx).Query(ctx,
		`SELECT `+jobColumns+` FROM completion_jobs
		 WHERE hook = $1 AND status = 'pending'
		 ORDER BY run_at ASC, created_at ASC`, hook,
	)
	if err != nil {
		return nil, fmt.Errorf("find pending jobs: %w", err)
	}
	return scanJobs(rows)
}

func (s *JobStore) Cancel(ctx context.Context, handle uuid.UUID) error {
	tag, err := s.db(ctx).Exec(ctx,
		`UPDATE completion_jobs SET status = 'cancelled', updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`, handle,
	)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", handle, domainErrors.ErrJobNotFound)
	}
	return nil
}

// ClaimDue moves due pending jobs to running. Rows locked by another claimer
// are skipped.
func (s *JobStore) ClaimDue(ctx context.Context, hook string, now time.Time, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db(ctx).Query(ctx,
		`UPDATE completion_jobs SET status = 'running', updated_at = NOW()
		 WHERE id IN (
		     SELECT id FROM completion_jobs
		     WHERE hook = $1 AND status = 'pending' AND run_at <= $2
		     ORDER BY run_at ASC
		     LIMIT $3
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns, hook, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	return scanJobs(rows)
}

func (s *JobStore) Finish(ctx context.Context, handle uuid.UUID, runErr error) error {
	status := job.StatusDone
	var lastError *string
	if runErr != nil {
		status = job.StatusFailed
		msg := runErr.Error()
		lastError = &msg
	}
	tag, err := s.db(ctx).Exec(ctx,
		`UPDATE completion_jobs SET status = $1, last_error = $2, updated_at = NOW()
		 WHERE id = $3 AND status = 'running'`,
		string(status), lastError, handle,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", handle, domainErrors.ErrJobNotFound)
	}
	return nil
}

// Requeue returns a running job to pending. It fails on the pending index when
// the hook already has a pending job.
func (s *JobStore) Requeue(ctx context.Context, handle uuid.UUID, runAt time.Time, payload job.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	tag, err := s.db(ctx).Exec(ctx,
		`UPDATE completion_jobs SET status = 'pending', run_at = $1, payload = $2, updated_at = NOW()
		 WHERE id = $3 AND status = 'running'`,
		runAt, data, handle,
	)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", handle, domainErrors.ErrJobNotFound)
	}
	return nil
}

func scanJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j := &job.Job{}
		var payload []byte
		var status string
		if err := rows.Scan(&j.Handle, &j.Hook, &j.RunAt, &payload, &status, &j.LastError, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Status = job.Status(status)
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal job payload: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
