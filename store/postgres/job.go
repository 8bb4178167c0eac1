package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spoolq/spool"
	"github.com/spoolq/spool/id"
	"github.com/spoolq/spool/job"
)

const jobColumns = `id, type, payload, state, priority, attempts, max_attempts,
	lease_owner, lease_expires_at, available_at, submitted_at, started_at,
	finished_at, updated_at, progress, result, last_error, trace_context,
	cancel_requested`

// Enqueue persists a new job in queued state.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO spool_jobs (
			id, type, payload, state, priority, attempts, max_attempts,
			available_at, submitted_at, updated_at, progress, last_error,
			trace_context, cancel_requested
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14
		)`,
		j.ID.String(), j.Type, j.Payload, string(j.State),
		j.Priority, j.Attempts, j.MaxAttempts,
		j.AvailableAt, j.SubmittedAt, j.UpdatedAt,
		j.Progress, j.LastError, j.TraceContext, j.CancelRequested,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return spool.ErrDuplicateID
		}
		return fmt.Errorf("spool/postgres: enqueue job: %w", err)
	}
	return nil
}

// Acquire atomically claims the next eligible queued job for workerID.
// SKIP LOCKED keeps concurrent pools from contending on the same row.
func (s *Store) Acquire(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id FROM spool_jobs
			WHERE state = 'queued' AND available_at <= NOW()
			ORDER BY priority ASC, submitted_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE spool_jobs j SET
			state = 'active',
			lease_owner = $1,
			lease_expires_at = NOW() + $2,
			attempts = j.attempts + 1,
			started_at = NOW(),
			progress = 0,
			updated_at = NOW()
		FROM next
		WHERE j.id = next.id
		RETURNING `+jobColumns,
		workerID.String(), ttl,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("spool/postgres: acquire: %w", err)
	}
	return j, nil
}

// Release returns a leased job to the queue without counting the attempt.
func (s *Store) Release(ctx context.Context, jobID id.JobID, owner id.WorkerID, delay time.Duration) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE spool_jobs SET
			state = 'queued',
			attempts = GREATEST(attempts - 1, 0),
			lease_owner = NULL,
			lease_expires_at = NULL,
			started_at = NULL,
			available_at = NOW() + $3,
			progress = 0,
			updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND lease_owner = $2
		RETURNING `+jobColumns,
		jobID.String(), owner.String(), delay,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.leaseFailure(ctx, jobID)
		}
		return nil, fmt.Errorf("spool/postgres: release: %w", err)
	}
	return j, nil
}

// Renew extends the lease expiry if owner still holds the lease.
func (s *Store) Renew(ctx context.Context, jobID id.JobID, owner id.WorkerID, ttl time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE spool_jobs SET
			lease_expires_at = NOW() + $3,
			updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND lease_owner = $2`,
		jobID.String(), owner.String(), ttl,
	)
	if err != nil {
		return fmt.Errorf("spool/postgres: renew: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseFailure(ctx, jobID)
	}
	return nil
}

// SetProgress records handler progress for the lease holder.
func (s *Store) SetProgress(ctx context.Context, jobID id.JobID, owner id.WorkerID, progress int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE spool_jobs SET
			progress = $3,
			updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND lease_owner = $2`,
		jobID.String(), owner.String(), progress,
	)
	if err != nil {
		return fmt.Errorf("spool/postgres: set progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseFailure(ctx, jobID)
	}
	return nil
}

// Complete settles the job as completed with a result payload.
func (s *Store) Complete(ctx context.Context, jobID id.JobID, owner id.WorkerID, result []byte, lastError string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE spool_jobs SET
			state = 'completed',
			result = $3,
			last_error = $4,
			progress = 100,
			lease_owner = NULL,
			lease_expires_at = NULL,
			finished_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND lease_owner = $2
		RETURNING `+jobColumns,
		jobID.String(), owner.String(), result, lastError,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.leaseFailure(ctx, jobID)
		}
		return nil, fmt.Errorf("spool/postgres: complete: %w", err)
	}
	return j, nil
}

// Requeue returns a failed attempt to the queue with a backoff delay.
func (s *Store) Requeue(ctx context.Context, jobID id.JobID, owner id.WorkerID, delay time.Duration, lastError string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE spool_jobs SET
			state = 'queued',
			available_at = NOW() + $3,
			last_error = $4,
			progress = 0,
			cancel_requested = FALSE,
			lease_owner = NULL,
			lease_expires_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND lease_owner = $2
		RETURNING `+jobColumns,
		jobID.String(), owner.String(), delay, lastError,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.leaseFailure(ctx, jobID)
		}
		return nil, fmt.Errorf("spool/postgres: requeue: %w", err)
	}
	return j, nil
}

// Fail settles the job as terminally failed.
func (s *Store) Fail(ctx context.Context, jobID id.JobID, owner id.WorkerID, lastError string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE spool_jobs SET
			state = 'failed',
			last_error = $3,
			lease_owner = NULL,
			lease_expires_at = NULL,
			finished_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND lease_owner = $2
		RETURNING `+jobColumns,
		jobID.String(), owner.String(), lastError,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.leaseFailure(ctx, jobID)
		}
		return nil, fmt.Errorf("spool/postgres: fail: %w", err)
	}
	return j, nil
}

// MarkCancelled settles an active job as cancelled.
func (s *Store) MarkCancelled(ctx context.Context, jobID id.JobID, owner id.WorkerID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE spool_jobs SET
			state = 'cancelled',
			lease_owner = NULL,
			lease_expires_at = NULL,
			finished_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND lease_owner = $2
		RETURNING `+jobColumns,
		jobID.String(), owner.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.leaseFailure(ctx, jobID)
		}
		return nil, fmt.Errorf("spool/postgres: mark cancelled: %w", err)
	}
	return j, nil
}

// RequestCancel cancels a queued job immediately or flags an active one.
// The state read and the update run in one transaction with the row
// locked, so a queued job that goes active between them cannot be
// misreported as settled.
func (s *Store) RequestCancel(ctx context.Context, jobID id.JobID) (*job.Job, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("spool/postgres: request cancel: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var state string
	err = tx.QueryRow(ctx,
		`SELECT state FROM spool_jobs WHERE id = $1 FOR UPDATE`,
		jobID.String(),
	).Scan(&state)
	if err != nil {
		if isNoRows(err) {
			return nil, false, spool.ErrNotFound
		}
		return nil, false, fmt.Errorf("spool/postgres: request cancel: %w", err)
	}

	var (
		row       pgx.Row
		immediate bool
	)
	switch state {
	case "queued":
		// Queued jobs settle immediately.
		row = tx.QueryRow(ctx, `
			UPDATE spool_jobs SET
				state = 'cancelled',
				finished_at = NOW(),
				updated_at = NOW()
			WHERE id = $1
			RETURNING `+jobColumns,
			jobID.String(),
		)
		immediate = true
	case "active":
		// Active jobs get the advisory flag; the in-flight attempt finishes.
		row = tx.QueryRow(ctx, `
			UPDATE spool_jobs SET
				cancel_requested = TRUE,
				updated_at = NOW()
			WHERE id = $1
			RETURNING `+jobColumns,
			jobID.String(),
		)
	default:
		return nil, false, fmt.Errorf("cancel settled job: %w", spool.ErrInvalidState)
	}

	j, err := scanJob(row)
	if err != nil {
		return nil, false, fmt.Errorf("spool/postgres: request cancel: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("spool/postgres: request cancel: %w", err)
	}
	return j, immediate, nil
}

// ReclaimExpired requeues every active job whose lease has expired, or
// fails it terminally when its attempts are already exhausted.
func (s *Store) ReclaimExpired(ctx context.Context) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH expired AS (
			SELECT id FROM spool_jobs
			WHERE state = 'active' AND lease_expires_at <= NOW()
			FOR UPDATE SKIP LOCKED
		)
		UPDATE spool_jobs j SET
			state = CASE WHEN j.attempts >= j.max_attempts
				THEN 'failed' ELSE 'queued' END,
			last_error = CASE WHEN j.attempts >= j.max_attempts
				THEN 'lease expired on final attempt' ELSE 'lease expired' END,
			finished_at = CASE WHEN j.attempts >= j.max_attempts
				THEN NOW() ELSE NULL END,
			available_at = CASE WHEN j.attempts >= j.max_attempts
				THEN j.available_at ELSE NOW() END,
			progress = CASE WHEN j.attempts >= j.max_attempts
				THEN j.progress ELSE 0 END,
			cancel_requested = FALSE,
			lease_owner = NULL,
			lease_expires_at = NULL,
			updated_at = NOW()
		FROM expired
		WHERE j.id = expired.id
		RETURNING ` + jobColumnsQualified("j"),
	)
	if err != nil {
		return nil, fmt.Errorf("spool/postgres: reclaim expired: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM spool_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, spool.ErrNotFound
		}
		return nil, fmt.Errorf("spool/postgres: get job: %w", err)
	}
	return j, nil
}

// List returns jobs matching the given state, ordered by submission time.
func (s *Store) List(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM spool_jobs WHERE state = $1`
	args := []interface{}{string(state)}
	argIdx := 2

	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, opts.Type)
		argIdx++
	}

	query += " ORDER BY submitted_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("spool/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Count returns the number of jobs matching the given options.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM spool_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
		argIdx++
	}
	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, opts.Type)
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("spool/postgres: count jobs: %w", err)
	}
	return count, nil
}

// PurgeFinished removes terminal jobs that finished before the given time.
func (s *Store) PurgeFinished(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM spool_jobs
		WHERE state IN ('completed', 'failed', 'cancelled')
		  AND finished_at IS NOT NULL
		  AND finished_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("spool/postgres: purge finished: %w", err)
	}
	return tag.RowsAffected(), nil
}

// leaseFailure distinguishes a vanished row from a lost lease after an
// owner-predicated update matched nothing.
func (s *Store) leaseFailure(ctx context.Context, jobID id.JobID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM spool_jobs WHERE id = $1)`,
		jobID.String(),
	).Scan(&exists); err != nil {
		return fmt.Errorf("spool/postgres: lease check: %w", err)
	}
	if !exists {
		return spool.ErrNotFound
	}
	return spool.ErrLeaseLost
}
