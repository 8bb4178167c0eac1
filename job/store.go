package job

import (
	"context"
	"time"

	"github.com/spoolq/spool/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Type filters by job type. Empty means all types.
	Type string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Type filters by job type. Empty means all types.
	Type string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs. It covers both the
// priority queue (ordering, durability) and lease management (exclusive,
// time-bounded ownership), because the dequeue and lease-acquire steps must
// form a single atomic critical section.
//
// Every mutation of an active job carries the owner's worker ID as a lease
// token. A mutation whose token no longer matches fails with
// spool.ErrLeaseLost and must leave the job untouched: the caller's outcome
// is discarded because another worker may already be retrying the job.
type Store interface {
	// Enqueue persists a new job in queued state.
	// Fails with spool.ErrDuplicateID if the id already exists.
	Enqueue(ctx context.Context, j *Job) error

	// Acquire atomically claims the eligible queued job with the lowest
	// priority value (FIFO by SubmittedAt within a priority band, and only
	// jobs with AvailableAt <= now). It transitions the job to active,
	// sets the lease fields, records StartedAt, and increments Attempts.
	// Returns (nil, nil) when no job is eligible; callers decide how to
	// wait.
	Acquire(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (*Job, error)

	// Release returns a job to the queue without counting the attempt.
	// Used when pickup is refused before any handler ran, for example by
	// per-type admission control. The Acquire-time attempt increment is
	// rolled back, the lease is cleared, and AvailableAt = now + delay.
	Release(ctx context.Context, jobID id.JobID, owner id.WorkerID, delay time.Duration) (*Job, error)

	// Renew extends the lease expiry if owner still holds the lease.
	Renew(ctx context.Context, jobID id.JobID, owner id.WorkerID, ttl time.Duration) error

	// SetProgress records handler progress (0–100) for the lease holder.
	SetProgress(ctx context.Context, jobID id.JobID, owner id.WorkerID, progress int) error

	// Complete settles the job as completed with a result payload.
	// lastError carries the documented no-op-cancellation note when a
	// cancel was requested but the attempt ran to completion.
	Complete(ctx context.Context, jobID id.JobID, owner id.WorkerID, result []byte, lastError string) (*Job, error)

	// Requeue returns a failed attempt to the queue with a backoff delay:
	// AvailableAt = now + delay, state queued, lease fields cleared.
	Requeue(ctx context.Context, jobID id.JobID, owner id.WorkerID, delay time.Duration, lastError string) (*Job, error)

	// Fail settles the job as terminally failed.
	Fail(ctx context.Context, jobID id.JobID, owner id.WorkerID, lastError string) (*Job, error)

	// MarkCancelled settles an active job as cancelled after its handler
	// cooperated with an advisory cancellation.
	MarkCancelled(ctx context.Context, jobID id.JobID, owner id.WorkerID) (*Job, error)

	// RequestCancel cancels a queued job immediately (returning
	// immediate=true) or flags an active job for advisory cancellation
	// (immediate=false). Fails with spool.ErrNotFound for unknown ids and
	// spool.ErrInvalidState for jobs already in a terminal state.
	RequestCancel(ctx context.Context, jobID id.JobID) (j *Job, immediate bool, err error)

	// ReclaimExpired returns every active job whose lease has expired to
	// the queue with zero delay and no additional attempt increment, or
	// settles it as failed when its attempts are already exhausted.
	// Returns the affected jobs in their post-transition state.
	ReclaimExpired(ctx context.Context) ([]*Job, error)

	// Get retrieves a job by ID.
	Get(ctx context.Context, jobID id.JobID) (*Job, error)

	// List returns jobs in the given state, ordered by submission time.
	List(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// Count returns the number of jobs matching the given options.
	Count(ctx context.Context, opts CountOpts) (int64, error)

	// PurgeFinished removes terminal jobs that finished before the given
	// time. Retired jobs are retained for a bounded window for status
	// queries; housekeeping collaborators call this to enforce it.
	PurgeFinished(ctx context.Context, before time.Time) (int64, error)

	// Ping checks store connectivity.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
