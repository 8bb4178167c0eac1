// Package hook defines the lifecycle hook system for spool.
//
// Hooks are notified of job lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, bridging to an
// event bus. Each lifecycle event is a separate interface so hooks opt in
// only to the events they care about. The [Registry] fans out each event to
// every registered hook that implements the corresponding interface.
//
//	type auditHook struct{}
//
//	func (auditHook) Name() string { return "audit" }
//
//	func (auditHook) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
package hook

import (
	"context"
	"time"

	"github.com/spoolq/spool/job"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// JobQueued is called after a job is accepted into the queue, both on
// initial submission and when a retry returns it to queued state.
type JobQueued interface {
	OnJobQueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker acquires a lease and begins executing.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgress is called when the lease holder reports handler progress.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, progress int) error
}

// JobCompleted is called after a job settles successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job settles terminally failed.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a failed attempt returns the job to the queue
// with a backoff delay.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, availableAt time.Time) error
}

// JobCancelled is called when a job settles cancelled, whether immediately
// from queued state or cooperatively while active.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// LeaseReclaimed is called when the background reclaimer takes an expired
// lease away from a stalled worker and returns the job to the queue (or
// fails it terminally when attempts are exhausted).
type LeaseReclaimed interface {
	OnLeaseReclaimed(ctx context.Context, j *job.Job) error
}

// Shutdown is called when the engine is shutting down gracefully.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
