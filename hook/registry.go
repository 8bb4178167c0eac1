package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/spoolq/spool/job"
)

// Named entry types pair a hook implementation with the hook name captured
// at registration time. This avoids type-asserting back to Hook inside the
// emit methods.
type jobQueuedEntry struct {
	name string
	hook JobQueued
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobProgressEntry struct {
	name string
	hook JobProgress
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type leaseReclaimedEntry struct {
	name string
	hook LeaseReclaimed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to them.
// It type-caches hooks at registration time so emit calls iterate only over
// hooks that implement the relevant interface.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	// Type-cached slices for each lifecycle event.
	jobQueued      []jobQueuedEntry
	jobStarted     []jobStartedEntry
	jobProgress    []jobProgressEntry
	jobCompleted   []jobCompletedEntry
	jobFailed      []jobFailedEntry
	jobRetrying    []jobRetryingEntry
	jobCancelled   []jobCancelledEntry
	leaseReclaimed []leaseReclaimedEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if hk, ok := h.(JobQueued); ok {
		r.jobQueued = append(r.jobQueued, jobQueuedEntry{name, hk})
	}
	if hk, ok := h.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, hk})
	}
	if hk, ok := h.(JobProgress); ok {
		r.jobProgress = append(r.jobProgress, jobProgressEntry{name, hk})
	}
	if hk, ok := h.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, hk})
	}
	if hk, ok := h.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, hk})
	}
	if hk, ok := h.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, hk})
	}
	if hk, ok := h.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, hk})
	}
	if hk, ok := h.(LeaseReclaimed); ok {
		r.leaseReclaimed = append(r.leaseReclaimed, leaseReclaimedEntry{name, hk})
	}
	if hk, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, hk})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// EmitJobQueued notifies all hooks that implement JobQueued.
func (r *Registry) EmitJobQueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobQueued {
		if err := e.hook.OnJobQueued(ctx, j); err != nil {
			r.logHookError("OnJobQueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all hooks that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobProgress notifies all hooks that implement JobProgress.
func (r *Registry) EmitJobProgress(ctx context.Context, j *job.Job, progress int) {
	for _, e := range r.jobProgress {
		if err := e.hook.OnJobProgress(ctx, j, progress); err != nil {
			r.logHookError("OnJobProgress", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all hooks that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all hooks that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all hooks that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, availableAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, availableAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all hooks that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, j); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// EmitLeaseReclaimed notifies all hooks that implement LeaseReclaimed.
func (r *Registry) EmitLeaseReclaimed(ctx context.Context, j *job.Job) {
	for _, e := range r.leaseReclaimed {
		if err := e.hook.OnLeaseReclaimed(ctx, j); err != nil {
			r.logHookError("OnLeaseReclaimed", e.name, err)
		}
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block dispatch.
func (r *Registry) logHookError(event, hookName string, err error) {
	r.logger.Warn("hook error",
		slog.String("event", event),
		slog.String("hook", hookName),
		slog.String("error", err.Error()),
	)
}
