// Package worker provides the job execution engine — an Executor that runs
// a single leased attempt through middleware and the registered handler,
// and a Pool that manages concurrent worker goroutines acquiring jobs.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spoolq/spool"
	"github.com/spoolq/spool/backoff"
	"github.com/spoolq/spool/hook"
	"github.com/spoolq/spool/id"
	"github.com/spoolq/spool/job"
	"github.com/spoolq/spool/middleware"
)

// noopNote is recorded as LastError when a cancellation was requested but
// the in-flight attempt ran to completion anyway. The result stands; the
// note tells status readers the cancel had no effect.
const noopNote = "cancel-requested-but-ran-to-completion"

// Executor runs a single leased attempt through middleware and the
// registered handler, then settles the outcome: complete, retry with
// backoff, terminal failure, or cooperative cancellation.
//
// Every settlement goes through a lease-checked store mutation. When the
// lease was lost — the reclaimer already requeued the job — the outcome is
// discarded silently and redelivery supersedes it.
type Executor struct {
	registry *job.Registry
	hooks    *hook.Registry
	store    job.Store
	backoff  backoff.Strategy
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	hooks *hook.Registry,
	store job.Store,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		hooks:    hooks,
		store:    store,
		backoff:  bo,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs one leased attempt of j to settlement. cancelRequested
// reports whether an advisory cancellation has been observed for this
// attempt; the pool cancels ctx when it flips.
//
// On success: settles completed, emits JobCompleted.
// On cooperative cancel: settles cancelled, emits JobCancelled.
// On failure with attempts remaining: requeues with backoff, emits JobRetrying.
// On failure with attempts exhausted: settles failed, emits JobFailed.
func (e *Executor) Execute(ctx context.Context, workerID id.WorkerID, j *job.Job, cancelRequested func() bool) error {
	// Settlement writes must not ride the attempt context: the pool cancels
	// it on advisory cancellation and on shutdown deadlines, and stores
	// backed by a network driver fail fast on a done context. The outcome
	// still has to land.
	settleCtx := context.WithoutCancel(ctx)

	handler, ok := e.registry.Get(j.Type)
	if !ok {
		// Registration is checked at submit time, so this means the type
		// was registered then but not now (e.g. a different worker build).
		// Retrying cannot help; fail terminally.
		return e.settleFailed(settleCtx, j, workerID, spool.ErrNoHandler)
	}

	// Thread a progress reporter through the handler context. Progress is a
	// lease-checked write; once the lease is lost the report is dropped.
	execCtx := job.WithProgressReporter(ctx, func(pctx context.Context, progress int) {
		if err := e.store.SetProgress(pctx, j.ID, workerID, progress); err != nil {
			if !errors.Is(err, spool.ErrLeaseLost) {
				e.logger.Warn("progress update failed",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		j.Progress = progress
		e.hooks.EmitJobProgress(pctx, j, progress)
	})

	terminal := func(ctx context.Context) ([]byte, error) {
		return handler.Execute(ctx, j.Payload)
	}

	start := time.Now()
	result, err := e.mw(execCtx, j, terminal)
	elapsed := time.Since(start)

	if err == nil {
		return e.settleCompleted(settleCtx, j, workerID, result, elapsed, cancelRequested())
	}

	// A handler that returned its context's cancellation error after an
	// advisory cancel cooperated; settle as cancelled, not failed.
	if cancelRequested() && errors.Is(err, context.Canceled) {
		return e.settleCancelled(settleCtx, j, workerID)
	}

	if j.Attempts >= j.MaxAttempts {
		return e.settleFailed(settleCtx, j, workerID, err)
	}
	return e.settleRetry(settleCtx, j, workerID, err)
}

func (e *Executor) settleCompleted(ctx context.Context, j *job.Job, workerID id.WorkerID, result []byte, elapsed time.Duration, cancelled bool) error {
	note := ""
	if cancelled {
		note = noopNote
	}

	settled, err := e.store.Complete(ctx, j.ID, workerID, result, note)
	if err != nil {
		return e.settleError(j, "complete", err)
	}

	e.hooks.EmitJobCompleted(ctx, settled, elapsed)
	return nil
}

func (e *Executor) settleCancelled(ctx context.Context, j *job.Job, workerID id.WorkerID) error {
	settled, err := e.store.MarkCancelled(ctx, j.ID, workerID)
	if err != nil {
		return e.settleError(j, "cancel", err)
	}

	e.logger.Info("job cancelled cooperatively",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
	)
	e.hooks.EmitJobCancelled(ctx, settled)
	return nil
}

func (e *Executor) settleRetry(ctx context.Context, j *job.Job, workerID id.WorkerID, handlerErr error) error {
	delay := e.backoff.Delay(j.Attempts)

	settled, err := e.store.Requeue(ctx, j.ID, workerID, delay, handlerErr.Error())
	if err != nil {
		return e.settleError(j, "requeue", err)
	}

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", settled.Attempts),
		slog.Int("max_attempts", settled.MaxAttempts),
		slog.Duration("delay", delay),
		slog.String("error", handlerErr.Error()),
	)
	e.hooks.EmitJobRetrying(ctx, settled, settled.Attempts, settled.AvailableAt)
	e.hooks.EmitJobQueued(ctx, settled)
	return handlerErr
}

func (e *Executor) settleFailed(ctx context.Context, j *job.Job, workerID id.WorkerID, handlerErr error) error {
	settled, err := e.store.Fail(ctx, j.ID, workerID, handlerErr.Error())
	if err != nil {
		return e.settleError(j, "fail", err)
	}

	e.logger.Warn("job failed terminally",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempts", settled.Attempts),
		slog.String("error", handlerErr.Error()),
	)
	e.hooks.EmitJobFailed(ctx, settled, handlerErr)
	return handlerErr
}

// settleError handles a failed settlement write. A lost lease is expected
// under at-least-once delivery: the reclaimer took the job back and the
// outcome is discarded.
func (e *Executor) settleError(j *job.Job, op string, err error) error {
	if errors.Is(err, spool.ErrLeaseLost) {
		e.logger.Info("lease lost, attempt outcome discarded",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("op", op),
		)
		return nil
	}
	e.logger.Error("failed to settle job",
		slog.String("job_id", j.ID.String()),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return err
}
