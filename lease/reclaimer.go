// Package lease provides the background reclaimer that recovers jobs from
// crashed or stalled workers. A worker holds a job through a time-bounded
// lease; when the lease expires without renewal, the reclaimer returns the
// job to the queue (or fails it terminally when its attempts are exhausted),
// which is what makes delivery at-least-once.
package lease

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/spoolq/spool/hook"
	"github.com/spoolq/spool/job"
)

// Reclaimer periodically scans the store for active jobs whose lease has
// expired and transitions them back to the queue.
type Reclaimer struct {
	store    job.Store
	hooks    *hook.Registry
	logger   *slog.Logger
	interval time.Duration
	wake     func()

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Option configures a Reclaimer.
type Option func(*Reclaimer)

// WithInterval sets how often the reclaimer scans for expired leases.
func WithInterval(d time.Duration) Option {
	return func(r *Reclaimer) { r.interval = d }
}

// WithWake sets a callback invoked after a scan requeues at least one job,
// so idle workers pick up the recovered work without waiting out a poll
// interval.
func WithWake(fn func()) Option {
	return func(r *Reclaimer) { r.wake = fn }
}

// NewReclaimer creates a Reclaimer.
func NewReclaimer(store job.Store, hooks *hook.Registry, logger *slog.Logger, opts ...Option) *Reclaimer {
	r := &Reclaimer{
		store:    store,
		hooks:    hooks,
		logger:   logger,
		interval: 5 * time.Second,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the reclaim loop. It returns immediately.
func (r *Reclaimer) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	r.running = true

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop signals the loop to stop and waits for it to finish.
func (r *Reclaimer) Stop(_ context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
	return nil
}

func (r *Reclaimer) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.RunOnce(context.Background()); err != nil {
				r.logger.Error("lease reclaim scan failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce performs a single reclaim scan and emits lifecycle hooks for every
// affected job.
func (r *Reclaimer) RunOnce(ctx context.Context) error {
	reclaimed, err := r.store.ReclaimExpired(ctx)
	if err != nil {
		return err
	}

	requeued := 0
	for _, j := range reclaimed {
		r.hooks.EmitLeaseReclaimed(ctx, j)

		switch j.State {
		case job.StateFailed:
			r.logger.Warn("lease expired on final attempt, job failed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.Int("attempts", j.Attempts),
			)
			r.hooks.EmitJobFailed(ctx, j, errors.New(j.LastError))
		default:
			r.logger.Info("lease expired, job requeued",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.Int("attempts", j.Attempts),
			)
			r.hooks.EmitJobQueued(ctx, j)
			requeued++
		}
	}

	if requeued > 0 && r.wake != nil {
		r.wake()
	}
	return nil
}
