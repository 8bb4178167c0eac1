package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spoolq/spool"
	"github.com/spoolq/spool/hook"
	"github.com/spoolq/spool/id"
	"github.com/spoolq/spool/job"
)

// TypeGate controls per-type rate limiting and concurrency. The worker pool
// calls Acquire before executing an acquired job and Release after
// execution completes.
type TypeGate interface {
	// Acquire checks rate limits and concurrency for the job type.
	// Returns true if the job is allowed to proceed.
	Acquire(jobType string) bool
	// Release decrements the active count for the job type.
	Release(jobType string)
}

// attempt tracks one in-flight job on this pool.
type attempt struct {
	cancel          context.CancelFunc
	cancelRequested atomic.Bool
}

// Pool manages a set of concurrent worker goroutines that acquire leased
// jobs from the store and execute them through the Executor. A single
// renewal loop keeps the leases of all in-flight jobs alive and watches for
// advisory cancellations.
type Pool struct {
	store        job.Store
	executor     *Executor
	hooks        *hook.Registry
	concurrency  int
	pollInterval time.Duration
	leaseTTL     time.Duration
	renewEvery   time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Per-type admission control (optional).
	gate TypeGate

	wakeCh  chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	active   map[string]*attempt
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long idle workers sleep between store polls
// when no wake signal arrives.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLeaseTTL sets the lease duration requested at acquire time.
func WithLeaseTTL(d time.Duration) PoolOption {
	return func(p *Pool) { p.leaseTTL = d }
}

// WithRenewInterval sets how often leases of in-flight jobs are extended.
// It must be comfortably below the lease TTL.
func WithRenewInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.renewEvery = d }
}

// WithTypeGate sets the gate for per-type rate limiting and concurrency
// control.
func WithTypeGate(g TypeGate) PoolOption {
	return func(p *Pool) { p.gate = g }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		hooks:        hooks,
		concurrency:  10,
		pollInterval: time.Second,
		leaseTTL:     30 * time.Second,
		renewEvery:   10 * time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		active:       make(map[string]*attempt),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier, which doubles as
// the lease token on every store mutation.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Wake nudges one idle worker to poll the store immediately. Submitters
// call it after enqueueing so fresh jobs do not wait out a poll interval.
// Non-blocking; redundant wakes collapse into one.
func (p *Pool) Wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// Start launches the worker goroutines and the lease renewal loop.
// It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.workerLoop()
	}

	p.wg.Add(1)
	go p.renewLoop()

	return nil
}

// Stop signals all workers to stop and waits for in-flight jobs to settle.
// If the context has a deadline, remaining handlers are cancelled when time
// runs out; their interrupted attempts are requeued with backoff and
// redelivered later.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// workerLoop is run by each worker goroutine.
func (p *Pool) workerLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, err := p.store.Acquire(context.Background(), p.workerID, p.leaseTTL)
		if err != nil {
			if !errors.Is(err, spool.ErrStoreClosed) {
				p.logger.Error("acquire error", slog.String("error", err.Error()))
			}
			p.idle()
			continue
		}

		if j == nil {
			p.idle()
			continue
		}

		// Per-type admission control. The job is already leased, so hand
		// it back without burning the attempt.
		if p.gate != nil && !p.gate.Acquire(j.Type) {
			if _, relErr := p.store.Release(context.Background(), j.ID, p.workerID, p.pollInterval); relErr != nil {
				p.logger.Error("failed to release rate-limited job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", relErr.Error()),
				)
			}
			p.idle()
			continue
		}

		p.runJob(j)

		if p.gate != nil {
			p.gate.Release(j.Type)
		}
	}
}

func (p *Pool) runJob(j *job.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{cancel: cancel}
	p.trackJob(j.ID.String(), a)
	defer func() {
		p.untrackJob(j.ID.String())
		cancel()
	}()

	p.hooks.EmitJobStarted(context.Background(), j)

	if execErr := p.executor.Execute(ctx, p.workerID, j, a.cancelRequested.Load); execErr != nil {
		p.logger.Debug("job attempt did not complete",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", execErr.Error()),
		)
	}
}

// renewLoop extends the leases of all in-flight jobs and propagates
// advisory cancellations into their contexts.
func (p *Pool) renewLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.renewActive()
		}
	}
}

func (p *Pool) renewActive() {
	p.activeMu.Lock()
	snapshot := make(map[string]*attempt, len(p.active))
	for jobID, a := range p.active {
		snapshot[jobID] = a
	}
	p.activeMu.Unlock()

	for jobIDStr, a := range snapshot {
		jobID, parseErr := id.ParseJobID(jobIDStr)
		if parseErr != nil {
			p.logger.Warn("renew: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}

		cur, err := p.store.Get(context.Background(), jobID)
		if err == nil && cur.CancelRequested && !a.cancelRequested.Load() {
			a.cancelRequested.Store(true)
			a.cancel()
			p.logger.Info("cancellation requested, signalling handler",
				slog.String("job_id", jobIDStr),
			)
		}

		if err := p.store.Renew(context.Background(), jobID, p.workerID, p.leaseTTL); err != nil {
			if errors.Is(err, spool.ErrLeaseLost) {
				// The reclaimer took the job back; stop the wasted work.
				a.cancel()
				continue
			}
			p.logger.Warn("lease renewal failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// idle waits for a wake signal, the poll interval, or shutdown.
func (p *Pool) idle() {
	select {
	case <-p.wakeCh:
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, a *attempt) {
	p.activeMu.Lock()
	p.active[jobID] = a
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.active, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, a := range p.active {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		a.cancel()
	}
}
