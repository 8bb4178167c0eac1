package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spoolq/spool"
	"github.com/spoolq/spool/backoff"
	"github.com/spoolq/spool/hook"
	"github.com/spoolq/spool/id"
	"github.com/spoolq/spool/job"
	"github.com/spoolq/spool/lease"
	"github.com/spoolq/spool/middleware"
	"github.com/spoolq/spool/store/memory"
	"github.com/spoolq/spool/worker"
)

// testRig bundles the pieces a pool test needs.
type testRig struct {
	store    job.Store
	registry *job.Registry
	hooks    *hook.Registry
	pool     *worker.Pool
}

func newRig(t *testing.T, opts ...worker.PoolOption) *testRig {
	t.Helper()
	return newRigWithStore(t, memory.New(), opts...)
}

func newRigWithStore(t *testing.T, store job.Store, opts ...worker.PoolOption) *testRig {
	t.Helper()
	logger := slog.Default()
	registry := job.NewRegistry()
	hooks := hook.NewRegistry(logger)

	exec := worker.NewExecutor(registry, hooks, store, backoff.NewConstant(0), logger,
		middleware.Recover(logger),
	)

	defaults := []worker.PoolOption{
		worker.WithPoolConcurrency(2),
		worker.WithPollInterval(10 * time.Millisecond),
		worker.WithLeaseTTL(time.Minute),
		worker.WithRenewInterval(20 * time.Millisecond),
	}
	pool := worker.NewPool(store, exec, hooks, logger, append(defaults, opts...)...)

	return &testRig{store: store, registry: registry, hooks: hooks, pool: pool}
}

func (r *testRig) enqueue(t *testing.T, jobType string, maxAttempts int) *job.Job {
	t.Helper()
	now := time.Now().UTC()
	j := &job.Job{
		ID:          id.NewJobID(),
		Type:        jobType,
		Payload:     []byte(`{}`),
		Priority:    5,
		State:       job.StateQueued,
		MaxAttempts: maxAttempts,
		AvailableAt: now,
		SubmittedAt: now,
	}
	if err := r.store.Enqueue(context.Background(), j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return j
}

func (r *testRig) start(t *testing.T) {
	t.Helper()
	if err := r.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.pool.Stop(ctx)
	})
}

// waitForState polls until the job reaches the wanted state or the deadline
// passes.
func (r *testRig) waitForState(t *testing.T, jobID id.JobID, want job.State) *job.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		j, err := r.store.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if j.State == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := r.store.Get(context.Background(), jobID)
	t.Fatalf("job %s never reached state %s (currently %s)", jobID, want, j.State)
	return nil
}

// ---------------------------------------------------------------------------
// Happy path
// ---------------------------------------------------------------------------

func TestPool_ProcessesJobToCompletion(t *testing.T) {
	rig := newRig(t)
	rig.registry.Register("echo", job.HandlerFunc(func(_ context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	}))

	j := rig.enqueue(t, "echo", 3)
	rig.start(t)
	rig.pool.Wake()

	done := rig.waitForState(t, j.ID, job.StateCompleted)
	if string(done.Result) != `{}` {
		t.Errorf("result = %q, want the echoed payload", done.Result)
	}
	if done.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", done.Attempts)
	}
	if done.Progress != 100 {
		t.Errorf("progress = %d, want 100", done.Progress)
	}
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	rig := newRig(t)
	var calls atomic.Int64
	rig.registry.Register("flaky", job.HandlerFunc(func(_ context.Context, _ []byte) ([]byte, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return []byte(`"ok"`), nil
	}))

	j := rig.enqueue(t, "flaky", 5)
	rig.start(t)
	rig.pool.Wake()

	done := rig.waitForState(t, j.ID, job.StateCompleted)
	if done.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", done.Attempts)
	}
}

// ---------------------------------------------------------------------------
// Failure handling
// ---------------------------------------------------------------------------

func TestPool_TerminalFailureAfterMaxAttempts(t *testing.T) {
	rig := newRig(t)
	var calls atomic.Int64
	rig.registry.Register("doomed", job.HandlerFunc(func(_ context.Context, _ []byte) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("always fails")
	}))

	var failedHook atomic.Int64
	rig.hooks.Register(failCounter{&failedHook})

	j := rig.enqueue(t, "doomed", 3)
	rig.start(t)
	rig.pool.Wake()

	done := rig.waitForState(t, j.ID, job.StateFailed)
	if done.Attempts != 3 {
		t.Errorf("attempts = %d, want exactly MaxAttempts", done.Attempts)
	}
	if calls.Load() != 3 {
		t.Errorf("handler ran %d times, want 3", calls.Load())
	}
	if done.LastError != "always fails" {
		t.Errorf("last error = %q, want the handler error", done.LastError)
	}
	if failedHook.Load() != 1 {
		t.Errorf("JobFailed hook fired %d times, want 1", failedHook.Load())
	}
}

func TestPool_PanicIsRecoveredAndCounted(t *testing.T) {
	rig := newRig(t)
	rig.registry.Register("panicky", job.HandlerFunc(func(_ context.Context, _ []byte) ([]byte, error) {
		panic("kaboom")
	}))

	j := rig.enqueue(t, "panicky", 2)
	rig.start(t)
	rig.pool.Wake()

	done := rig.waitForState(t, j.ID, job.StateFailed)
	if done.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", done.Attempts)
	}
	if done.LastError != "panic in panicky handler: kaboom" {
		t.Errorf("last error = %q, want the recovered panic message", done.LastError)
	}
}

func TestExecutor_UnregisteredTypeFailsTerminally(t *testing.T) {
	rig := newRig(t)
	// No handler registered for "ghost".
	j := rig.enqueue(t, "ghost", 5)
	rig.start(t)
	rig.pool.Wake()

	done := rig.waitForState(t, j.ID, job.StateFailed)
	if done.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retries for a missing handler)", done.Attempts)
	}
	if done.LastError != spool.ErrNoHandler.Error() {
		t.Errorf("last error = %q, want %q", done.LastError, spool.ErrNoHandler.Error())
	}
}

// ---------------------------------------------------------------------------
// Progress
// ---------------------------------------------------------------------------

func TestPool_HandlerReportsProgress(t *testing.T) {
	rig := newRig(t)
	seen := make(chan int, 8)
	rig.hooks.Register(progressRecorder{seen})

	rig.registry.Register("stepper", job.HandlerFunc(func(ctx context.Context, _ []byte) ([]byte, error) {
		job.ReportProgress(ctx, 25)
		job.ReportProgress(ctx, 75)
		return nil, nil
	}))

	j := rig.enqueue(t, "stepper", 3)
	rig.start(t)
	rig.pool.Wake()

	rig.waitForState(t, j.ID, job.StateCompleted)

	var got []int
	for len(seen) > 0 {
		got = append(got, <-seen)
	}
	if len(got) != 2 || got[0] != 25 || got[1] != 75 {
		t.Errorf("progress reports = %v, want [25 75]", got)
	}
}

// ---------------------------------------------------------------------------
// Cancellation
// ---------------------------------------------------------------------------

func TestPool_AdvisoryCancelCooperativeHandler(t *testing.T) {
	rig := newRig(t)
	started := make(chan struct{})
	rig.registry.Register("long", job.HandlerFunc(func(ctx context.Context, _ []byte) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	j := rig.enqueue(t, "long", 3)
	rig.start(t)
	rig.pool.Wake()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	if _, _, err := rig.store.RequestCancel(context.Background(), j.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	done := rig.waitForState(t, j.ID, job.StateCancelled)
	if done.FinishedAt == nil {
		t.Error("FinishedAt not set on cancelled job")
	}
}

func TestPool_AdvisoryCancelIgnoredByHandler(t *testing.T) {
	rig := newRig(t)
	started := make(chan struct{})
	release := make(chan struct{})
	rig.registry.Register("stubborn", job.HandlerFunc(func(_ context.Context, _ []byte) ([]byte, error) {
		close(started)
		<-release // ignores its context entirely
		return []byte(`"finished anyway"`), nil
	}))

	j := rig.enqueue(t, "stubborn", 3)
	rig.start(t)
	rig.pool.Wake()

	<-started
	if _, _, err := rig.store.RequestCancel(context.Background(), j.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	// Give the renew loop a moment to observe the flag, then let the
	// handler run to completion.
	time.Sleep(50 * time.Millisecond)
	close(release)

	done := rig.waitForState(t, j.ID, job.StateCompleted)
	if done.LastError != "cancel-requested-but-ran-to-completion" {
		t.Errorf("last error = %q, want the no-op cancellation note", done.LastError)
	}
	if string(done.Result) != `"finished anyway"` {
		t.Errorf("result = %q, want the handler result to stand", done.Result)
	}
}

// driverStore mimics network-backed stores: mutations fail as soon as the
// caller's context is done, the way pgx and go-redis drivers behave.
type driverStore struct {
	*memory.Store
}

func (s *driverStore) Complete(ctx context.Context, jobID id.JobID, owner id.WorkerID, result []byte, lastError string) (*job.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.Complete(ctx, jobID, owner, result, lastError)
}

func (s *driverStore) MarkCancelled(ctx context.Context, jobID id.JobID, owner id.WorkerID) (*job.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.MarkCancelled(ctx, jobID, owner)
}

func (s *driverStore) Requeue(ctx context.Context, jobID id.JobID, owner id.WorkerID, delay time.Duration, lastError string) (*job.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.Requeue(ctx, jobID, owner, delay, lastError)
}

func (s *driverStore) Fail(ctx context.Context, jobID id.JobID, owner id.WorkerID, lastError string) (*job.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.Fail(ctx, jobID, owner, lastError)
}

func TestPool_CooperativeCancelSettlesOnContextCheckingStore(t *testing.T) {
	rig := newRigWithStore(t, &driverStore{Store: memory.New()})
	started := make(chan struct{})
	rig.registry.Register("long", job.HandlerFunc(func(ctx context.Context, _ []byte) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	j := rig.enqueue(t, "long", 3)
	rig.start(t)
	rig.pool.Wake()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	if _, _, err := rig.store.RequestCancel(context.Background(), j.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	// The handler's context is already cancelled when it returns, so the
	// settlement write must not be carried on it.
	done := rig.waitForState(t, j.ID, job.StateCancelled)
	if done.FinishedAt == nil {
		t.Error("FinishedAt not set on cancelled job")
	}
}

func TestPool_IgnoredCancelCompletesOnContextCheckingStore(t *testing.T) {
	rig := newRigWithStore(t, &driverStore{Store: memory.New()})
	started := make(chan struct{})
	release := make(chan struct{})
	rig.registry.Register("stubborn", job.HandlerFunc(func(_ context.Context, _ []byte) ([]byte, error) {
		close(started)
		<-release
		return []byte(`"finished anyway"`), nil
	}))

	j := rig.enqueue(t, "stubborn", 3)
	rig.start(t)
	rig.pool.Wake()

	<-started
	if _, _, err := rig.store.RequestCancel(context.Background(), j.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)

	done := rig.waitForState(t, j.ID, job.StateCompleted)
	if string(done.Result) != `"finished anyway"` {
		t.Errorf("result = %q, want the handler result to stand", done.Result)
	}
	if done.LastError != "cancel-requested-but-ran-to-completion" {
		t.Errorf("last error = %q, want the no-op cancellation note", done.LastError)
	}
}

// ---------------------------------------------------------------------------
// Lease reclaim and redelivery
// ---------------------------------------------------------------------------

func TestPool_RedeliveryAfterLeaseReclaim(t *testing.T) {
	// A stalled worker never renews: the renew interval is far beyond the
	// lease TTL, so the first attempt's lease expires mid-flight.
	rig := newRig(t,
		worker.WithLeaseTTL(50*time.Millisecond),
		worker.WithRenewInterval(time.Hour),
	)
	reclaimer := lease.NewReclaimer(rig.store, rig.hooks, slog.Default(),
		lease.WithInterval(20*time.Millisecond),
		lease.WithWake(rig.pool.Wake),
	)

	var calls atomic.Int64
	firstStalled := make(chan struct{})
	releaseFirst := make(chan struct{})
	rig.registry.Register("stalls-once", job.HandlerFunc(func(_ context.Context, _ []byte) ([]byte, error) {
		if calls.Add(1) == 1 {
			close(firstStalled)
			<-releaseFirst
			return []byte(`"first"`), nil
		}
		return []byte(`"second"`), nil
	}))

	j := rig.enqueue(t, "stalls-once", 3)
	rig.start(t)
	if err := reclaimer.Start(context.Background()); err != nil {
		t.Fatalf("reclaimer Start: %v", err)
	}
	t.Cleanup(func() { reclaimer.Stop(context.Background()) })
	rig.pool.Wake()

	<-firstStalled
	done := rig.waitForState(t, j.ID, job.StateCompleted)
	if string(done.Result) != `"second"` {
		t.Errorf("result = %q, want the redelivered attempt's result", done.Result)
	}
	if done.Attempts != 2 {
		t.Errorf("attempts = %d, want 2 (reclaim must not add an increment)", done.Attempts)
	}
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2 under at-least-once redelivery", calls.Load())
	}

	// Let the stalled first attempt finish late: its settlement lost the
	// lease and must be discarded, leaving the redelivered result in place.
	close(releaseFirst)
	time.Sleep(50 * time.Millisecond)
	final, err := rig.store.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(final.Result) != `"second"` {
		t.Errorf("late settlement overwrote the result: %q", final.Result)
	}
	if final.State != job.StateCompleted {
		t.Errorf("state = %s, want completed after the late settlement is discarded", final.State)
	}
}

// ---------------------------------------------------------------------------
// Admission control
// ---------------------------------------------------------------------------

// denyingGate refuses the first n acquisitions, then allows everything.
type denyingGate struct {
	denials atomic.Int64
	n       int64
}

func (g *denyingGate) Acquire(string) bool {
	if g.denials.Load() < g.n {
		g.denials.Add(1)
		return false
	}
	return true
}

func (g *denyingGate) Release(string) {}

func TestPool_GateRefusalDoesNotBurnAttempts(t *testing.T) {
	gate := &denyingGate{n: 2}
	rig := newRig(t, worker.WithTypeGate(gate))
	rig.registry.Register("gated", job.HandlerFunc(func(_ context.Context, _ []byte) ([]byte, error) {
		return nil, nil
	}))

	j := rig.enqueue(t, "gated", 3)
	rig.start(t)
	rig.pool.Wake()

	done := rig.waitForState(t, j.ID, job.StateCompleted)
	if done.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (gate refusals must not count)", done.Attempts)
	}
	if gate.denials.Load() != 2 {
		t.Errorf("gate denials = %d, want 2", gate.denials.Load())
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestPool_StopWaitsForInflightJob(t *testing.T) {
	rig := newRig(t)
	started := make(chan struct{})
	rig.registry.Register("slow", job.HandlerFunc(func(_ context.Context, _ []byte) ([]byte, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return nil, nil
	}))

	j := rig.enqueue(t, "slow", 3)
	if err := rig.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rig.pool.Wake()

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rig.pool.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	done, err := rig.store.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if done.State != job.StateCompleted {
		t.Errorf("state after graceful stop = %s, want completed", done.State)
	}
}

func TestPool_StartStopIdempotent(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	if err := rig.pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rig.pool.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := rig.pool.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := rig.pool.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Hook helpers
// ---------------------------------------------------------------------------

type failCounter struct {
	n *atomic.Int64
}

func (failCounter) Name() string { return "fail-counter" }

func (c failCounter) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	c.n.Add(1)
	return nil
}

type progressRecorder struct {
	seen chan int
}

func (progressRecorder) Name() string { return "progress-recorder" }

func (r progressRecorder) OnJobProgress(_ context.Context, _ *job.Job, progress int) error {
	select {
	case r.seen <- progress:
	default:
	}
	return nil
}
