// Package engine wires the spool subsystems together — store, handler
// registry, hook registry, middleware chain, worker pool, lease reclaimer,
// event bus — and provides the Submit/Status/Cancel surface applications
// talk to.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/spoolq/spool"
	"github.com/spoolq/spool/backoff"
	"github.com/spoolq/spool/event"
	"github.com/spoolq/spool/hook"
	"github.com/spoolq/spool/id"
	"github.com/spoolq/spool/job"
	"github.com/spoolq/spool/lease"
	mw "github.com/spoolq/spool/middleware"
	"github.com/spoolq/spool/observability"
	"github.com/spoolq/spool/queue"
	"github.com/spoolq/spool/worker"
)

// Engine is the orchestration facade. Create one with New, register job
// definitions, then Start it.
type Engine struct {
	cfg      spool.Config
	store    job.Store
	registry *job.Registry
	hooks    *hook.Registry
	bus      *event.Bus
	bo       backoff.Strategy
	pool     *worker.Pool
	reclaim  *lease.Reclaimer
	gate     *queue.Manager
	logger   *slog.Logger

	// Collected by options before wiring.
	mws          []mw.Middleware
	userHooks    []hook.Hook
	queueConfigs []queue.Config
	retention    time.Duration

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Per-type submission defaults captured at registration.
	typeMu   sync.RWMutex
	typeOpts map[string]job.Options

	mu        sync.Mutex
	running   bool
	purgeStop chan struct{}
	wg        sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine tuning parameters. Zero fields fall back to
// their defaults.
func WithConfig(cfg spool.Config) Option {
	return func(eng *Engine) {
		def := spool.DefaultConfig()
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = def.Concurrency
		}
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = def.PollInterval
		}
		if cfg.LeaseTTL <= 0 {
			cfg.LeaseTTL = def.LeaseTTL
		}
		if cfg.RenewInterval <= 0 {
			cfg.RenewInterval = def.RenewInterval
		}
		if cfg.ReclaimInterval <= 0 {
			cfg.ReclaimInterval = def.ReclaimInterval
		}
		if cfg.ShutdownTimeout <= 0 {
			cfg.ShutdownTimeout = def.ShutdownTimeout
		}
		if cfg.DefaultPriority <= 0 {
			cfg.DefaultPriority = def.DefaultPriority
		}
		if cfg.DefaultMaxAttempts <= 0 {
			cfg.DefaultMaxAttempts = def.DefaultMaxAttempts
		}
		eng.cfg = cfg
	}
}

// WithLogger sets the logger for the engine and every subsystem it builds.
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = logger }
}

// WithMiddleware appends middleware to the execution chain, after the
// default recover/tracing/metrics/logging stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithHook registers a lifecycle hook with the engine.
func WithHook(h hook.Hook) Option {
	return func(eng *Engine) { eng.userHooks = append(eng.userHooks, h) }
}

// WithBackoff sets the retry backoff strategy.
// If not set, backoff.DefaultStrategy() (exponential) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithQueueConfig registers per-type rate limiting and concurrency
// configurations. Types not listed have no type-specific limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithRetention enables background purging of terminal jobs older than d.
// Zero (the default) disables purging; retired jobs stay until the
// application calls the store's PurgeFinished itself.
func WithRetention(d time.Duration) Option {
	return func(eng *Engine) { eng.retention = d }
}

// WithTracerProvider sets a custom OTel TracerProvider. When set, the
// tracing middleware uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, both the
// metrics middleware and the observability hook use this provider instead
// of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine on the given store and wires all subsystems.
func New(store job.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, spool.ErrNoStore
	}

	eng := &Engine{
		cfg:      spool.DefaultConfig(),
		store:    store,
		registry: job.NewRegistry(),
		bus:      event.NewBus(),
		logger:   slog.Default(),
		typeOpts: make(map[string]job.Options),
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	eng.hooks = hook.NewRegistry(eng.logger)

	// Observability hook (custom meter provider or global).
	var obs *observability.MetricsHook
	if eng.meterProvider != nil {
		obs = observability.NewMetricsHookWithMeter(
			eng.meterProvider.Meter("github.com/spoolq/spool/observability"))
	} else {
		obs = observability.NewMetricsHook()
	}
	eng.hooks.Register(obs)
	eng.hooks.Register(event.NewPublisher(eng.bus))
	for _, h := range eng.userHooks {
		eng.hooks.Register(h)
	}

	// Tracing and metrics middleware (custom providers or global).
	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/spoolq/spool"))
	}
	metricsMw := mw.Metrics()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/spoolq/spool"))
	}

	// Default middleware stack: recover → tracing → metrics → logging.
	allMws := append([]mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
	}, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.hooks, eng.store, eng.bo, eng.logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(eng.cfg.Concurrency),
		worker.WithPollInterval(eng.cfg.PollInterval),
		worker.WithLeaseTTL(eng.cfg.LeaseTTL),
		worker.WithRenewInterval(eng.cfg.RenewInterval),
	}
	if len(eng.queueConfigs) > 0 {
		eng.gate = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithTypeGate(eng.gate))
	}
	eng.pool = worker.NewPool(eng.store, executor, eng.hooks, eng.logger, poolOpts...)

	eng.reclaim = lease.NewReclaimer(eng.store, eng.hooks, eng.logger,
		lease.WithInterval(eng.cfg.ReclaimInterval),
		lease.WithWake(eng.pool.Wake),
	)

	return eng, nil
}

// Register registers a typed job definition with the engine. The
// definition's options become submission defaults for its type.
func Register[T, R any](eng *Engine, def *job.Definition[T, R]) {
	job.RegisterDefinition(eng.registry, def)

	eng.typeMu.Lock()
	eng.typeOpts[def.Type] = def.Opts
	eng.typeMu.Unlock()
}

// Submit marshals payload and enqueues a job of the given type.
func Submit[T any](ctx context.Context, eng *Engine, jobType string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job type %q: %w", jobType, err)
	}
	return eng.SubmitRaw(ctx, jobType, data, opts...)
}

// SubmitRaw enqueues a job with a pre-serialized payload. The type must
// have a registered handler: unregistered types are rejected at submission
// rather than discovered at execution.
func (eng *Engine) SubmitRaw(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	if _, ok := eng.registry.Get(jobType); !ok {
		return nil, fmt.Errorf("submit job type %q: %w", jobType, spool.ErrInvalidType)
	}

	jobOpts := eng.defaultsFor(jobType)
	for _, opt := range opts {
		opt(&jobOpts)
	}

	now := time.Now().UTC()
	availableAt := now
	if !jobOpts.AvailableAt.IsZero() {
		availableAt = jobOpts.AvailableAt.UTC()
	}

	traceCtx := jobOpts.TraceContext
	if traceCtx == "" {
		traceCtx = traceContextFrom(ctx)
	}

	j := &job.Job{
		ID:           id.NewJobID(),
		Type:         jobType,
		Payload:      payload,
		Priority:     jobOpts.Priority,
		State:        job.StateQueued,
		MaxAttempts:  jobOpts.MaxAttempts,
		AvailableAt:  availableAt,
		SubmittedAt:  now,
		UpdatedAt:    now,
		TraceContext: traceCtx,
	}

	if err := eng.store.Enqueue(ctx, j); err != nil {
		return nil, err
	}

	eng.hooks.EmitJobQueued(ctx, j)
	eng.pool.Wake()
	return j, nil
}

// Status returns the read view of a job.
func (eng *Engine) Status(ctx context.Context, jobID id.JobID) (job.Status, error) {
	j, err := eng.store.Get(ctx, jobID)
	if err != nil {
		return job.Status{}, err
	}
	return j.Status(), nil
}

// Cancel requests cancellation of a job. A queued job settles cancelled
// immediately (immediate=true); an active job is flagged and its handler's
// context is cancelled on the next lease renewal (immediate=false).
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) (*job.Job, bool, error) {
	j, immediate, err := eng.store.RequestCancel(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if immediate {
		eng.hooks.EmitJobCancelled(ctx, j)
	}
	return j, immediate, nil
}

// List returns jobs in the given state, ordered by submission time.
func (eng *Engine) List(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	return eng.store.List(ctx, state, opts)
}

// Count returns the number of jobs matching the given options.
func (eng *Engine) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	return eng.store.Count(ctx, opts)
}

// Subscribe returns a subscription delivering lifecycle events. Events are
// best-effort notifications; Status remains the source of truth.
func (eng *Engine) Subscribe(buffer int) *event.Subscription {
	return eng.bus.Subscribe(buffer)
}

// Start begins job processing: the worker pool, the lease reclaimer, and
// (when retention is configured) the purge loop.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.running {
		return nil
	}
	eng.running = true

	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := eng.reclaim.Start(ctx); err != nil {
		return fmt.Errorf("start lease reclaimer: %w", err)
	}

	if eng.retention > 0 {
		eng.purgeStop = make(chan struct{})
		eng.wg.Add(1)
		go eng.purgeLoop()
	}

	return nil
}

// Stop gracefully shuts down the engine. If ctx carries no deadline, the
// configured ShutdownTimeout applies.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if !eng.running {
		eng.mu.Unlock()
		return nil
	}
	eng.running = false
	purgeStop := eng.purgeStop
	eng.purgeStop = nil
	eng.mu.Unlock()

	if purgeStop != nil {
		close(purgeStop)
	}

	if err := eng.reclaim.Stop(ctx); err != nil {
		eng.logger.Error("lease reclaimer stop error", slog.String("error", err.Error()))
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := eng.pool.Stop(ctx); err != nil {
		eng.logger.Error("worker pool stop error", slog.String("error", err.Error()))
	}

	eng.wg.Wait()
	eng.hooks.EmitShutdown(ctx)
	return nil
}

// Registry returns the handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Bus returns the event bus.
func (eng *Engine) Bus() *event.Bus { return eng.bus }

// Store returns the underlying job store.
func (eng *Engine) Store() job.Store { return eng.store }

// QueueManager returns the per-type admission manager, or nil when no
// queue configs were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.gate }

// WorkerID returns the pool's worker identifier.
func (eng *Engine) WorkerID() id.WorkerID { return eng.pool.WorkerID() }

// defaultsFor resolves submission defaults: the registered definition's
// options when present, otherwise the engine config defaults.
func (eng *Engine) defaultsFor(jobType string) job.Options {
	eng.typeMu.RLock()
	defer eng.typeMu.RUnlock()

	if opts, ok := eng.typeOpts[jobType]; ok {
		return opts
	}
	return job.Options{
		Priority:    eng.cfg.DefaultPriority,
		MaxAttempts: eng.cfg.DefaultMaxAttempts,
	}
}

// purgeLoop enforces the retention window for retired jobs.
func (eng *Engine) purgeLoop() {
	defer eng.wg.Done()

	// Scan at the retention interval, capped so short windows purge promptly.
	interval := eng.retention
	if interval > time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-eng.purgeStop:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-eng.retention)
			n, err := eng.store.PurgeFinished(context.Background(), cutoff)
			if err != nil {
				eng.logger.Error("purge finished jobs failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				eng.logger.Info("purged retired jobs", slog.Int64("count", n))
			}
		}
	}
}

// traceContextFrom serializes the current span context into a W3C
// traceparent header for cross-process correlation. Empty when ctx carries
// no recording span.
func traceContextFrom(ctx context.Context) string {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return ""
	}
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier.Get("traceparent")
}
