package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/spoolq/spool/hook"
	"github.com/spoolq/spool/job"
)

// meterName is the instrumentation scope name for spool observability.
const meterName = "github.com/spoolq/spool/observability"

// Compile-time interface checks.
var (
	_ hook.Hook           = (*MetricsHook)(nil)
	_ hook.JobQueued      = (*MetricsHook)(nil)
	_ hook.JobStarted     = (*MetricsHook)(nil)
	_ hook.JobCompleted   = (*MetricsHook)(nil)
	_ hook.JobFailed      = (*MetricsHook)(nil)
	_ hook.JobRetrying    = (*MetricsHook)(nil)
	_ hook.JobCancelled   = (*MetricsHook)(nil)
	_ hook.LeaseReclaimed = (*MetricsHook)(nil)
)

// MetricsHook records system-wide lifecycle metrics via OpenTelemetry.
// Register it with the hook registry to automatically track queue rates,
// completion counts, failure rates, retries, cancellations, reclaimed
// leases, queue wait times, and processing times. All instruments carry a
// job_type attribute.
type MetricsHook struct {
	queued    metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	cancelled metric.Int64Counter
	reclaimed metric.Int64Counter

	queueWait  metric.Float64Histogram
	processing metric.Float64Histogram
}

// NewMetricsHook creates a MetricsHook using the global OTel MeterProvider.
// Without a configured provider the instruments are noops.
func NewMetricsHook() *MetricsHook {
	return NewMetricsHookWithMeter(otel.Meter(meterName))
}

// NewMetricsHookWithMeter creates a MetricsHook with the provided meter.
// Use this variant to inject a specific MeterProvider for testing.
func NewMetricsHookWithMeter(meter metric.Meter) *MetricsHook {
	h := &MetricsHook{}
	// On instrument creation errors, the OTel API contract guarantees a
	// noop instrument, so errors are safe to discard.
	h.queued, _ = meter.Int64Counter("spool.job.queued",
		metric.WithDescription("Jobs accepted into the queue"),
		metric.WithUnit("{job}"))
	h.completed, _ = meter.Int64Counter("spool.job.completed",
		metric.WithDescription("Jobs that finished successfully"),
		metric.WithUnit("{job}"))
	h.failed, _ = meter.Int64Counter("spool.job.failed",
		metric.WithDescription("Jobs that failed terminally"),
		metric.WithUnit("{job}"))
	h.retried, _ = meter.Int64Counter("spool.job.retried",
		metric.WithDescription("Job attempts scheduled for retry"),
		metric.WithUnit("{attempt}"))
	h.cancelled, _ = meter.Int64Counter("spool.job.cancelled",
		metric.WithDescription("Jobs cancelled before completion"),
		metric.WithUnit("{job}"))
	h.reclaimed, _ = meter.Int64Counter("spool.lease.reclaimed",
		metric.WithDescription("Leases reclaimed after expiry"),
		metric.WithUnit("{lease}"))
	h.queueWait, _ = meter.Float64Histogram("spool.job.queue_wait",
		metric.WithDescription("Time from submission to first pickup in seconds"),
		metric.WithUnit("s"))
	h.processing, _ = meter.Float64Histogram("spool.job.processing_time",
		metric.WithDescription("Time spent executing a job in seconds"),
		metric.WithUnit("s"))
	return h
}

// Name implements hook.Hook.
func (m *MetricsHook) Name() string { return "observability-metrics" }

func typeAttr(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_type", j.Type))
}

// OnJobQueued implements hook.JobQueued.
func (m *MetricsHook) OnJobQueued(ctx context.Context, j *job.Job) error {
	m.queued.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobStarted implements hook.JobStarted. Queue wait is measured from
// submission, so redelivered jobs report the full time since first submit.
func (m *MetricsHook) OnJobStarted(ctx context.Context, j *job.Job) error {
	if j.StartedAt != nil && !j.SubmittedAt.IsZero() {
		m.queueWait.Record(ctx, j.StartedAt.Sub(j.SubmittedAt).Seconds(), typeAttr(j))
	}
	return nil
}

// OnJobCompleted implements hook.JobCompleted.
func (m *MetricsHook) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.completed.Add(ctx, 1, typeAttr(j))
	m.processing.Record(ctx, elapsed.Seconds(), typeAttr(j))
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (m *MetricsHook) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobRetrying implements hook.JobRetrying.
func (m *MetricsHook) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCancelled implements hook.JobCancelled.
func (m *MetricsHook) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.cancelled.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnLeaseReclaimed implements hook.LeaseReclaimed.
func (m *MetricsHook) OnLeaseReclaimed(ctx context.Context, j *job.Job) error {
	m.reclaimed.Add(ctx, 1, typeAttr(j))
	return nil
}
