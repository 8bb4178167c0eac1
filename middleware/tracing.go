package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/spoolq/spool/job"
)

// tracerName is the instrumentation scope name for spool tracing.
const tracerName = "github.com/spoolq/spool"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// When the job carries a W3C traceparent in its TraceContext field, the span
// is parented to the submitter's trace, linking execution back to the request
// that enqueued it. Span attributes include: spool.job.id, spool.job.type,
// spool.job.priority, spool.job.attempt. On error, the span status is set to
// codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	propagator := propagation.TraceContext{}
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		if j.TraceContext != "" {
			carrier := propagation.MapCarrier{"traceparent": j.TraceContext}
			ctx = propagator.Extract(ctx, carrier)
		}

		ctx, span := tracer.Start(ctx, "spool.job.execute",
			trace.WithAttributes(
				attribute.String("spool.job.id", j.ID.String()),
				attribute.String("spool.job.type", j.Type),
				attribute.Int("spool.job.priority", j.Priority),
				attribute.Int("spool.job.attempt", j.Attempts),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		result, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return result, err
	}
}
