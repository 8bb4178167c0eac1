// Package observability provides an OpenTelemetry-based metrics hook for
// spool. The MetricsHook implements lifecycle hooks to record system-wide
// counters for job queueing, completion, failure, retry, cancellation, and
// lease reclaim, plus histograms for queue wait time and processing time.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
