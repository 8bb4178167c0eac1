// Package middleware provides composable middleware for job execution.
//
// A [Middleware] is a function that wraps a job handler. Middleware are
// composed into a chain using [Chain] and applied around each job attempt.
// They are applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs job type, attempt, duration, and outcome at each execution
//   - [Recover] — catches panics and converts them to [*HandlerFault] errors
//   - [Tracing] — wraps execution in an OpenTelemetry span, linked to the
//     submitter's trace when the job carries a trace context
//   - [Metrics] — records per-attempt duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) ([]byte, error) {
//	        // pre-processing
//	        result, err := next(ctx)
//	        // post-processing
//	        return result, err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
