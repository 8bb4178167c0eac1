package job

import "context"

// ProgressReporter receives progress percentages from a running handler.
// The worker pool injects one into the handler context; it persists the
// value under the lease token and notifies subscribers.
type ProgressReporter func(ctx context.Context, progress int)

type progressKey struct{}

// WithProgressReporter returns a context carrying the given reporter.
func WithProgressReporter(ctx context.Context, r ProgressReporter) context.Context {
	return context.WithValue(ctx, progressKey{}, r)
}

// ReportProgress reports handler progress as a percentage in [0, 100].
// Values outside the range are clamped. It is a no-op when the context
// carries no reporter, so handlers can call it unconditionally.
func ReportProgress(ctx context.Context, progress int) {
	r, ok := ctx.Value(progressKey{}).(ProgressReporter)
	if !ok {
		return
	}

	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}
	r(ctx, progress)
}
