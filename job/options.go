package job

import "time"

// Options configures per-job behavior at submission time.
type Options struct {
	// Priority determines dispatch ordering. Lower values are dispatched
	// first (1 = high, 5 = normal, 10 = low).
	Priority int

	// MaxAttempts is the ceiling on processing attempts before terminal
	// failure.
	MaxAttempts int

	// AvailableAt schedules the job for future dispatch. Zero means
	// immediately eligible.
	AvailableAt time.Time

	// TraceContext is an opaque correlation token carried on the job for
	// observability collaborators.
	TraceContext string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Priority:    5,
		MaxAttempts: 3,
	}
}

// Option is a functional option for job submission.
type Option func(*Options)

// WithPriority sets the job priority. Lower values are dispatched first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithMaxAttempts sets the ceiling on processing attempts.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithAvailableAt schedules the job for dispatch at a specific time.
func WithAvailableAt(t time.Time) Option {
	return func(o *Options) {
		o.AvailableAt = t
	}
}

// WithTraceContext attaches an opaque correlation token to the job.
func WithTraceContext(tc string) Option {
	return func(o *Options) {
		o.TraceContext = tc
	}
}
