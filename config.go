package spool

import "time"

// Config holds tuning parameters for the engine. Lease and backoff numbers
// are configuration, not contract: callers override them per deployment.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int

	// PollInterval is how long an idle worker sleeps between store polls
	// when no wake signal arrives.
	PollInterval time.Duration

	// LeaseTTL is how long a worker may hold a job without renewal before
	// the reclaimer returns it to the queue.
	LeaseTTL time.Duration

	// RenewInterval is how often leases of in-flight jobs are extended.
	// It must be comfortably below LeaseTTL.
	RenewInterval time.Duration

	// ReclaimInterval is how often the background reclaimer scans for
	// expired leases.
	ReclaimInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// before in-flight handlers are cancelled.
	ShutdownTimeout time.Duration

	// DefaultPriority is assigned to jobs submitted without an explicit
	// priority. Lower values are dispatched first.
	DefaultPriority int

	// DefaultMaxAttempts caps processing attempts before terminal failure.
	DefaultMaxAttempts int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		PollInterval:       time.Second,
		LeaseTTL:           30 * time.Second,
		RenewInterval:      10 * time.Second,
		ReclaimInterval:    5 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		DefaultPriority:    5,
		DefaultMaxAttempts: 3,
	}
}
