// Package spool provides a leased, prioritized job queue for Go. It accepts
// heterogeneous asynchronous tasks, dispatches them to a bounded pool of
// concurrent workers, tracks per-job lifecycle state and progress, and
// guarantees recoverable at-least-once execution through leases, retries,
// and exponential backoff.
//
// Spool is designed as a library, not a service. Import it, configure a
// store, register handlers as ordinary Go functions, and submit work:
//
//	s := memory.New()
//	eng, err := engine.New(s)
//	engine.Register(eng, job.NewDefinition("echo",
//	    func(ctx context.Context, in Echo) (Echo, error) { return in, nil },
//	))
//	eng.Start(ctx)
//	j, err := engine.Submit(ctx, eng, "echo", Echo{X: 1})
//
// # Architecture
//
// The store is the single contended critical section: its Acquire operation
// fuses dequeue and lease acquisition into one atomic step, so two workers
// can never claim the same job. All other job mutations are guarded by the
// lease token and fail with ErrLeaseLost once the lease has been reclaimed.
// A background reclaimer returns expired leases to the queue, which is what
// makes delivery at-least-once under worker crash or stall.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers ("job_…", "wkr_…").
package spool
