// Package queue provides per-type admission control for job dispatch.
//
// Jobs carry a Type field; the Manager enforces optional rate limits and
// concurrency caps per type at pickup time, on top of the pool-wide
// concurrency bound. Types without a [Config] have no limits.
//
// # Per-Type Configuration
//
// Use [Config] to set per-type rate limits and concurrency caps:
//
//	queue.Config{
//	    Type:           "email",
//	    MaxConcurrency: 5,      // max 5 concurrent email jobs
//	    RateLimit:      10,     // max 10 email jobs/s picked up
//	    RateBurst:      20,     // allow bursts up to 20
//	}
//
// # Manager
//
// [Manager] enforces the limits at pickup time. It uses a token-bucket rate
// limiter (golang.org/x/time/rate) and an active-count gate for concurrency
// limits.
//
//	m := queue.NewManager(configs...)
//	if m.Acquire(jobType) {
//	    defer m.Release(jobType)
//	    // process the job
//	}
package queue
