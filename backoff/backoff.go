// Package backoff provides pluggable retry delay strategies for failed
// job attempts. All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before the next attempt, given the
	// number of attempts made so far (1-indexed: after the first failed
	// attempt, Delay(1) is consulted).
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Linear increases the delay linearly with the attempt number.
// Delay = min(Base * attempt, Max).
type Linear struct {
	Base time.Duration
	Max  time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(base, maxDelay time.Duration) *Linear {
	return &Linear{Base: base, Max: maxDelay}
}

// Delay returns Base * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Base * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// Exponential doubles the delay with each attempt.
// Delay = min(Base * 2^(attempt-1), Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Base) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ExponentialWithJitter applies full jitter to an exponential base:
// Delay = random value in [0, min(Base * 2^(attempt-1), Max)].
// Jitter prevents thundering herds when many retries fire simultaneously.
type ExponentialWithJitter struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(base, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Base: base, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Base * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	ceiling := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && ceiling > float64(e.Max) {
		ceiling = float64(e.Max)
	}
	return time.Duration(rand.Float64() * ceiling) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// DefaultStrategy returns the default backoff used by the engine:
// Exponential with a 1s base and a 30s cap, so successive retry delays
// are 1s, 2s, 4s, … capped at 30s.
func DefaultStrategy() Strategy {
	return NewExponential(1*time.Second, 30*time.Second)
}
