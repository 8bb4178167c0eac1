package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-type behaviour such as rate limiting and concurrency.
type Config struct {
	// Type is the job type this config applies to.
	Type string

	// MaxConcurrency limits how many jobs of this type may run
	// simultaneously across the local worker pool. Zero means no
	// type-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second of this type that
	// may be picked up. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// typeState tracks runtime state for a single job type.
type typeState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-type rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	types map[string]*typeState
}

// NewManager creates a Manager with the given type configurations.
// Types not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		types: make(map[string]*typeState, len(configs)),
	}
	for _, cfg := range configs {
		m.types[cfg.Type] = newTypeState(cfg)
	}
	return m
}

func newTypeState(cfg Config) *typeState {
	ts := &typeState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Acquire checks rate limits and concurrency for the given job type. If the
// job is allowed to proceed it increments the active counter and returns
// true. The caller MUST call Release when the job completes.
func (m *Manager) Acquire(jobType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.types[jobType]
	if ts == nil {
		return true
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
		return false
	}
	ts.active++
	return true
}

// Release decrements the active job count for the type.
func (m *Manager) Release(jobType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.types[jobType]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// SetConfig dynamically updates (or creates) a type configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.types[cfg.Type]
	ts := newTypeState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ts.active = existing.active
	}
	m.types[cfg.Type] = ts
}

// ActiveCount returns the current number of active jobs for a type.
func (m *Manager) ActiveCount(jobType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.types[jobType]; ts != nil {
		return ts.active
	}
	return 0
}
