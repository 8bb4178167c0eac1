// Package memory provides a fully in-memory job store. Safe for concurrent
// access. Intended for unit testing, development, and single-process
// deployments that can tolerate losing the queue on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spoolq/spool"
	"github.com/spoolq/spool/id"
	"github.com/spoolq/spool/job"
)

var _ job.Store = (*Store)(nil)

// Store is an in-memory implementation of job.Store. A single mutex guards
// the job map, which makes every operation — most importantly Acquire — a
// single atomic critical section.
type Store struct {
	mu     sync.Mutex
	jobs   map[string]*job.Job
	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// ──────────────────────────────────────────────────
// Lifecycle — Ping / Close
// ──────────────────────────────────────────────────

// Ping succeeds unless the store has been closed.
func (m *Store) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return spool.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent operations fail with
// spool.ErrStoreClosed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Queue operations
// ──────────────────────────────────────────────────

// Enqueue persists a new job in queued state.
func (m *Store) Enqueue(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return spool.ErrStoreClosed
	}

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return spool.ErrDuplicateID
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// Acquire atomically claims the eligible queued job with the lowest priority
// value, FIFO within a priority band. It transitions the job to active,
// stamps the lease, and counts the attempt. Returns (nil, nil) when nothing
// is eligible.
func (m *Store) Acquire(_ context.Context, workerID id.WorkerID, ttl time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, spool.ErrStoreClosed
	}

	now := time.Now().UTC()

	var best *job.Job
	for _, j := range m.jobs {
		if j.State != job.StateQueued {
			continue
		}
		if j.AvailableAt.After(now) {
			continue
		}
		if best == nil || dispatchBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	best.State = job.StateActive
	best.LeaseOwner = workerID
	exp := now.Add(ttl)
	best.LeaseExpiresAt = &exp
	started := now
	best.StartedAt = &started
	best.Attempts++
	best.Progress = 0
	best.UpdatedAt = now

	cp := *best
	return &cp, nil
}

// dispatchBefore reports whether a should be dispatched before b:
// lower priority value first, earlier submission within a band, job ID as
// the final deterministic tie-break.
func dispatchBefore(a, b *job.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.ID.String() < b.ID.String()
}

// ──────────────────────────────────────────────────
// Lease-checked mutations
// ──────────────────────────────────────────────────

// leased returns the stored job if owner still holds a live lease on it.
// The lease check is by token, not by expiry: an expired lease that has not
// been reclaimed yet is still honoured, so the late worker's outcome wins
// unless the reclaimer got there first.
func (m *Store) leased(jobID id.JobID, owner id.WorkerID) (*job.Job, error) {
	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, spool.ErrNotFound
	}
	if j.State != job.StateActive || j.LeaseOwner != owner {
		return nil, spool.ErrLeaseLost
	}
	return j, nil
}

// Release returns a job to the queue without counting the attempt. The
// Acquire-time attempt increment is rolled back.
func (m *Store) Release(_ context.Context, jobID id.JobID, owner id.WorkerID, delay time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, spool.ErrStoreClosed
	}

	j, err := m.leased(jobID, owner)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	j.State = job.StateQueued
	j.AvailableAt = now.Add(delay)
	if j.Attempts > 0 {
		j.Attempts--
	}
	j.StartedAt = nil
	j.Progress = 0
	j.UpdatedAt = now
	clearLease(j)

	cp := *j
	return &cp, nil
}

// Renew extends the lease expiry if owner still holds the lease.
func (m *Store) Renew(_ context.Context, jobID id.JobID, owner id.WorkerID, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return spool.ErrStoreClosed
	}

	j, err := m.leased(jobID, owner)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	j.LeaseExpiresAt = &exp
	j.UpdatedAt = now
	return nil
}

// SetProgress records handler progress for the lease holder.
func (m *Store) SetProgress(_ context.Context, jobID id.JobID, owner id.WorkerID, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return spool.ErrStoreClosed
	}

	j, err := m.leased(jobID, owner)
	if err != nil {
		return err
	}
	j.Progress = progress
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete settles the job as completed with a result payload.
func (m *Store) Complete(_ context.Context, jobID id.JobID, owner id.WorkerID, result []byte, lastError string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, spool.ErrStoreClosed
	}

	j, err := m.leased(jobID, owner)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.Result = result
	j.LastError = lastError
	j.Progress = 100
	j.FinishedAt = &now
	j.UpdatedAt = now
	clearLease(j)

	cp := *j
	return &cp, nil
}

// Requeue returns a failed attempt to the queue with a backoff delay.
func (m *Store) Requeue(_ context.Context, jobID id.JobID, owner id.WorkerID, delay time.Duration, lastError string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, spool.ErrStoreClosed
	}

	j, err := m.leased(jobID, owner)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	j.State = job.StateQueued
	j.AvailableAt = now.Add(delay)
	j.LastError = lastError
	j.Progress = 0
	j.CancelRequested = false
	j.UpdatedAt = now
	clearLease(j)

	cp := *j
	return &cp, nil
}

// Fail settles the job as terminally failed.
func (m *Store) Fail(_ context.Context, jobID id.JobID, owner id.WorkerID, lastError string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, spool.ErrStoreClosed
	}

	j, err := m.leased(jobID, owner)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	j.State = job.StateFailed
	j.LastError = lastError
	j.FinishedAt = &now
	j.UpdatedAt = now
	clearLease(j)

	cp := *j
	return &cp, nil
}

// MarkCancelled settles an active job as cancelled after its handler
// cooperated with an advisory cancellation.
func (m *Store) MarkCancelled(_ context.Context, jobID id.JobID, owner id.WorkerID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, spool.ErrStoreClosed
	}

	j, err := m.leased(jobID, owner)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	j.State = job.StateCancelled
	j.FinishedAt = &now
	j.UpdatedAt = now
	clearLease(j)

	cp := *j
	return &cp, nil
}

// RequestCancel cancels a queued job immediately or flags an active job for
// advisory cancellation.
func (m *Store) RequestCancel(_ context.Context, jobID id.JobID) (*job.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, spool.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, false, spool.ErrNotFound
	}

	now := time.Now().UTC()
	switch j.State {
	case job.StateQueued:
		j.State = job.StateCancelled
		j.FinishedAt = &now
		j.UpdatedAt = now
		cp := *j
		return &cp, true, nil
	case job.StateActive:
		j.CancelRequested = true
		j.UpdatedAt = now
		cp := *j
		return &cp, false, nil
	default:
		return nil, false, fmt.Errorf("cancel %s job: %w", j.State, spool.ErrInvalidState)
	}
}

// ReclaimExpired returns every active job with an expired lease to the
// queue with zero delay, or settles it as failed when its attempts are
// already exhausted. The expired attempt has already been counted at
// Acquire time, so no extra increment happens here.
func (m *Store) ReclaimExpired(_ context.Context) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, spool.ErrStoreClosed
	}

	now := time.Now().UTC()
	var reclaimed []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateActive {
			continue
		}
		if j.LeaseExpiresAt == nil || j.LeaseExpiresAt.After(now) {
			continue
		}

		if j.Attempts >= j.MaxAttempts {
			j.State = job.StateFailed
			j.LastError = "lease expired on final attempt"
			j.FinishedAt = &now
		} else {
			j.State = job.StateQueued
			j.AvailableAt = now
			j.LastError = "lease expired"
			j.Progress = 0
			j.CancelRequested = false
		}
		j.UpdatedAt = now
		clearLease(j)

		cp := *j
		reclaimed = append(reclaimed, &cp)
	}

	sort.Slice(reclaimed, func(i, k int) bool {
		return reclaimed[i].ID.String() < reclaimed[k].ID.String()
	})
	return reclaimed, nil
}

func clearLease(j *job.Job) {
	j.LeaseOwner = id.WorkerID{}
	j.LeaseExpiresAt = nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Get retrieves a job by ID.
func (m *Store) Get(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, spool.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, spool.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

// List returns jobs matching the given state, ordered by submission time.
func (m *Store) List(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, spool.ErrStoreClosed
	}

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].SubmittedAt.Equal(result[k].SubmittedAt) {
			return result[i].SubmittedAt.Before(result[k].SubmittedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// Count returns the number of jobs matching the given options.
func (m *Store) Count(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, spool.ErrStoreClosed
	}

	var count int64
	for _, j := range m.jobs {
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// PurgeFinished removes terminal jobs that finished before the given time.
func (m *Store) PurgeFinished(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, spool.ErrStoreClosed
	}

	var purged int64
	for key, j := range m.jobs {
		if !j.State.Terminal() {
			continue
		}
		if j.FinishedAt == nil || !j.FinishedAt.Before(before) {
			continue
		}
		delete(m.jobs, key)
		purged++
	}
	return purged, nil
}
