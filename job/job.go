// Package job defines the durable unit of work — the Job record, its
// lifecycle states, the Store persistence contract, and the handler
// registry that maps job types to processing functions.
package job

import (
	"time"

	"github.com/spoolq/spool/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateQueued means the job is waiting to be leased by a worker.
	StateQueued State = "queued"
	// StateActive means a worker holds a live lease and is processing.
	StateActive State = "active"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed terminally and will not be retried.
	StateFailed State = "failed"
	// StateCancelled means the job was cancelled before it settled.
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition can occur from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Job represents a unit of work and its lifecycle metadata.
//
// Lease fields (LeaseOwner, LeaseExpiresAt) are set only while the job is
// active. Progress and Result are owned exclusively by the lease holder for
// the lease's duration. TraceContext is an opaque correlation token threaded
// through for observability collaborators; spool treats it as inert data.
type Job struct {
	ID       id.JobID `json:"id"`
	Type     string   `json:"type"`
	Payload  []byte   `json:"payload"`
	Priority int      `json:"priority"` // lower value = dispatched first
	State    State    `json:"state"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	LeaseOwner     id.WorkerID `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`

	// AvailableAt is the earliest instant the job may be dispatched. It
	// carries both initial scheduling and retry backoff delays.
	AvailableAt time.Time `json:"available_at"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Progress  int    `json:"progress"` // 0–100, lease-holder-only
	Result    []byte `json:"result,omitempty"`
	LastError string `json:"last_error,omitempty"`

	TraceContext string `json:"trace_context,omitempty"`

	// CancelRequested marks an advisory cancellation of an active job.
	// The in-flight attempt is allowed to finish; a cooperating handler
	// observes its context and returns early.
	CancelRequested bool `json:"cancel_requested,omitempty"`
}

// Status is the read view of a job returned by status queries.
type Status struct {
	ID          id.JobID   `json:"id"`
	Type        string     `json:"type"`
	State       State      `json:"state"`
	Progress    int        `json:"progress"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Result      []byte     `json:"result,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Status returns the read view of j.
func (j *Job) Status() Status {
	return Status{
		ID:          j.ID,
		Type:        j.Type,
		State:       j.State,
		Progress:    j.Progress,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Result:      j.Result,
		LastError:   j.LastError,
		SubmittedAt: j.SubmittedAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
	}
}
