// Package event provides push-style notifications of job lifecycle
// transitions. Collaborators subscribe to a Bus and receive Event values on
// a channel; emission is decoupled from any delivery transport, which stays
// collaborator-owned.
package event

import (
	"time"

	"github.com/spoolq/spool/id"
	"github.com/spoolq/spool/job"
)

// Kind identifies the lifecycle transition an Event describes.
type Kind string

const (
	KindJobQueued      Kind = "job.queued"
	KindJobStarted     Kind = "job.started"
	KindJobProgress    Kind = "job.progress"
	KindJobCompleted   Kind = "job.completed"
	KindJobFailed      Kind = "job.failed"
	KindJobRetrying    Kind = "job.retrying"
	KindJobCancelled   Kind = "job.cancelled"
	KindLeaseReclaimed Kind = "lease.reclaimed"
)

// Event is a snapshot of a job at a lifecycle transition. It carries values,
// not pointers, so subscribers can never race the store.
type Event struct {
	Kind         Kind       `json:"kind"`
	JobID        id.JobID   `json:"job_id"`
	Type         string     `json:"type"`
	State        job.State  `json:"state"`
	Progress     int        `json:"progress,omitempty"`
	Attempt      int        `json:"attempt,omitempty"`
	Error        string     `json:"error,omitempty"`
	TraceContext string     `json:"trace_context,omitempty"`
	AvailableAt  *time.Time `json:"available_at,omitempty"`
	At           time.Time  `json:"at"`
}

// fromJob builds the common snapshot fields for a job transition.
func fromJob(kind Kind, j *job.Job) Event {
	return Event{
		Kind:         kind,
		JobID:        j.ID,
		Type:         j.Type,
		State:        j.State,
		Progress:     j.Progress,
		Attempt:      j.Attempts,
		Error:        j.LastError,
		TraceContext: j.TraceContext,
		At:           time.Now().UTC(),
	}
}
