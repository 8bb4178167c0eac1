package event

import (
	"context"
	"time"

	"github.com/spoolq/spool/hook"
	"github.com/spoolq/spool/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook           = (*Publisher)(nil)
	_ hook.JobQueued      = (*Publisher)(nil)
	_ hook.JobStarted     = (*Publisher)(nil)
	_ hook.JobProgress    = (*Publisher)(nil)
	_ hook.JobCompleted   = (*Publisher)(nil)
	_ hook.JobFailed      = (*Publisher)(nil)
	_ hook.JobRetrying    = (*Publisher)(nil)
	_ hook.JobCancelled   = (*Publisher)(nil)
	_ hook.LeaseReclaimed = (*Publisher)(nil)
)

// Publisher bridges lifecycle hooks onto a Bus. Register it with the hook
// registry to turn every job transition into a subscriber-visible Event.
type Publisher struct {
	bus *Bus
}

// NewPublisher creates a Publisher emitting to the given bus.
func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{bus: bus}
}

// Name implements hook.Hook.
func (p *Publisher) Name() string { return "event-publisher" }

// OnJobQueued implements hook.JobQueued.
func (p *Publisher) OnJobQueued(_ context.Context, j *job.Job) error {
	p.bus.Publish(fromJob(KindJobQueued, j))
	return nil
}

// OnJobStarted implements hook.JobStarted.
func (p *Publisher) OnJobStarted(_ context.Context, j *job.Job) error {
	p.bus.Publish(fromJob(KindJobStarted, j))
	return nil
}

// OnJobProgress implements hook.JobProgress.
func (p *Publisher) OnJobProgress(_ context.Context, j *job.Job, progress int) error {
	evt := fromJob(KindJobProgress, j)
	evt.Progress = progress
	p.bus.Publish(evt)
	return nil
}

// OnJobCompleted implements hook.JobCompleted.
func (p *Publisher) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	p.bus.Publish(fromJob(KindJobCompleted, j))
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (p *Publisher) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	evt := fromJob(KindJobFailed, j)
	if jobErr != nil {
		evt.Error = jobErr.Error()
	}
	p.bus.Publish(evt)
	return nil
}

// OnJobRetrying implements hook.JobRetrying.
func (p *Publisher) OnJobRetrying(_ context.Context, j *job.Job, attempt int, availableAt time.Time) error {
	evt := fromJob(KindJobRetrying, j)
	evt.Attempt = attempt
	evt.AvailableAt = &availableAt
	p.bus.Publish(evt)
	return nil
}

// OnJobCancelled implements hook.JobCancelled.
func (p *Publisher) OnJobCancelled(_ context.Context, j *job.Job) error {
	p.bus.Publish(fromJob(KindJobCancelled, j))
	return nil
}

// OnLeaseReclaimed implements hook.LeaseReclaimed.
func (p *Publisher) OnLeaseReclaimed(_ context.Context, j *job.Job) error {
	p.bus.Publish(fromJob(KindLeaseReclaimed, j))
	return nil
}
