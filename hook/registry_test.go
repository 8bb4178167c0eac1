package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/spoolq/spool/hook"
	"github.com/spoolq/spool/id"
	"github.com/spoolq/spool/job"
)

// recordingHook opts in to a subset of lifecycle events.
type recordingHook struct {
	queued    int
	completed int
	failed    int
	reclaimed int
}

func (h *recordingHook) Name() string { return "recording" }

func (h *recordingHook) OnJobQueued(_ context.Context, _ *job.Job) error {
	h.queued++
	return nil
}

func (h *recordingHook) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	h.completed++
	return nil
}

func (h *recordingHook) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	h.failed++
	return nil
}

func (h *recordingHook) OnLeaseReclaimed(_ context.Context, _ *job.Job) error {
	h.reclaimed++
	return nil
}

// failingHook always errors; the registry must absorb it.
type failingHook struct{}

func (failingHook) Name() string { return "failing" }

func (failingHook) OnJobQueued(_ context.Context, _ *job.Job) error {
	return errors.New("hook exploded")
}

func testJob() *job.Job {
	return &job.Job{
		ID:    id.NewJobID(),
		Type:  "echo",
		State: job.StateQueued,
	}
}

func TestRegistry_FansOutToImplementedHooks(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	rec := &recordingHook{}
	reg.Register(rec)

	ctx := context.Background()
	j := testJob()

	reg.EmitJobQueued(ctx, j)
	reg.EmitJobStarted(ctx, j) // recordingHook does not implement JobStarted
	reg.EmitJobCompleted(ctx, j, time.Millisecond)
	reg.EmitJobFailed(ctx, j, errors.New("boom"))
	reg.EmitLeaseReclaimed(ctx, j)
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitJobProgress(ctx, j, 50)
	reg.EmitJobCancelled(ctx, j)
	reg.EmitShutdown(ctx)

	if rec.queued != 1 || rec.completed != 1 || rec.failed != 1 || rec.reclaimed != 1 {
		t.Errorf("hook counts = %+v, want one of each implemented event", *rec)
	}
}

func TestRegistry_HookErrorDoesNotBlockOthers(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	rec := &recordingHook{}
	reg.Register(failingHook{})
	reg.Register(rec)

	reg.EmitJobQueued(context.Background(), testJob())

	if rec.queued != 1 {
		t.Errorf("second hook saw %d queued events, want 1", rec.queued)
	}
}

func TestRegistry_RegistrationOrder(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	reg.Register(&recordingHook{})
	reg.Register(failingHook{})

	if got := len(reg.Hooks()); got != 2 {
		t.Errorf("Hooks() length = %d, want 2", got)
	}
}
