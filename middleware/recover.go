package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/spoolq/spool/job"
)

// HandlerFault is the error produced when a job handler panics. The attempt
// counts as a failure like any handler error; the panic never escapes the
// worker goroutine.
type HandlerFault struct {
	JobType string
	Value   any
}

func (f *HandlerFault) Error() string {
	return fmt.Sprintf("panic in %s handler: %v", f.JobType, f.Value)
}

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to *HandlerFault errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (result []byte, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job handler panicked",
					slog.String("job_type", j.Type),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				result = nil
				retErr = &HandlerFault{JobType: j.Type, Value: r}
			}
		}()
		return next(ctx)
	}
}
