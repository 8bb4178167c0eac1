package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/spoolq/spool/job"
)

// Logging returns middleware that logs the start and outcome of each attempt.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		logger.Info("job attempt started",
			slog.String("job_type", j.Type),
			slog.String("job_id", j.ID.String()),
			slog.Int("attempt", j.Attempts),
		)

		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job attempt failed",
				slog.String("job_type", j.Type),
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", j.Attempts),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job attempt completed",
				slog.String("job_type", j.Type),
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", j.Attempts),
				slog.Duration("elapsed", elapsed),
			)
		}

		return result, err
	}
}
