package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spoolq/spool/job"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// jobColumnsQualified prefixes every column in jobColumns with the given
// table alias, for RETURNING clauses on aliased updates.
func jobColumnsQualified(alias string) string {
	cols := strings.Split(jobColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// scanJob scans a single row in jobColumns order.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j     job.Job
		state string
	)

	err := row.Scan(
		&j.ID, &j.Type, &j.Payload, &state, &j.Priority,
		&j.Attempts, &j.MaxAttempts,
		&j.LeaseOwner, &j.LeaseExpiresAt,
		&j.AvailableAt, &j.SubmittedAt, &j.StartedAt,
		&j.FinishedAt, &j.UpdatedAt,
		&j.Progress, &j.Result, &j.LastError, &j.TraceContext,
		&j.CancelRequested,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(state)
	return &j, nil
}

// collectJobs drains rows into a slice using scanJob.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
