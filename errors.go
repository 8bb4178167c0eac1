package spool

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("spool: no store configured")
	ErrStoreClosed = errors.New("spool: store closed")

	// Submission errors.
	ErrDuplicateID = errors.New("spool: job id already exists")
	ErrInvalidType = errors.New("spool: no handler registered for job type")

	// Lookup errors.
	ErrNotFound = errors.New("spool: job not found")

	// State errors.
	ErrInvalidState = errors.New("spool: invalid state transition")

	// Lease errors. These are resolved inside the worker and reclaimer
	// layers and are never surfaced to facade callers.
	ErrAlreadyLeased = errors.New("spool: job already leased")
	ErrLeaseLost     = errors.New("spool: lease lost")

	// Dispatch errors.
	ErrNoHandler = errors.New("spool: no handler registered")
)
