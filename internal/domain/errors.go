package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks synchronous input errors; they are rejected before
	// anything is persisted or enqueued.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a job or related record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a status change would violate the
	// job state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotCancellable is returned when cancellation is requested for a job
	// that already reached a terminal status. It is an ErrInvalidTransition.
	ErrNotCancellable = fmt.Errorf("%w: job is not cancellable", ErrInvalidTransition)

	// ErrArchiveNotReady is returned when a download is requested before the
	// job has completed.
	ErrArchiveNotReady = errors.New("archive not ready")
)
