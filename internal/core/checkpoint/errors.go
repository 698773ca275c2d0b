package checkpoint

import "errors"

var (
	// Validation errors
	ErrInvalidCheckpointID = errors.New("invalid checkpoint ID")
	ErrInvalidThreadID     = errors.New("invalid thread ID")
	ErrNilValues           = errors.New("checkpoint values cannot be nil")

	// ErrNotFound is returned when a checkpoint does not exist for the
	// given (thread, checkpoint) coordinates, or a thread has no
	// checkpoints at all.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStorage wraps failures of the underlying medium. Save paths
	// always surface it; diagnostic listing paths degrade gracefully
	// instead (corrupt entries are skipped and logged).
	ErrStorage = errors.New("checkpoint storage failure")
)
