package thread

import "errors"

var (
	// ErrNotFound is returned when a thread, branch, or snapshot does
	// not exist.
	ErrNotFound = errors.New("thread not found")

	// ErrConflict is the optimistic concurrency failure: the caller's
	// expected base checkpoint no longer matches the thread's latest
	// pointer. Callers should reload and retry.
	ErrConflict = errors.New("checkpoint base conflict")

	// ErrMergeConflict is returned by strict-mode merges when both
	// threads define the same top-level key with different values.
	ErrMergeConflict = errors.New("merge conflict")

	// ErrInvalidState is returned for mutations attempted against an
	// archived thread or an illegal status transition.
	ErrInvalidState = errors.New("invalid thread state")
)
