package checkpoint

import (
	"context"
)

// Store is the persistence interface for checkpoints. Implementations keep
// the append-only contract: Save never overwrites an existing checkpoint's
// meaning, and a save either fully succeeds (record durably written) or
// fully fails with no partial record left behind.
type Store interface {
	// Save persists a checkpoint. It must commit atomically with respect
	// to crashes: a reader can never observe a partially written record.
	Save(ctx context.Context, cp *Checkpoint) error

	// Get retrieves a checkpoint by its (thread, checkpoint) coordinates.
	Get(ctx context.Context, threadID, id string) (*Checkpoint, error)

	// List returns all checkpoints of a thread ordered by CreatedAt
	// ascending. Corrupt or unreadable entries are skipped (and logged),
	// not surfaced: listing is a diagnostic path and favors availability
	// over completeness.
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// Latest returns the most recently created checkpoint of a thread.
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)

	// Delete removes a checkpoint. Reserved for out-of-band retention and
	// GC processes; normal engine operation never deletes.
	Delete(ctx context.Context, threadID, id string) error

	// Close releases underlying resources.
	Close() error
}
