package thread

import "time"

// Branch is the lineage record written when a thread is forked. It is
// purely informational: the fork produces a full new thread, never a
// sub-structure of the source.
type Branch struct {
	ID                 string    `json:"branch_id"`
	SourceThreadID     string    `json:"source_thread_id"`
	SourceCheckpointID string    `json:"source_checkpoint_id"`
	NewThreadID        string    `json:"new_thread_id"`
	Name               string    `json:"branch_name"`
	CreatedAt          time.Time `json:"created_at"`
}

// Snapshot is a named, addressable bookmark to one checkpoint. It never
// copies data; restoring a snapshot only moves the thread's latest pointer.
type Snapshot struct {
	ID           string    `json:"snapshot_id"`
	ThreadID     string    `json:"thread_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CheckpointID string    `json:"checkpoint_id"`
	CreatedAt    time.Time `json:"created_at"`
}
