// Package dto holds the request and projection shapes crossing the
// engine's boundary. Payload maps stay opaque; these types only carry them.
package dto

import "time"

// CreateThreadRequest starts a new thread with a root checkpoint.
type CreateThreadRequest struct {
	GraphID       string                 `json:"graph_id" validate:"required"`
	InitialValues map[string]interface{} `json:"initial_values"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateStateRequest extends a thread with a new checkpoint.
// ExpectedBaseCheckpointID, when set, is the optimistic concurrency guard:
// the update fails with a conflict if the thread's latest pointer moved.
type UpdateStateRequest struct {
	ThreadID                 string                 `json:"thread_id" validate:"required"`
	Values                   map[string]interface{} `json:"values" validate:"required"`
	ExpectedBaseCheckpointID string                 `json:"expected_base_checkpoint_id,omitempty"`
}

// ForkRequest creates a new thread from a source checkpoint.
type ForkRequest struct {
	ThreadID     string                 `json:"thread_id" validate:"required"`
	CheckpointID string                 `json:"checkpoint_id" validate:"required"`
	BranchName   string                 `json:"branch_name" validate:"required"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// SnapshotRequest bookmarks a thread's current latest checkpoint.
type SnapshotRequest struct {
	ThreadID    string `json:"thread_id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
}

// SessionData is the external flat session representation the synchronizer
// projects onto thread checkpoints and back. The engine assigns no meaning
// to Messages beyond carrying them.
type SessionData struct {
	SessionID string                   `json:"session_id"`
	Messages  []map[string]interface{} `json:"messages,omitempty"`
	Step      int                      `json:"step"`
	Metadata  map[string]interface{}   `json:"metadata,omitempty"`
	UpdatedAt time.Time                `json:"updated_at"`
}
