// Package checkpoint provides the core checkpoint domain entities and
// persistence interfaces. Checkpoints are immutable once written: every
// state mutation produces a new checkpoint linked to its parent, so a
// thread's history only ever grows.
package checkpoint

import (
	"time"
)

// Checkpoint is one immutable state snapshot belonging to a thread.
// ParentID is empty only for roots: the checkpoint created together with a
// thread, or the root of a forked thread. Fork roots carry the origin
// coordinates in Metadata (MetaOriginThreadID / MetaOriginCheckpointID)
// for lineage tracing without structural parentage across threads.
type Checkpoint struct {
	ID        string                 `json:"checkpoint_id"`
	ThreadID  string                 `json:"thread_id"`
	ParentID  string                 `json:"parent_checkpoint_id,omitempty"`
	Values    map[string]interface{} `json:"values"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Well-known metadata keys written by the thread manager.
const (
	MetaOriginThreadID     = "origin_thread_id"
	MetaOriginCheckpointID = "origin_checkpoint_id"
	MetaRollbackFrom       = "rollback_from"
	MetaMergeSource        = "merge_source_thread_id"
	MetaMergeStrategy      = "merge_strategy"
)

// Validate ensures checkpoint integrity before it reaches a store.
func (c *Checkpoint) Validate() error {
	if c.ID == "" {
		return ErrInvalidCheckpointID
	}
	if c.ThreadID == "" {
		return ErrInvalidThreadID
	}
	if c.Values == nil {
		return ErrNilValues
	}
	return nil
}

// Clone returns a structural copy of the checkpoint. Values and Metadata
// maps are copied one level deep; payload contents are opaque to the engine
// and treated as immutable by convention.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	return &Checkpoint{
		ID:        c.ID,
		ThreadID:  c.ThreadID,
		ParentID:  c.ParentID,
		Values:    CopyValues(c.Values),
		Metadata:  CopyValues(c.Metadata),
		CreatedAt: c.CreatedAt,
	}
}

// CopyValues returns a shallow copy of a payload map. A nil input yields an
// empty map so callers can mutate the result freely.
func CopyValues(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
