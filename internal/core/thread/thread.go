// Package thread provides the thread domain entities: an independent,
// ordered lineage of checkpoints with a small lifecycle state machine,
// plus the informational branch and snapshot records attached to it.
package thread

import (
	"time"
)

// Status is the lifecycle state of a thread.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusArchived  Status = "archived"
)

// Thread owns exactly one checkpoint tree. LatestCheckpointID always
// references a checkpoint belonging to this thread; it is the pointer the
// manager advances with compare-and-swap semantics.
type Thread struct {
	ID                 string    `json:"thread_id"`
	GraphID            string    `json:"graph_id"`
	Status             Status    `json:"status"`
	LatestCheckpointID string    `json:"latest_checkpoint_id"`
	CheckpointCount    int       `json:"checkpoint_count"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Mutable reports whether checkpoint-producing operations are allowed.
// Archived threads are read-only; completed and errored threads may still
// be extended (e.g. by a merge) until archived.
func (t *Thread) Mutable() bool {
	return t.Status != StatusArchived
}

// CanTransition validates a status change against the state machine:
//
//	idle -> active           (first state update)
//	active -> completed      (explicit completion)
//	active -> error          (caller-reported failure)
//	idle|completed|error -> archived
//
// Transitions to the same status are allowed and are no-ops for callers.
func (t *Thread) CanTransition(next Status) bool {
	if t.Status == next {
		return true
	}
	switch next {
	case StatusActive:
		return t.Status == StatusIdle
	case StatusCompleted, StatusError:
		return t.Status == StatusActive
	case StatusArchived:
		return t.Status != StatusArchived
	default:
		return false
	}
}

// Clone returns a copy safe to hand to callers.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
