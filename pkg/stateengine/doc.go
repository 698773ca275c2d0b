// Package stateengine is the public facade over the versioned
// checkpoint/thread state engine.
//
// The engine stores immutable state snapshots (checkpoints) organized into
// independent lineages (threads), and supports forking a thread from any
// checkpoint, non-destructive rollback, named snapshots, and merging one
// thread's latest state into another. A TTL-scoped concurrent state
// container backs thread metadata and is reusable for auxiliary
// per-session state.
//
// Payload maps are opaque: the engine accepts but never interprets the
// contents of a checkpoint's values, leaving schema and semantics to the
// calling layer.
//
//	engine := stateengine.Default()
//	defer engine.Close()
//
//	t, _ := engine.CreateThread(ctx, "wf1", map[string]interface{}{"step": 0}, nil)
//	cpID, _ := engine.UpdateState(ctx, t.ID, map[string]interface{}{"step": 1}, "")
//	snap, _ := engine.Snapshot(ctx, t.ID, "mid", "")
//	_, _ = engine.UpdateState(ctx, t.ID, map[string]interface{}{"step": 2}, "")
//	_, _ = engine.RestoreSnapshot(ctx, snap.ID) // latest points at cpID again
package stateengine
