package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	repofile "github.com/kkkqkx123/open-agent-sub006/internal/adapters/repository/file"
	"github.com/kkkqkx123/open-agent-sub006/pkg/stateengine"
)

func newEngine(t *testing.T, config stateengine.Config) *stateengine.Engine {
	t.Helper()
	engine, err := stateengine.New(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

// The canonical lifecycle: create, update, snapshot, keep updating, then
// restore. The restore moves the pointer back without touching history.
func TestEngine_SnapshotRestoreLifecycle(t *testing.T) {
	engine := newEngine(t, stateengine.Config{})
	ctx := context.Background()

	th, err := engine.CreateThread(ctx, "agent-graph", map[string]interface{}{"step": 0}, nil)
	require.NoError(t, err)

	c1, err := engine.UpdateState(ctx, th.ID, map[string]interface{}{"step": 1}, "")
	require.NoError(t, err)

	snap, err := engine.Snapshot(ctx, th.ID, "checkpoint-before-risk", "")
	require.NoError(t, err)
	assert.Equal(t, c1, snap.CheckpointID)

	c2, err := engine.UpdateState(ctx, th.ID, map[string]interface{}{"step": 2}, "")
	require.NoError(t, err)
	require.NotEqual(t, c1, c2)

	restored, err := engine.RestoreSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, c1, restored)

	latest, err := engine.LatestCheckpoint(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, c1, latest.ID)
	assert.Equal(t, 1, latest.Values["step"])

	history, err := engine.GetHistory(ctx, th.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3, "restore must not add or remove checkpoints")
}

func TestEngine_ForkAndMergeFlow(t *testing.T) {
	engine := newEngine(t, stateengine.Config{})
	ctx := context.Background()

	main, err := engine.CreateThread(ctx, "agent-graph", map[string]interface{}{
		"plan": "draft",
	}, nil)
	require.NoError(t, err)

	fork, err := engine.Fork(ctx, main.ID, main.LatestCheckpointID, "alternative", nil)
	require.NoError(t, err)

	_, err = engine.UpdateState(ctx, fork.ID, map[string]interface{}{
		"plan":       "revised",
		"experiment": true,
	}, "")
	require.NoError(t, err)

	// The source never sees the fork's work until a merge.
	mainLatest, err := engine.LatestCheckpoint(ctx, main.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", mainLatest.Values["plan"])

	mergeCP, err := engine.Merge(ctx, main.ID, fork.ID, stateengine.MergeOptions{
		Strategy: stateengine.MergeFieldUnion,
	})
	require.NoError(t, err)

	merged, err := engine.GetCheckpoint(ctx, main.ID, mergeCP)
	require.NoError(t, err)
	assert.Equal(t, "revised", merged.Values["plan"], "collisions resolve source-wins")
	assert.Equal(t, true, merged.Values["experiment"])
}

func TestEngine_SessionLifecycle(t *testing.T) {
	engine := newEngine(t, stateengine.Config{})
	ctx := context.Background()

	sessionID, threadID, err := engine.CreateSessionWithThread(ctx, "agent-graph", nil)
	require.NoError(t, err)

	session := &stateengine.SessionData{
		SessionID: sessionID,
		Messages:  []map[string]interface{}{{"role": "user", "content": "hello"}},
		Step:      1,
		UpdatedAt: time.Now().Add(time.Second),
	}
	cpID, err := engine.SyncSessionToThread(ctx, session, threadID)
	require.NoError(t, err)
	require.NotEmpty(t, cpID)

	got, err := engine.SyncThreadToSession(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, got.SessionID)
	assert.Equal(t, 1, got.Step)
	assert.Equal(t, session.Messages, got.Messages)

	assert.True(t, engine.DeleteMapping(sessionID))
	_, err = engine.GetThreadForSession(sessionID)
	assert.Error(t, err)
}

// The same flows hold over the durable file store, where payloads pass
// through the msgpack+zstd pipeline.
func TestEngine_FileStoreBacked(t *testing.T) {
	store, err := repofile.NewStore(repofile.Config{Root: t.TempDir()})
	require.NoError(t, err)
	engine := newEngine(t, stateengine.Config{Store: store})
	ctx := context.Background()

	th, err := engine.CreateThread(ctx, "agent-graph", map[string]interface{}{"step": int64(0)}, nil)
	require.NoError(t, err)

	c1, err := engine.UpdateState(ctx, th.ID, map[string]interface{}{"step": int64(1)}, "")
	require.NoError(t, err)

	history, err := engine.GetHistory(ctx, th.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.EqualValues(t, 0, history[0].Values["step"])
	assert.EqualValues(t, 1, history[1].Values["step"])

	latest, err := engine.LatestCheckpoint(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, c1, latest.ID)
}

func TestEngine_ArchivedThreadRejectsWrites(t *testing.T) {
	engine := newEngine(t, stateengine.Config{})
	ctx := context.Background()

	th, err := engine.CreateThread(ctx, "agent-graph", map[string]interface{}{}, nil)
	require.NoError(t, err)
	require.NoError(t, engine.ArchiveThread(th.ID))

	_, err = engine.UpdateState(ctx, th.ID, map[string]interface{}{"step": 1}, "")
	assert.ErrorIs(t, err, stateengine.ErrInvalidState)

	history, err := engine.GetHistory(ctx, th.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
