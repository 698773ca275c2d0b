package stateengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/kkkqkx123/open-agent-sub006/internal/adapters/repository/memory"
	"github.com/kkkqkx123/open-agent-sub006/internal/app/dto"
	"github.com/kkkqkx123/open-agent-sub006/internal/app/services"
	"github.com/kkkqkx123/open-agent-sub006/internal/core/checkpoint"
	"github.com/kkkqkx123/open-agent-sub006/internal/core/thread"
)

// Re-export the domain types callers work with, so embedding applications
// never import internal packages directly.
type (
	Checkpoint  = checkpoint.Checkpoint
	Thread      = thread.Thread
	Branch      = thread.Branch
	SnapshotRef = thread.Snapshot
	SessionData = dto.SessionData

	Category      = services.Category
	MergeOptions  = services.MergeOptions
	MergeStrategy = services.MergeStrategy
)

const (
	CategoryConnection = services.CategoryConnection
	CategorySession    = services.CategorySession
	CategoryBusiness   = services.CategoryBusiness

	MergeLatest     = services.MergeLatest
	MergeFieldUnion = services.MergeFieldUnion
)

// Sentinel errors callers match with errors.Is.
var (
	ErrNotFound      = thread.ErrNotFound
	ErrConflict      = thread.ErrConflict
	ErrMergeConflict = thread.ErrMergeConflict
	ErrInvalidState  = thread.ErrInvalidState

	ErrCheckpointNotFound = checkpoint.ErrNotFound
	ErrStorage            = checkpoint.ErrStorage
)

// Store is the checkpoint persistence interface accepted by Config.
type Store = checkpoint.Store

// Config holds engine construction settings. The zero value wires an
// in-memory store, a default state container, and slog.Default.
type Config struct {
	Store         Store
	SweepInterval time.Duration
	MaxHistory    int
	StrictMerge   bool
	Logger        *slog.Logger
}

// Engine bundles the engine's components behind one constructor-owned
// handle: the thread manager, the generic state container, the
// session/thread mapper, and the state synchronizer. Lifecycle is explicit:
// construct with New, release with Close.
type Engine struct {
	store     Store
	container *services.StateContainer
	manager   *services.ThreadManager
	mapper    *services.SessionThreadMapper
	sync      *services.StateSynchronizer
}

// New constructs an engine from the config.
func New(config Config) (*Engine, error) {
	if config.Store == nil {
		config.Store = memory.NewStore()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	container := services.NewStateContainer(services.ContainerConfig{
		MaxHistory:    config.MaxHistory,
		SweepInterval: config.SweepInterval,
		Logger:        config.Logger,
	})
	manager, err := services.NewThreadManager(services.ManagerConfig{
		Store:       config.Store,
		Container:   container,
		StrictMerge: config.StrictMerge,
		Logger:      config.Logger,
	})
	if err != nil {
		_ = container.Close()
		return nil, err
	}
	mapper := services.NewSessionThreadMapper(manager)

	return &Engine{
		store:     config.Store,
		container: container,
		manager:   manager,
		mapper:    mapper,
		sync:      services.NewStateSynchronizer(manager, mapper, config.Logger),
	}, nil
}

// Default constructs an engine with in-memory storage, suitable for local
// usage and tests.
func Default() *Engine {
	e, _ := New(Config{})
	return e
}

// Close releases the container's sweeper and the store.
func (e *Engine) Close() error {
	_ = e.container.Close()
	return e.store.Close()
}

// Threads

// CreateThread starts a new thread rooted at initialValues.
func (e *Engine) CreateThread(ctx context.Context, graphID string, initialValues, metadata map[string]interface{}) (*Thread, error) {
	if initialValues == nil {
		initialValues = map[string]interface{}{}
	}
	return e.manager.CreateThread(ctx, &dto.CreateThreadRequest{
		GraphID:       graphID,
		InitialValues: initialValues,
		Metadata:      metadata,
	})
}

// UpdateState appends a checkpoint merging values over the current latest.
// Pass expectedBase "" to skip the optimistic concurrency check.
func (e *Engine) UpdateState(ctx context.Context, threadID string, values map[string]interface{}, expectedBase string) (string, error) {
	return e.manager.UpdateState(ctx, &dto.UpdateStateRequest{
		ThreadID:                 threadID,
		Values:                   values,
		ExpectedBaseCheckpointID: expectedBase,
	})
}

// Fork creates a new thread from a source checkpoint.
func (e *Engine) Fork(ctx context.Context, threadID, checkpointID, branchName string, metadata map[string]interface{}) (*Thread, error) {
	return e.manager.Fork(ctx, &dto.ForkRequest{
		ThreadID:     threadID,
		CheckpointID: checkpointID,
		BranchName:   branchName,
		Metadata:     metadata,
	})
}

// Rollback appends a checkpoint restoring an earlier checkpoint's values.
func (e *Engine) Rollback(ctx context.Context, threadID, checkpointID string) (string, error) {
	return e.manager.Rollback(ctx, threadID, checkpointID)
}

// Snapshot bookmarks the thread's latest checkpoint under a name.
func (e *Engine) Snapshot(ctx context.Context, threadID, name, description string) (*SnapshotRef, error) {
	return e.manager.Snapshot(ctx, &dto.SnapshotRequest{
		ThreadID:    threadID,
		Name:        name,
		Description: description,
	})
}

// RestoreSnapshot moves the thread's latest pointer back to the bookmark.
func (e *Engine) RestoreSnapshot(ctx context.Context, snapshotID string) (string, error) {
	return e.manager.RestoreSnapshot(ctx, snapshotID)
}

// Merge folds the source thread's latest values into the target thread.
func (e *Engine) Merge(ctx context.Context, targetThreadID, sourceThreadID string, opts MergeOptions) (string, error) {
	return e.manager.Merge(ctx, targetThreadID, sourceThreadID, opts)
}

// GetHistory lists a thread's checkpoints oldest first.
func (e *Engine) GetHistory(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error) {
	return e.manager.GetHistory(ctx, threadID, limit)
}

// GetThread returns a thread's metadata record.
func (e *Engine) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	return e.manager.GetThread(ctx, threadID)
}

// GetCheckpoint reads one checkpoint by coordinates.
func (e *Engine) GetCheckpoint(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error) {
	return e.manager.GetCheckpoint(ctx, threadID, checkpointID)
}

// LatestCheckpoint resolves the checkpoint behind the latest pointer.
func (e *Engine) LatestCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	return e.manager.LatestCheckpoint(ctx, threadID)
}

// CompleteThread, FailThread, and ArchiveThread drive the status machine.
func (e *Engine) CompleteThread(threadID string) error { return e.manager.Complete(threadID) }
func (e *Engine) FailThread(threadID string) error     { return e.manager.Fail(threadID) }
func (e *Engine) ArchiveThread(threadID string) error  { return e.manager.Archive(threadID) }

// Sessions

// CreateSessionWithThread creates a thread and binds a fresh session to it.
func (e *Engine) CreateSessionWithThread(ctx context.Context, graphID string, metadata map[string]interface{}) (sessionID, threadID string, err error) {
	return e.mapper.CreateSessionWithThread(ctx, graphID, metadata)
}

// GetThreadForSession resolves a session's thread.
func (e *Engine) GetThreadForSession(sessionID string) (string, error) {
	return e.mapper.GetThreadForSession(sessionID)
}

// GetSessionForThread resolves a thread's session.
func (e *Engine) GetSessionForThread(threadID string) (string, error) {
	return e.mapper.GetSessionForThread(threadID)
}

// DeleteMapping unbinds a session from its thread.
func (e *Engine) DeleteMapping(sessionID string) bool {
	return e.mapper.DeleteMapping(sessionID)
}

// SyncSessionToThread projects a session representation into the thread.
func (e *Engine) SyncSessionToThread(ctx context.Context, session *SessionData, threadID string) (string, error) {
	return e.sync.SyncSessionToThread(ctx, session, threadID)
}

// SyncThreadToSession builds the session representation from the thread.
func (e *Engine) SyncThreadToSession(ctx context.Context, threadID string) (*SessionData, error) {
	return e.sync.SyncThreadToSession(ctx, threadID)
}

// Auxiliary state

// StateContainer exposes the TTL-scoped container for auxiliary state
// (tool contexts and the like) sharing the engine's sweeper.
func (e *Engine) StateContainer() *services.StateContainer {
	return e.container
}
