package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kkkqkx123/open-agent-sub006/internal/app/dto"
	"github.com/kkkqkx123/open-agent-sub006/internal/core/checkpoint"
	"github.com/kkkqkx123/open-agent-sub006/internal/core/thread"
	"github.com/kkkqkx123/open-agent-sub006/internal/infrastructure/metrics"
	"github.com/kkkqkx123/open-agent-sub006/pkg/validation"
)

// MergeStrategy selects how a source thread's values fold into a target.
type MergeStrategy string

const (
	// MergeLatest takes the source's latest values wholesale.
	MergeLatest MergeStrategy = "latest"
	// MergeFieldUnion shallow-unions target and source values. Keys
	// defined by both sides resolve per MergeOptions.Strict.
	MergeFieldUnion MergeStrategy = "field_union"
)

// MergeOptions controls a merge call. With Strict unset, colliding keys
// resolve source-wins; with Strict set, a collision fails with
// ErrMergeConflict. The default is deliberate and documented rather than
// implied: deployments wanting hard failures opt in per call or via
// ManagerConfig.StrictMerge.
type MergeOptions struct {
	Strategy MergeStrategy
	Strict   bool
}

// ManagerConfig holds ThreadManager settings.
type ManagerConfig struct {
	// Store persists checkpoints. Required.
	Store checkpoint.Store
	// Container holds thread metadata. Required; typically shared with
	// the rest of the engine.
	Container *StateContainer
	// Limits bounds incoming payloads; zero value selects the defaults.
	Limits validation.Limits
	// StrictMerge makes field_union merges fail on key collisions unless
	// the call's MergeOptions says otherwise.
	StrictMerge bool
	// Logger; nil selects slog.Default.
	Logger *slog.Logger
}

// ThreadManager owns thread lifecycle, branching, rollback, snapshots, and
// merging on top of a checkpoint store and a state container.
//
// Within one thread, checkpoint-producing operations serialize at commit
// time through a short per-thread critical section combined with the
// optimistic expected-base check; readers never take that lock, so history
// listing and snapshot reads are never blocked by writers.
type ThreadManager struct {
	store     checkpoint.Store
	container *StateContainer
	limits    validation.Limits
	strict    bool
	logger    *slog.Logger

	// commitLocks serializes pointer advancement per thread.
	commitLocks sync.Map // threadID -> *sync.Mutex

	mu        sync.RWMutex
	branches  map[string]*thread.Branch
	snapshots map[string]*thread.Snapshot
}

// NewThreadManager wires a manager. Store and Container are required.
func NewThreadManager(config ManagerConfig) (*ThreadManager, error) {
	if config.Store == nil {
		return nil, errors.New("thread manager requires a checkpoint store")
	}
	if config.Container == nil {
		return nil, errors.New("thread manager requires a state container")
	}
	if config.Limits == (validation.Limits{}) {
		config.Limits = validation.DefaultLimits()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &ThreadManager{
		store:     config.Store,
		container: config.Container,
		limits:    config.Limits,
		strict:    config.StrictMerge,
		logger:    config.Logger,
		branches:  make(map[string]*thread.Branch),
		snapshots: make(map[string]*thread.Snapshot),
	}, nil
}

// CreateThread creates an idle thread with a parentless root checkpoint
// holding the initial values.
func (m *ThreadManager) CreateThread(ctx context.Context, req *dto.CreateThreadRequest) (*thread.Thread, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := validation.Payload(req.InitialValues, m.limits); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &thread.Thread{
		ID:        uuid.New().String(),
		GraphID:   req.GraphID,
		Status:    thread.StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	root := &checkpoint.Checkpoint{
		ID:        uuid.New().String(),
		ThreadID:  t.ID,
		Values:    checkpoint.CopyValues(req.InitialValues),
		Metadata:  checkpoint.CopyValues(req.Metadata),
		CreatedAt: now,
	}
	if err := m.store.Save(ctx, root); err != nil {
		return nil, fmt.Errorf("save root checkpoint: %w", err)
	}

	t.LatestCheckpointID = root.ID
	t.CheckpointCount = 1
	m.putThread(t)

	metrics.IncThreadsCreated()
	m.logger.Debug("thread created", "thread_id", t.ID, "graph_id", t.GraphID)
	return t.Clone(), nil
}

// UpdateState extends a thread with a new checkpoint whose values are the
// base checkpoint's values shallow-merged with req.Values: top-level keys
// replace wholesale, arrays and nested objects are never merged
// recursively. When ExpectedBaseCheckpointID is set and no longer matches
// the thread's latest pointer, the call fails with thread.ErrConflict and
// nothing changes; the caller should reload and retry.
func (m *ThreadManager) UpdateState(ctx context.Context, req *dto.UpdateStateRequest) (string, error) {
	if err := validation.Struct(req); err != nil {
		return "", err
	}
	if err := validation.Payload(req.Values, m.limits); err != nil {
		return "", err
	}

	unlock := m.lockThread(req.ThreadID)
	defer unlock()

	t, err := m.getThread(req.ThreadID)
	if err != nil {
		return "", err
	}
	if !t.Mutable() {
		return "", fmt.Errorf("%w: thread %s is archived", thread.ErrInvalidState, t.ID)
	}
	if req.ExpectedBaseCheckpointID != "" && req.ExpectedBaseCheckpointID != t.LatestCheckpointID {
		metrics.IncCASConflicts()
		return "", fmt.Errorf("%w: expected base %s, latest is %s",
			thread.ErrConflict, req.ExpectedBaseCheckpointID, t.LatestCheckpointID)
	}

	base, err := m.store.Get(ctx, t.ID, t.LatestCheckpointID)
	if err != nil {
		return "", fmt.Errorf("load base checkpoint: %w", err)
	}

	merged := checkpoint.CopyValues(base.Values)
	for k, v := range req.Values {
		merged[k] = v
	}

	cp := &checkpoint.Checkpoint{
		ID:        uuid.New().String(),
		ThreadID:  t.ID,
		ParentID:  base.ID,
		Values:    merged,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Save(ctx, cp); err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}

	// Pointer and status advance only after the checkpoint is durable.
	t.LatestCheckpointID = cp.ID
	t.CheckpointCount++
	t.UpdatedAt = cp.CreatedAt
	if t.Status == thread.StatusIdle {
		t.Status = thread.StatusActive
	}
	m.putThread(t)
	return cp.ID, nil
}

// Fork creates a brand-new thread whose root checkpoint copies the values
// of the source checkpoint. The fork root is parentless; the origin
// coordinates live in its metadata, and a branch record preserves the
// lineage. Mutating the fork never affects the source.
func (m *ThreadManager) Fork(ctx context.Context, req *dto.ForkRequest) (*thread.Thread, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	src, err := m.getThread(req.ThreadID)
	if err != nil {
		return nil, err
	}
	source, err := m.store.Get(ctx, req.ThreadID, req.CheckpointID)
	if err != nil {
		return nil, fmt.Errorf("load source checkpoint: %w", err)
	}

	now := time.Now().UTC()
	t := &thread.Thread{
		ID:        uuid.New().String(),
		GraphID:   src.GraphID,
		Status:    thread.StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	metadata := checkpoint.CopyValues(req.Metadata)
	metadata[checkpoint.MetaOriginThreadID] = req.ThreadID
	metadata[checkpoint.MetaOriginCheckpointID] = req.CheckpointID

	root := &checkpoint.Checkpoint{
		ID:        uuid.New().String(),
		ThreadID:  t.ID,
		Values:    checkpoint.CopyValues(source.Values),
		Metadata:  metadata,
		CreatedAt: now,
	}
	if err := m.store.Save(ctx, root); err != nil {
		return nil, fmt.Errorf("save fork root checkpoint: %w", err)
	}

	t.LatestCheckpointID = root.ID
	t.CheckpointCount = 1
	m.putThread(t)

	branch := &thread.Branch{
		ID:                 uuid.New().String(),
		SourceThreadID:     req.ThreadID,
		SourceCheckpointID: req.CheckpointID,
		NewThreadID:        t.ID,
		Name:               req.BranchName,
		CreatedAt:          now,
	}
	m.mu.Lock()
	m.branches[branch.ID] = branch
	m.mu.Unlock()

	metrics.IncThreadsForked()
	m.logger.Debug("thread forked",
		"source_thread_id", req.ThreadID, "new_thread_id", t.ID, "branch", req.BranchName)
	return t.Clone(), nil
}

// Rollback moves a thread back to an earlier checkpoint's values without
// deleting anything: it appends a new checkpoint copying the target's
// values, parented on the current latest, tagged with rollback_from.
// History length is therefore monotonically non-decreasing.
func (m *ThreadManager) Rollback(ctx context.Context, threadID, checkpointID string) (string, error) {
	unlock := m.lockThread(threadID)
	defer unlock()

	t, err := m.getThread(threadID)
	if err != nil {
		return "", err
	}
	if !t.Mutable() {
		return "", fmt.Errorf("%w: thread %s is archived", thread.ErrInvalidState, t.ID)
	}

	target, err := m.store.Get(ctx, threadID, checkpointID)
	if err != nil {
		return "", fmt.Errorf("load rollback target: %w", err)
	}

	cp := &checkpoint.Checkpoint{
		ID:       uuid.New().String(),
		ThreadID: t.ID,
		ParentID: t.LatestCheckpointID,
		Values:   checkpoint.CopyValues(target.Values),
		Metadata: map[string]interface{}{
			checkpoint.MetaRollbackFrom: checkpointID,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Save(ctx, cp); err != nil {
		return "", fmt.Errorf("save rollback checkpoint: %w", err)
	}

	t.LatestCheckpointID = cp.ID
	t.CheckpointCount++
	t.UpdatedAt = cp.CreatedAt
	if t.Status == thread.StatusIdle {
		t.Status = thread.StatusActive
	}
	m.putThread(t)

	metrics.IncRollbacks()
	return cp.ID, nil
}

// Snapshot bookmarks the thread's current latest checkpoint under a name.
func (m *ThreadManager) Snapshot(ctx context.Context, req *dto.SnapshotRequest) (*thread.Snapshot, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	t, err := m.getThread(req.ThreadID)
	if err != nil {
		return nil, err
	}

	snap := &thread.Snapshot{
		ID:           uuid.New().String(),
		ThreadID:     t.ID,
		Name:         req.Name,
		Description:  req.Description,
		CheckpointID: t.LatestCheckpointID,
		CreatedAt:    time.Now().UTC(),
	}
	m.mu.Lock()
	m.snapshots[snap.ID] = snap
	m.mu.Unlock()
	return snap, nil
}

// RestoreSnapshot reactivates the bookmarked checkpoint by moving the
// thread's latest pointer back to it. No checkpoint is written; the
// history stays intact. Fails with ErrNotFound when the underlying
// checkpoint has since been pruned by a retention process.
func (m *ThreadManager) RestoreSnapshot(ctx context.Context, snapshotID string) (string, error) {
	m.mu.RLock()
	snap, ok := m.snapshots[snapshotID]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: snapshot %s", thread.ErrNotFound, snapshotID)
	}

	unlock := m.lockThread(snap.ThreadID)
	defer unlock()

	t, err := m.getThread(snap.ThreadID)
	if err != nil {
		return "", err
	}
	if !t.Mutable() {
		return "", fmt.Errorf("%w: thread %s is archived", thread.ErrInvalidState, t.ID)
	}

	if _, err := m.store.Get(ctx, snap.ThreadID, snap.CheckpointID); err != nil {
		return "", fmt.Errorf("snapshot checkpoint: %w", err)
	}

	t.LatestCheckpointID = snap.CheckpointID
	t.UpdatedAt = time.Now().UTC()
	m.putThread(t)
	return snap.CheckpointID, nil
}

// Merge folds the source thread's latest values into the target thread as
// a new target checkpoint. See MergeStrategy and MergeOptions for the
// conflict policy.
func (m *ThreadManager) Merge(ctx context.Context, targetID, sourceID string, opts MergeOptions) (string, error) {
	if opts.Strategy == "" {
		opts.Strategy = MergeFieldUnion
	}

	unlock := m.lockThread(targetID)
	defer unlock()

	target, err := m.getThread(targetID)
	if err != nil {
		return "", err
	}
	if !target.Mutable() {
		return "", fmt.Errorf("%w: thread %s is archived", thread.ErrInvalidState, targetID)
	}
	source, err := m.getThread(sourceID)
	if err != nil {
		return "", err
	}

	targetLatest, err := m.store.Get(ctx, target.ID, target.LatestCheckpointID)
	if err != nil {
		return "", fmt.Errorf("load target latest: %w", err)
	}
	sourceLatest, err := m.store.Get(ctx, source.ID, source.LatestCheckpointID)
	if err != nil {
		return "", fmt.Errorf("load source latest: %w", err)
	}

	var merged map[string]interface{}
	switch opts.Strategy {
	case MergeLatest:
		merged = checkpoint.CopyValues(sourceLatest.Values)
	case MergeFieldUnion:
		merged = checkpoint.CopyValues(targetLatest.Values)
		strict := opts.Strict || m.strict
		for k, v := range sourceLatest.Values {
			if existing, ok := merged[k]; ok && strict && !equalValue(existing, v) {
				return "", fmt.Errorf("%w: key %q defined by both threads",
					thread.ErrMergeConflict, k)
			}
			merged[k] = v
		}
	default:
		return "", fmt.Errorf("%w: unknown merge strategy %q", validation.ErrValidation, opts.Strategy)
	}

	cp := &checkpoint.Checkpoint{
		ID:       uuid.New().String(),
		ThreadID: target.ID,
		ParentID: target.LatestCheckpointID,
		Values:   merged,
		Metadata: map[string]interface{}{
			checkpoint.MetaMergeSource:   sourceID,
			checkpoint.MetaMergeStrategy: string(opts.Strategy),
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Save(ctx, cp); err != nil {
		return "", fmt.Errorf("save merge checkpoint: %w", err)
	}

	target.LatestCheckpointID = cp.ID
	target.CheckpointCount++
	target.UpdatedAt = cp.CreatedAt
	if target.Status == thread.StatusIdle {
		target.Status = thread.StatusActive
	}
	m.putThread(target)

	metrics.IncMerges()
	return cp.ID, nil
}

// GetHistory returns a thread's checkpoints oldest first. A positive limit
// keeps only the newest entries while preserving order.
func (m *ThreadManager) GetHistory(ctx context.Context, threadID string, limit int) ([]*checkpoint.Checkpoint, error) {
	if _, err := m.getThread(threadID); err != nil {
		return nil, err
	}
	history, err := m.store.List(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

// GetThread returns a copy of the thread's metadata record.
func (m *ThreadManager) GetThread(_ context.Context, threadID string) (*thread.Thread, error) {
	return m.getThread(threadID)
}

// GetCheckpoint reads one checkpoint by coordinates.
func (m *ThreadManager) GetCheckpoint(ctx context.Context, threadID, checkpointID string) (*checkpoint.Checkpoint, error) {
	return m.store.Get(ctx, threadID, checkpointID)
}

// LatestCheckpoint resolves the checkpoint behind the thread's latest
// pointer. Unlike the store's Latest, this honors snapshot restores, which
// can point the thread at an older checkpoint.
func (m *ThreadManager) LatestCheckpoint(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	t, err := m.getThread(threadID)
	if err != nil {
		return nil, err
	}
	return m.store.Get(ctx, threadID, t.LatestCheckpointID)
}

// Complete transitions an active thread to completed.
func (m *ThreadManager) Complete(threadID string) error {
	return m.transition(threadID, thread.StatusCompleted)
}

// Fail transitions an active thread to error, for caller-reported failures.
func (m *ThreadManager) Fail(threadID string) error {
	return m.transition(threadID, thread.StatusError)
}

// Archive makes a thread read-only. Any later mutating call fails with
// ErrInvalidState.
func (m *ThreadManager) Archive(threadID string) error {
	return m.transition(threadID, thread.StatusArchived)
}

// GetBranch returns a fork's lineage record.
func (m *ThreadManager) GetBranch(branchID string) (*thread.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.branches[branchID]
	if !ok {
		return nil, fmt.Errorf("%w: branch %s", thread.ErrNotFound, branchID)
	}
	cp := *b
	return &cp, nil
}

// ListBranches returns the branch records whose source is the given
// thread; an empty threadID lists everything.
func (m *ThreadManager) ListBranches(threadID string) []*thread.Branch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*thread.Branch
	for _, b := range m.branches {
		if threadID == "" || b.SourceThreadID == threadID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out
}

// ListSnapshots returns a thread's snapshots.
func (m *ThreadManager) ListSnapshots(threadID string) []*thread.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*thread.Snapshot
	for _, s := range m.snapshots {
		if s.ThreadID == threadID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out
}

func (m *ThreadManager) transition(threadID string, next thread.Status) error {
	unlock := m.lockThread(threadID)
	defer unlock()

	t, err := m.getThread(threadID)
	if err != nil {
		return err
	}
	if !t.CanTransition(next) {
		return fmt.Errorf("%w: cannot transition %s from %s to %s",
			thread.ErrInvalidState, threadID, t.Status, next)
	}
	if t.Status == next {
		return nil
	}
	t.Status = next
	t.UpdatedAt = time.Now().UTC()
	m.putThread(t)
	return nil
}

// lockThread serializes checkpoint-producing commits on one thread. The
// critical section is short (one store write plus a pointer update);
// cross-thread operations never contend.
func (m *ThreadManager) lockThread(threadID string) func() {
	v, _ := m.commitLocks.LoadOrStore(threadID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Thread metadata lives in the state container (session category, context
// keyed by thread ID), making the container the single home for mutable
// engine state.

func (m *ThreadManager) getThread(threadID string) (*thread.Thread, error) {
	data, ok := m.container.Get(threadID, CategorySession)
	if !ok {
		return nil, fmt.Errorf("%w: %s", thread.ErrNotFound, threadID)
	}
	return threadFromData(threadID, data)
}

func (m *ThreadManager) putThread(t *thread.Thread) {
	m.container.Set(t.ID, CategorySession, threadToData(t), 0)
}

func threadToData(t *thread.Thread) map[string]interface{} {
	return map[string]interface{}{
		"graph_id":             t.GraphID,
		"status":               string(t.Status),
		"latest_checkpoint_id": t.LatestCheckpointID,
		"checkpoint_count":     t.CheckpointCount,
		"created_at":           t.CreatedAt,
		"updated_at":           t.UpdatedAt,
	}
}

func threadFromData(threadID string, data map[string]interface{}) (*thread.Thread, error) {
	t := &thread.Thread{ID: threadID}
	var ok bool
	if t.GraphID, ok = data["graph_id"].(string); !ok {
		return nil, fmt.Errorf("%w: corrupt metadata for %s", thread.ErrNotFound, threadID)
	}
	if status, ok := data["status"].(string); ok {
		t.Status = thread.Status(status)
	}
	t.LatestCheckpointID, _ = data["latest_checkpoint_id"].(string)
	t.CheckpointCount, _ = data["checkpoint_count"].(int)
	if created, ok := data["created_at"].(time.Time); ok {
		t.CreatedAt = created
	}
	if updated, ok := data["updated_at"].(time.Time); ok {
		t.UpdatedAt = updated
	}
	return t, nil
}

// equalValue compares two opaque payload values. Payloads are maps of
// JSON-like data, so formatted comparison is sufficient and avoids
// reflect.DeepEqual's panics on unhashable kinds.
func equalValue(a, b interface{}) bool {
	return fmt.Sprintf("%#v", a) == fmt.Sprintf("%#v", b)
}
