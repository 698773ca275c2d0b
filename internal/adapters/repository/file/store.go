// Package file provides a file-backed checkpoint store. Each checkpoint is
// one record file under <root>/<threadID>/, committed with a
// write-temp-then-rename sequence so a crash mid-write never yields a
// partially written checkpoint.
package file

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kkkqkx123/open-agent-sub006/internal/core/checkpoint"
	"github.com/kkkqkx123/open-agent-sub006/internal/infrastructure/metrics"
	"github.com/kkkqkx123/open-agent-sub006/pkg/serialization"
)

const recordExt = ".ckpt"

// Store implements checkpoint.Store on the local filesystem.
type Store struct {
	root       string
	serializer *serialization.Serializer
	logger     *slog.Logger
	syncWrites bool
	mu         sync.RWMutex
}

// Config holds file store settings.
type Config struct {
	// Root is the directory holding one subdirectory per thread.
	Root string
	// Serializer encodes records; nil selects the msgpack+zstd default.
	Serializer *serialization.Serializer
	// SyncWrites fsyncs record files and the directory entry after
	// rename. Slower, but survives power loss as well as crashes.
	SyncWrites bool
	// Logger for skipped-entry diagnostics; nil selects slog.Default.
	Logger *slog.Logger
}

// NewStore creates the root directory if needed and returns the store.
func NewStore(config Config) (*Store, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("%w: file store root is required", checkpoint.ErrStorage)
	}
	if config.Serializer == nil {
		config.Serializer = serialization.Default()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if err := os.MkdirAll(config.Root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root: %v", checkpoint.ErrStorage, err)
	}
	return &Store{
		root:       config.Root,
		serializer: config.Serializer,
		logger:     config.Logger,
		syncWrites: config.SyncWrites,
	}, nil
}

// Save writes the record to a temp file in the thread directory, then
// renames it into place. Rename is atomic on POSIX filesystems, so readers
// observe either the old state or the complete new record, never a torn one.
func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	data, err := s.serializer.Marshal(cp)
	if err != nil {
		return fmt.Errorf("%w: encode checkpoint: %v", checkpoint.ErrStorage, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, cp.ThreadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create thread dir: %v", checkpoint.ErrStorage, err)
	}

	path := filepath.Join(dir, s.recordName(cp))
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open temp file: %v", checkpoint.ErrStorage, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: write record: %v", checkpoint.ErrStorage, err)
	}
	if s.syncWrites {
		if err := f.Sync(); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("%w: sync record: %v", checkpoint.ErrStorage, err)
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: close record: %v", checkpoint.ErrStorage, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: commit record: %v", checkpoint.ErrStorage, err)
	}
	if s.syncWrites {
		s.syncDir(dir)
	}
	metrics.IncCheckpointsSaved()
	return nil
}

// Get reads one checkpoint by coordinates.
func (s *Store) Get(ctx context.Context, threadID, id string) (*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := s.findRecord(threadID, id)
	if err != nil {
		return nil, err
	}
	cp, err := s.readRecord(path)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, checkpoint.ErrNotFound
		}
		return nil, fmt.Errorf("%w: read checkpoint %s: %v", checkpoint.ErrStorage, id, err)
	}
	metrics.IncCheckpointsLoaded()
	return cp, nil
}

// List returns a thread's checkpoints sorted by CreatedAt ascending.
// Unreadable records are skipped and logged rather than failing the whole
// listing.
func (s *Store) List(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := s.recordNames(threadID)
	if err != nil {
		return nil, err
	}

	out := make([]*checkpoint.Checkpoint, 0, len(names))
	for _, name := range names {
		cp, err := s.readRecord(filepath.Join(s.root, threadID, name))
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint record",
				"thread_id", threadID, "file", name, "error", err)
			metrics.IncListEntriesSkipped()
			continue
		}
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Latest returns the newest checkpoint of a thread. File names are
// prefixed with a zero-padded creation timestamp, so the newest record is
// the last name in sorted order; unreadable tail records fall back to the
// next newest.
func (s *Store) Latest(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := s.recordNames(threadID)
	if err != nil {
		return nil, err
	}
	for i := len(names) - 1; i >= 0; i-- {
		cp, err := s.readRecord(filepath.Join(s.root, threadID, names[i]))
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint record",
				"thread_id", threadID, "file", names[i], "error", err)
			metrics.IncListEntriesSkipped()
			continue
		}
		return cp, nil
	}
	return nil, checkpoint.ErrNotFound
}

// Delete removes a record file. Retention/GC use only.
func (s *Store) Delete(ctx context.Context, threadID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.findRecord(threadID, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: remove record: %v", checkpoint.ErrStorage, err)
	}
	return nil
}

// Close is a no-op for the file store; files are closed per operation.
func (s *Store) Close() error { return nil }

// recordName builds "<padded-unixnano>_<id>.ckpt" so lexicographic order
// matches creation order.
func (s *Store) recordName(cp *checkpoint.Checkpoint) string {
	return fmt.Sprintf("%019d_%s%s", cp.CreatedAt.UnixNano(), cp.ID, recordExt)
}

// recordNames lists the thread's record files in lexicographic (creation)
// order. A missing thread directory means no checkpoints.
func (s *Store) recordNames(threadID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, threadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read thread dir: %v", checkpoint.ErrStorage, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) findRecord(threadID, id string) (string, error) {
	names, err := s.recordNames(threadID)
	if err != nil {
		return "", err
	}
	suffix := "_" + id + recordExt
	for _, name := range names {
		if strings.HasSuffix(name, suffix) {
			return filepath.Join(s.root, threadID, name), nil
		}
	}
	return "", checkpoint.ErrNotFound
}

func (s *Store) readRecord(path string) (*checkpoint.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, checkpoint.ErrNotFound
		}
		return nil, err
	}
	var cp checkpoint.Checkpoint
	if err := s.serializer.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return &cp, nil
}

// syncDir flushes the directory entry after a rename. Failure is logged,
// not surfaced: the record itself is already durable.
func (s *Store) syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		s.logger.Warn("directory sync failed", "dir", dir, "error", err)
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		s.logger.Warn("directory sync failed", "dir", dir, "error", err)
	}
}
