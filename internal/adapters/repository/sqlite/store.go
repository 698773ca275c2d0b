// Package sqlite provides a SQLite-backed checkpoint store using the pure
// Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kkkqkx123/open-agent-sub006/internal/core/checkpoint"
	"github.com/kkkqkx123/open-agent-sub006/internal/infrastructure/metrics"
	"github.com/kkkqkx123/open-agent-sub006/pkg/serialization"
)

const defaultBusyTimeout = 5 * time.Second

// Store implements checkpoint.Store on a SQLite database. Values are
// encoded through the serializer into a BLOB column; metadata stays JSON so
// records remain inspectable with plain SQL.
type Store struct {
	db          *sql.DB
	serializer  *serialization.Serializer
	logger      *slog.Logger
	busyTimeout time.Duration
	enableWAL   bool
}

// Option configures a Store.
type Option func(*Store)

// WithSerializer overrides the msgpack+zstd default.
func WithSerializer(s *serialization.Serializer) Option {
	return func(st *Store) {
		if s != nil {
			st.serializer = s
		}
	}
}

// WithBusyTimeout sets the SQLite busy_timeout pragma.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(st *Store) {
		if timeout >= 0 {
			st.busyTimeout = timeout
		}
	}
}

// WithWAL toggles WAL journaling (on by default).
func WithWAL(enabled bool) Option {
	return func(st *Store) { st.enableWAL = enabled }
}

// WithLogger sets the logger for skipped-entry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(st *Store) {
		if l != nil {
			st.logger = l
		}
	}
}

// NewStore opens (creating if necessary) the database at path and ensures
// the schema exists. A single write connection keeps SQLite happy under
// concurrent use.
func NewStore(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", checkpoint.ErrStorage)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create sqlite directory: %v", checkpoint.ErrStorage, err)
	}

	s := &Store{
		serializer:  serialization.Default(),
		logger:      slog.Default(),
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite db: %v", checkpoint.ErrStorage, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("%w: set busy_timeout: %v", checkpoint.ErrStorage, err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("%w: enable wal: %v", checkpoint.ErrStorage, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id     TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			parent_id     TEXT,
			payload       BLOB NOT NULL,
			metadata      TEXT,
			created_at    INTEGER NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_id)
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_created
			ON checkpoints (thread_id, created_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: initialize schema: %v", checkpoint.ErrStorage, err)
	}
	return nil
}

// Save appends one checkpoint row. A single INSERT is atomic in SQLite, so
// a crash mid-call leaves either the full row or nothing.
func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	payload, err := s.serializer.Marshal(cp.Values)
	if err != nil {
		return fmt.Errorf("%w: encode values: %v", checkpoint.ErrStorage, err)
	}
	metadataJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %v", checkpoint.ErrStorage, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, checkpoint_id, parent_id, payload, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ThreadID, cp.ID, cp.ParentID, payload, string(metadataJSON), cp.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("%w: save checkpoint: %v", checkpoint.ErrStorage, err)
	}
	metrics.IncCheckpointsSaved()
	return nil
}

// Get retrieves one checkpoint by coordinates.
func (s *Store) Get(ctx context.Context, threadID, id string) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, checkpoint_id, parent_id, payload, metadata, created_at
		FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?`,
		threadID, id)

	cp, err := s.scanRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, checkpoint.ErrNotFound
		}
		return nil, fmt.Errorf("%w: load checkpoint: %v", checkpoint.ErrStorage, err)
	}
	metrics.IncCheckpointsLoaded()
	return cp, nil
}

// List returns a thread's checkpoints ordered by created_at ascending.
// Rows whose payload fails to decode are skipped and logged.
func (s *Store) List(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, checkpoint_id, parent_id, payload, metadata, created_at
		FROM checkpoints WHERE thread_id = ? ORDER BY created_at ASC`,
		threadID)
	if err != nil {
		return nil, fmt.Errorf("%w: list checkpoints: %v", checkpoint.ErrStorage, err)
	}
	defer rows.Close()

	var out []*checkpoint.Checkpoint
	for rows.Next() {
		cp, err := s.scanRow(rows.Scan)
		if err != nil {
			s.logger.Warn("skipping undecodable checkpoint row",
				"thread_id", threadID, "error", err)
			metrics.IncListEntriesSkipped()
			continue
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list checkpoints: %v", checkpoint.ErrStorage, err)
	}
	return out, nil
}

// Latest returns the newest checkpoint of a thread.
func (s *Store) Latest(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, checkpoint_id, parent_id, payload, metadata, created_at
		FROM checkpoints WHERE thread_id = ?
		ORDER BY created_at DESC LIMIT 1`,
		threadID)

	cp, err := s.scanRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, checkpoint.ErrNotFound
		}
		return nil, fmt.Errorf("%w: load latest checkpoint: %v", checkpoint.ErrStorage, err)
	}
	return cp, nil
}

// Delete removes a checkpoint row. Retention/GC use only.
func (s *Store) Delete(ctx context.Context, threadID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?`,
		threadID, id)
	if err != nil {
		return fmt.Errorf("%w: delete checkpoint: %v", checkpoint.ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete checkpoint: %v", checkpoint.ErrStorage, err)
	}
	if affected == 0 {
		return checkpoint.ErrNotFound
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type scanFunc func(dest ...interface{}) error

func (s *Store) scanRow(scan scanFunc) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	var payload []byte
	var metadataJSON sql.NullString
	var parentID sql.NullString
	var createdAt int64

	if err := scan(&cp.ThreadID, &cp.ID, &parentID, &payload, &metadataJSON, &createdAt); err != nil {
		return nil, err
	}
	cp.ParentID = parentID.String
	cp.CreatedAt = time.Unix(0, createdAt).UTC()

	cp.Values = make(map[string]interface{})
	if err := s.serializer.Unmarshal(payload, &cp.Values); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &cp, nil
}
