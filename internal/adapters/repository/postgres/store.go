// Package postgres provides a PostgreSQL-backed checkpoint store over a
// pgx connection pool, for deployments where multiple processes share one
// checkpoint history.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kkkqkx123/open-agent-sub006/internal/core/checkpoint"
	"github.com/kkkqkx123/open-agent-sub006/internal/infrastructure/metrics"
	"github.com/kkkqkx123/open-agent-sub006/pkg/serialization"
)

// Store implements checkpoint.Store on PostgreSQL.
type Store struct {
	pool       *pgxpool.Pool
	serializer *serialization.Serializer
	logger     *slog.Logger
}

// NewStore wraps an existing pool. Passing nil for serializer or logger
// selects the defaults.
func NewStore(pool *pgxpool.Pool, serializer *serialization.Serializer, logger *slog.Logger) *Store {
	if serializer == nil {
		serializer = serialization.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, serializer: serializer, logger: logger}
}

// CreateSchema creates the checkpoints table and its index.
func (s *Store) CreateSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id     TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			parent_id     TEXT,
			payload       BYTEA NOT NULL,
			metadata      JSONB,
			created_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_id)
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_created
			ON checkpoints (thread_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("%w: create schema: %v", checkpoint.ErrStorage, err)
	}
	return nil
}

// Save appends one checkpoint row; a single INSERT commits atomically.
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO checkpoints (thread_id, checkpoint_id, parent_id, payload, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		cp.ThreadID, cp.ID, cp.ParentID, payload, metadataJSON, cp.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: save checkpoint: %v", checkpoint.ErrStorage, err)
	}
	metrics.IncCheckpointsSaved()
	return nil
}

// Get retrieves one checkpoint by coordinates.
func (s *Store) Get(ctx context.Context, threadID, id string) (*checkpoint.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT thread_id, checkpoint_id, parent_id, payload, metadata, created_at
		FROM checkpoints WHERE thread_id = $1 AND checkpoint_id = $2`,
		threadID, id)

	cp, err := s.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkpoint.ErrNotFound
		}
		return nil, fmt.Errorf("%w: load checkpoint: %v", checkpoint.ErrStorage, err)
	}
	metrics.IncCheckpointsLoaded()
	return cp, nil
}

// List returns a thread's checkpoints ordered by created_at ascending,
// skipping undecodable rows.
func (s *Store) List(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT thread_id, checkpoint_id, parent_id, payload, metadata, created_at
		FROM checkpoints WHERE thread_id = $1 ORDER BY created_at ASC`,
		threadID)
	if err != nil {
		return nil, fmt.Errorf("%w: list checkpoints: %v", checkpoint.ErrStorage, err)
	}
	defer rows.Close()

	var out []*checkpoint.Checkpoint
	for rows.Next() {
		cp, err := s.scanRow(rows)
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
	row := s.pool.QueryRow(ctx, `
		SELECT thread_id, checkpoint_id, parent_id, payload, metadata, created_at
		FROM checkpoints WHERE thread_id = $1
		ORDER BY created_at DESC LIMIT 1`,
		threadID)

	cp, err := s.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkpoint.ErrNotFound
		}
		return nil, fmt.Errorf("%w: load latest checkpoint: %v", checkpoint.ErrStorage, err)
	}
	return cp, nil
}

// Delete removes a checkpoint row. Retention/GC use only.
func (s *Store) Delete(ctx context.Context, threadID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM checkpoints WHERE thread_id = $1 AND checkpoint_id = $2`,
		threadID, id)
	if err != nil {
		return fmt.Errorf("%w: delete checkpoint: %v", checkpoint.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return checkpoint.ErrNotFound
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) scanRow(row pgx.Row) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	var payload []byte
	var metadataJSON []byte
	var parentID *string
	var createdAt time.Time

	if err := row.Scan(&cp.ThreadID, &cp.ID, &parentID, &payload, &metadataJSON, &createdAt); err != nil {
		return nil, err
	}
	if parentID != nil {
		cp.ParentID = *parentID
	}
	cp.CreatedAt = createdAt.UTC()

	cp.Values = make(map[string]interface{})
	if err := s.serializer.Unmarshal(payload, &cp.Values); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &cp, nil
}
