// Package redis provides a Redis-backed checkpoint store. Each checkpoint
// lives under its own key; a per-thread sorted set scored by creation time
// provides ordered listing and latest lookup. Writes go through a
// transactional pipeline so the record and its index entry commit together.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kkkqkx123/open-agent-sub006/internal/core/checkpoint"
	"github.com/kkkqkx123/open-agent-sub006/internal/infrastructure/metrics"
	"github.com/kkkqkx123/open-agent-sub006/pkg/serialization"
)

const defaultPrefix = "ckpt"

// Store implements checkpoint.Store on Redis.
type Store struct {
	client     *goredis.Client
	serializer *serialization.Serializer
	logger     *slog.Logger
	prefix     string
	addr       string
	db         int
	password   string
	ttl        time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithPassword sets the connection password.
func WithPassword(password string) Option {
	return func(s *Store) { s.password = password }
}

// WithDB selects the Redis logical database.
func WithDB(db int) Option {
	return func(s *Store) { s.db = db }
}

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

// WithClient injects an existing client (addr is ignored).
func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

// WithTTL sets a retention TTL on checkpoint keys. Zero (the default)
// keeps records forever; the engine itself never expires history.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSerializer overrides the msgpack+zstd default.
func WithSerializer(ser *serialization.Serializer) Option {
	return func(s *Store) {
		if ser != nil {
			s.serializer = ser
		}
	}
}

// WithLogger sets the logger for skipped-entry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore connects and pings the server.
func NewStore(addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("%w: redis addr is required", checkpoint.ErrStorage)
	}

	s := &Store{
		serializer: serialization.Default(),
		logger:     slog.Default(),
		prefix:     defaultPrefix,
		addr:       addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping failed: %v", checkpoint.ErrStorage, err)
	}
	return s, nil
}

// Save writes the record and its index entry in one transactional pipeline.
func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	raw, err := s.serializer.Marshal(cp)
	if err != nil {
		return fmt.Errorf("%w: encode checkpoint: %v", checkpoint.ErrStorage, err)
	}

	key := s.recordKey(cp.ThreadID, cp.ID)
	idx := s.threadIndexKey(cp.ThreadID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, raw, s.ttl)
	pipe.ZAdd(ctx, idx, goredis.Z{
		Score:  float64(cp.CreatedAt.UTC().UnixNano()),
		Member: cp.ID,
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, idx, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: save checkpoint: %v", checkpoint.ErrStorage, err)
	}
	metrics.IncCheckpointsSaved()
	return nil
}

// Get retrieves one checkpoint by coordinates.
func (s *Store) Get(ctx context.Context, threadID, id string) (*checkpoint.Checkpoint, error) {
	raw, err := s.client.Get(ctx, s.recordKey(threadID, id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, checkpoint.ErrNotFound
		}
		return nil, fmt.Errorf("%w: load checkpoint: %v", checkpoint.ErrStorage, err)
	}

	var cp checkpoint.Checkpoint
	if err := s.serializer.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("%w: decode checkpoint: %v", checkpoint.ErrStorage, err)
	}
	metrics.IncCheckpointsLoaded()
	return &cp, nil
}

// List returns a thread's checkpoints in creation order, skipping entries
// whose record is missing or undecodable.
func (s *Store) List(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	ids, err := s.client.ZRange(ctx, s.threadIndexKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list checkpoint ids: %v", checkpoint.ErrStorage, err)
	}

	out := make([]*checkpoint.Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.Get(ctx, threadID, id)
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint record",
				"thread_id", threadID, "checkpoint_id", id, "error", err)
			metrics.IncListEntriesSkipped()
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

// Latest returns the newest checkpoint of a thread.
func (s *Store) Latest(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	ids, err := s.client.ZRevRange(ctx, s.threadIndexKey(threadID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: load latest id: %v", checkpoint.ErrStorage, err)
	}
	if len(ids) == 0 {
		return nil, checkpoint.ErrNotFound
	}
	return s.Get(ctx, threadID, ids[0])
}

// Delete removes a record and its index entry. Retention/GC use only.
func (s *Store) Delete(ctx context.Context, threadID, id string) error {
	key := s.recordKey(threadID, id)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: delete checkpoint: %v", checkpoint.ErrStorage, err)
	}
	if exists == 0 {
		return checkpoint.ErrNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, s.threadIndexKey(threadID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: delete checkpoint: %v", checkpoint.ErrStorage, err)
	}
	return nil
}

// Close closes the client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) recordKey(threadID, id string) string {
	return fmt.Sprintf("%s:record:%s:%s", s.prefix, threadID, id)
}

func (s *Store) threadIndexKey(threadID string) string {
	return fmt.Sprintf("%s:thread:%s", s.prefix, threadID)
}
