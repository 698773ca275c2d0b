package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkqkx123/open-agent-sub006/internal/core/checkpoint"
	"github.com/kkkqkx123/open-agent-sub006/pkg/serialization"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{Root: t.TempDir()})
	require.NoError(t, err)
	return store
}

func newCheckpoint(threadID, id string, createdAt time.Time) *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		ID:        id,
		ThreadID:  threadID,
		Values:    map[string]interface{}{"step": int64(1), "note": "hello"},
		Metadata:  map[string]interface{}{"source": "test"},
		CreatedAt: createdAt,
	}
}

func TestNewStore_RequiresRoot(t *testing.T) {
	_, err := NewStore(Config{})
	assert.ErrorIs(t, err, checkpoint.ErrStorage)
}

func TestStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cp := newCheckpoint("thread-1", "cp-1", time.Now())
	require.NoError(t, store.Save(ctx, cp))

	got, err := store.Get(ctx, "thread-1", "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "cp-1", got.ID)
	assert.Equal(t, "thread-1", got.ThreadID)
	assert.EqualValues(t, 1, got.Values["step"])
	assert.Equal(t, "hello", got.Values["note"])
}

func TestStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "thread-1", "missing")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestStore_NoTempFilesAfterCommit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newCheckpoint("thread-1", "cp-1", time.Now())))

	entries, err := os.ReadDir(filepath.Join(store.root, "thread-1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, filepath.Ext(entries[0].Name()) == recordExt,
		"expected committed record, found %s", entries[0].Name())
}

func TestStore_ListOrderingAndLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"cp-1", "cp-2", "cp-3"} {
		require.NoError(t, store.Save(ctx, newCheckpoint("thread-1", id, base.Add(time.Duration(i)*time.Millisecond))))
	}

	list, err := store.List(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "cp-1", list[0].ID)
	assert.Equal(t, "cp-3", list[2].ID)

	latest, err := store.Latest(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "cp-3", latest.ID)
}

func TestStore_ListSkipsCorruptRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, store.Save(ctx, newCheckpoint("thread-1", "cp-1", base)))
	require.NoError(t, store.Save(ctx, newCheckpoint("thread-1", "cp-2", base.Add(time.Millisecond))))

	// Corrupt the newest record in place.
	path, err := store.findRecord("thread-1", "cp-2")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	list, err := store.List(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "cp-1", list[0].ID)

	// Latest falls back past the corrupt tail record.
	latest, err := store.Latest(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "cp-1", latest.ID)
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newCheckpoint("thread-1", "cp-1", time.Now())))
	require.NoError(t, store.Delete(ctx, "thread-1", "cp-1"))

	_, err := store.Get(ctx, "thread-1", "cp-1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestStore_SurvivesReopen(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(Config{Root: root, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, newCheckpoint("thread-1", "cp-1", time.Now())))
	require.NoError(t, store.Close())

	reopened, err := NewStore(Config{Root: root})
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "thread-1", "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "cp-1", got.ID)
}

func TestStore_CustomSerializer(t *testing.T) {
	ser := serialization.New(serialization.Config{
		Codec:       serialization.JSONCodec{},
		Compression: serialization.CompressionGzip,
	})

	store, err := NewStore(Config{Root: t.TempDir(), Serializer: ser})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newCheckpoint("thread-1", "cp-1", time.Now())))
	got, err := store.Get(ctx, "thread-1", "cp-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Values["step"])
}
