package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContainer(t *testing.T, config ContainerConfig) *StateContainer {
	t.Helper()
	c := NewStateContainer(config)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestStateContainer_SetAndGet(t *testing.T) {
	c := newTestContainer(t, ContainerConfig{})

	contextID := c.CreateContext("owner-1", CategorySession)
	require.NotEmpty(t, contextID)

	ok := c.Set(contextID, CategorySession, map[string]interface{}{"step": 1}, 0)
	require.True(t, ok)

	data, ok := c.Get(contextID, CategorySession)
	require.True(t, ok)
	assert.Equal(t, 1, data["step"])

	t.Run("unknown context", func(t *testing.T) {
		_, ok := c.Get("missing", CategorySession)
		assert.False(t, ok)
	})

	t.Run("unknown category", func(t *testing.T) {
		_, ok := c.Get(contextID, CategoryBusiness)
		assert.False(t, ok)
	})

	t.Run("empty context id rejected", func(t *testing.T) {
		assert.False(t, c.Set("", CategorySession, map[string]interface{}{}, 0))
	})
}

func TestStateContainer_DefensiveCopies(t *testing.T) {
	c := newTestContainer(t, ContainerConfig{})
	contextID := c.CreateContext("owner-1", CategorySession)

	original := map[string]interface{}{"step": 1}
	c.Set(contextID, CategorySession, original, 0)

	// Mutating the caller's map after Set must not leak in.
	original["step"] = 99
	data, ok := c.Get(contextID, CategorySession)
	require.True(t, ok)
	assert.Equal(t, 1, data["step"])

	// Mutating a returned map must not leak back.
	data["step"] = 42
	again, ok := c.Get(contextID, CategorySession)
	require.True(t, ok)
	assert.Equal(t, 1, again["step"])
}

func TestStateContainer_VersionMonotonicity(t *testing.T) {
	c := newTestContainer(t, ContainerConfig{})
	contextID := c.CreateContext("owner-1", CategorySession)

	c.Set(contextID, CategorySession, map[string]interface{}{"step": 0}, 0)
	entry, ok := c.GetEntry(contextID, CategorySession)
	require.True(t, ok)
	assert.Equal(t, 1, entry.Version)

	for i := 1; i <= 5; i++ {
		version, ok := c.Update(contextID, CategorySession, map[string]interface{}{"step": i})
		require.True(t, ok)
		assert.Equal(t, 1+i, version)
	}

	entry, ok = c.GetEntry(contextID, CategorySession)
	require.True(t, ok)
	assert.Equal(t, 6, entry.Version)
	assert.Equal(t, 5, entry.Data["step"])
}

func TestStateContainer_UpdateIsShallowMerge(t *testing.T) {
	c := newTestContainer(t, ContainerConfig{})
	contextID := c.CreateContext("owner-1", CategorySession)

	c.Set(contextID, CategorySession, map[string]interface{}{
		"keep":   "original",
		"nested": map[string]interface{}{"a": 1, "b": 2},
	}, 0)

	_, ok := c.Update(contextID, CategorySession, map[string]interface{}{
		"nested": map[string]interface{}{"a": 10},
		"added":  true,
	})
	require.True(t, ok)

	data, ok := c.Get(contextID, CategorySession)
	require.True(t, ok)
	assert.Equal(t, "original", data["keep"])
	assert.Equal(t, true, data["added"])
	// Top-level keys replace wholesale: nested "b" is gone.
	assert.Equal(t, map[string]interface{}{"a": 10}, data["nested"])
}

func TestStateContainer_UpdateMissingEntry(t *testing.T) {
	c := newTestContainer(t, ContainerConfig{})

	_, ok := c.Update("missing", CategorySession, map[string]interface{}{"step": 1})
	assert.False(t, ok)
}

func TestStateContainer_HistoryBounded(t *testing.T) {
	c := newTestContainer(t, ContainerConfig{MaxHistory: 3})
	contextID := c.CreateContext("owner-1", CategorySession)

	c.Set(contextID, CategorySession, map[string]interface{}{"step": 0}, 0)
	for i := 1; i <= 10; i++ {
		_, ok := c.Update(contextID, CategorySession, map[string]interface{}{"step": i})
		require.True(t, ok)
	}

	entry, ok := c.GetEntry(contextID, CategorySession)
	require.True(t, ok)
	require.Len(t, entry.History, 3)
	// Oldest events dropped first: the tail holds the newest versions.
	assert.Equal(t, 9, entry.History[0].Version)
	assert.Equal(t, 11, entry.History[2].Version)
}

func TestStateContainer_LogicalExpiry(t *testing.T) {
	// Long sweep interval: expiry must be honored by reads alone.
	c := newTestContainer(t, ContainerConfig{SweepInterval: time.Hour})
	contextID := c.CreateContext("owner-1", CategorySession)

	c.Set(contextID, CategorySession, map[string]interface{}{"step": 1}, 10*time.Millisecond)

	_, ok := c.Get(contextID, CategorySession)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok = c.Get(contextID, CategorySession)
	assert.False(t, ok, "expired entry must be invisible before the sweeper runs")

	_, ok = c.Update(contextID, CategorySession, map[string]interface{}{"step": 2})
	assert.False(t, ok, "expired entry must not accept updates")

	// A fresh Set revives the category.
	require.True(t, c.Set(contextID, CategorySession, map[string]interface{}{"step": 3}, 0))
	data, ok := c.Get(contextID, CategorySession)
	require.True(t, ok)
	assert.Equal(t, 3, data["step"])
}

func TestStateContainer_SweeperRemovesExpired(t *testing.T) {
	c := newTestContainer(t, ContainerConfig{SweepInterval: 10 * time.Millisecond})
	contextID := c.CreateContext("owner-1", CategorySession)

	c.Set(contextID, CategorySession, map[string]interface{}{"step": 1}, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return c.lookup(contextID) == nil
	}, time.Second, 10*time.Millisecond, "sweeper should remove the emptied context")
}

func TestStateContainer_Delete(t *testing.T) {
	c := newTestContainer(t, ContainerConfig{})
	contextID := c.CreateContext("owner-1", CategorySession)
	c.Set(contextID, CategoryBusiness, map[string]interface{}{"step": 1}, 0)

	assert.True(t, c.Delete(contextID, CategoryBusiness))
	assert.False(t, c.Delete(contextID, CategoryBusiness))

	// The session category is untouched.
	_, ok := c.GetEntry(contextID, CategorySession)
	assert.True(t, ok)
}

func TestStateContainer_CleanupContext(t *testing.T) {
	c := newTestContainer(t, ContainerConfig{})
	contextID := c.CreateContext("owner-1", CategorySession)

	assert.True(t, c.CleanupContext(contextID))
	assert.False(t, c.CleanupContext(contextID))

	_, ok := c.Get(contextID, CategorySession)
	assert.False(t, ok)
}

func TestStateContainer_ListContexts(t *testing.T) {
	c := newTestContainer(t, ContainerConfig{SweepInterval: time.Hour})

	alice1 := c.CreateContext("alice", CategorySession)
	alice2 := c.CreateContext("alice", CategoryConnection)
	bob := c.CreateContext("bob", CategorySession)

	t.Run("filter by owner", func(t *testing.T) {
		got := c.ListContexts(ListFilter{OwnerID: "alice"})
		assert.ElementsMatch(t, []string{alice1, alice2}, got)
	})

	t.Run("filter by category", func(t *testing.T) {
		got := c.ListContexts(ListFilter{Category: CategoryConnection})
		assert.ElementsMatch(t, []string{alice2}, got)
	})

	t.Run("no filter", func(t *testing.T) {
		got := c.ListContexts(ListFilter{})
		assert.ElementsMatch(t, []string{alice1, alice2, bob}, got)
	})

	t.Run("expired entries omitted", func(t *testing.T) {
		c.Set(bob, CategorySession, map[string]interface{}{"x": 1}, time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		got := c.ListContexts(ListFilter{Category: CategorySession})
		assert.ElementsMatch(t, []string{alice1}, got)
	})
}

func TestStateContainer_ConcurrentUpdates(t *testing.T) {
	c := newTestContainer(t, ContainerConfig{MaxHistory: 100})
	contextID := c.CreateContext("owner-1", CategorySession)
	c.Set(contextID, CategorySession, map[string]interface{}{}, 0)

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				_, ok := c.Update(contextID, CategorySession, map[string]interface{}{key: i})
				assert.True(t, ok)
			}
		}(w)
	}
	wg.Wait()

	entry, ok := c.GetEntry(contextID, CategorySession)
	require.True(t, ok)
	// Every update bumped the version exactly once.
	assert.Equal(t, 1+workers*perWorker, entry.Version)
	assert.Len(t, entry.Data, workers*perWorker)
}

func TestStateContainer_CloseIdempotent(t *testing.T) {
	c := NewStateContainer(ContainerConfig{})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	// Foreground calls still work after Close.
	contextID := c.CreateContext("owner-1", CategorySession)
	assert.True(t, c.Set(contextID, CategorySession, map[string]interface{}{"step": 1}, 0))
}
