// Package services implements the engine's application layer: the thread
// manager, the generic state container, the session/thread mapper, and the
// state synchronizer.
package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kkkqkx123/open-agent-sub006/internal/infrastructure/metrics"
)

// Category partitions a context's state by concern.
type Category string

const (
	CategoryConnection Category = "connection"
	CategorySession    Category = "session"
	CategoryBusiness   Category = "business"
)

// StateEvent records one mutation in an entry's bounded history.
type StateEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Updates   map[string]interface{} `json:"updates"`
	Version   int                    `json:"version"`
}

// StateEntry is one category's state under a context. Version increases by
// exactly one per successful mutation; History keeps at most MaxHistory
// events, oldest dropped first.
type StateEntry struct {
	ContextID string                 `json:"context_id"`
	Category  Category               `json:"category"`
	Data      map[string]interface{} `json:"data"`
	Version   int                    `json:"version"`
	History   []StateEvent           `json:"history,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
}

// expired reports logical expiry. An expired entry is treated as absent by
// every read path even before the sweeper physically removes it.
func (e *StateEntry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// contextState groups a context's entries under a per-context lock, so
// mutations on different contexts never contend.
type contextState struct {
	mu      sync.Mutex
	ownerID string
	entries map[Category]*StateEntry
}

// ContainerConfig holds StateContainer settings.
type ContainerConfig struct {
	// MaxHistory bounds each entry's event ring. Defaults to 20.
	MaxHistory int
	// SweepInterval is how often the expiry sweeper wakes. Defaults to
	// one minute.
	SweepInterval time.Duration
	// Logger for sweeper diagnostics; nil selects slog.Default.
	Logger *slog.Logger
}

// StateContainer is a concurrent, TTL-scoped key/value store. It backs the
// thread manager's metadata and is reused independently for auxiliary
// per-session state such as tool contexts.
//
// Mutations on one context serialize on that context's mutex; reads return
// defensive copies so callers can never corrupt internal state. A
// background sweeper removes expired entries, holding a lock only for the
// removal of one context's entries at a time.
type StateContainer struct {
	mu       sync.RWMutex
	contexts map[string]*contextState

	maxHistory int
	logger     *slog.Logger

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewStateContainer creates the container and starts its sweeper.
func NewStateContainer(config ContainerConfig) *StateContainer {
	if config.MaxHistory <= 0 {
		config.MaxHistory = 20
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	c := &StateContainer{
		contexts:   make(map[string]*contextState),
		maxHistory: config.MaxHistory,
		logger:     config.Logger,
		stopSweep:  make(chan struct{}),
	}
	c.startSweeper(config.SweepInterval)
	return c
}

// DefaultStateContainer creates a container with default settings.
func DefaultStateContainer() *StateContainer {
	return NewStateContainer(ContainerConfig{})
}

// CreateContext registers a new context for an owner and pre-creates an
// empty entry for the given category. Entries for other categories appear
// on first write.
func (c *StateContainer) CreateContext(ownerID string, category Category) string {
	contextID := uuid.New().String()
	now := time.Now().UTC()

	cs := &contextState{
		ownerID: ownerID,
		entries: map[Category]*StateEntry{
			category: {
				ContextID: contextID,
				Category:  category,
				Data:      make(map[string]interface{}),
				CreatedAt: now,
				UpdatedAt: now,
			},
		},
	}

	c.mu.Lock()
	c.contexts[contextID] = cs
	metrics.SetActiveContexts(len(c.contexts))
	c.mu.Unlock()
	return contextID
}

// Get returns a copy of the entry's data, or ok=false when the entry is
// absent or logically expired.
func (c *StateContainer) Get(contextID string, category Category) (map[string]interface{}, bool) {
	cs := c.lookup(contextID)
	if cs == nil {
		return nil, false
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	entry, ok := cs.entries[category]
	if !ok || entry.expired(time.Now()) {
		return nil, false
	}
	return copyData(entry.Data), true
}

// GetEntry returns a copy of the full entry, including version and history,
// for callers that need more than the data map.
func (c *StateContainer) GetEntry(contextID string, category Category) (*StateEntry, bool) {
	cs := c.lookup(contextID)
	if cs == nil {
		return nil, false
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	entry, ok := cs.entries[category]
	if !ok || entry.expired(time.Now()) {
		return nil, false
	}
	return copyEntry(entry), true
}

// Set replaces the entry wholesale: version resets to 1, history starts
// over, and ttl (when positive) schedules logical expiry. The entry is
// created on first write; an unknown context is created implicitly with
// the context ID as its owner.
func (c *StateContainer) Set(contextID string, category Category, data map[string]interface{}, ttl time.Duration) bool {
	if contextID == "" {
		return false
	}
	cs := c.lookupOrCreate(contextID)
	now := time.Now().UTC()

	entry := &StateEntry{
		ContextID: contextID,
		Category:  category,
		Data:      copyData(data),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		entry.ExpiresAt = &expires
	}

	cs.mu.Lock()
	if existing, ok := cs.entries[category]; ok && !existing.expired(now) {
		entry.CreatedAt = existing.CreatedAt
	}
	cs.entries[category] = entry
	cs.mu.Unlock()
	return true
}

// Update shallow-merges partial data into the existing entry: top-level
// keys replace wholesale, nothing is merged recursively. It bumps the
// version by one, appends a history event, and truncates history to the
// configured bound. Returns the new version and ok=false when the entry is
// absent or expired.
func (c *StateContainer) Update(contextID string, category Category, partial map[string]interface{}) (int, bool) {
	cs := c.lookup(contextID)
	if cs == nil {
		return 0, false
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := time.Now()
	entry, ok := cs.entries[category]
	if !ok || entry.expired(now) {
		return 0, false
	}

	for k, v := range partial {
		entry.Data[k] = v
	}
	entry.Version++
	entry.UpdatedAt = now.UTC()
	entry.History = append(entry.History, StateEvent{
		Timestamp: now.UTC(),
		Updates:   copyData(partial),
		Version:   entry.Version,
	})
	if len(entry.History) > c.maxHistory {
		entry.History = entry.History[len(entry.History)-c.maxHistory:]
	}
	return entry.Version, true
}

// Delete removes one category from a context.
func (c *StateContainer) Delete(contextID string, category Category) bool {
	cs := c.lookup(contextID)
	if cs == nil {
		return false
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.entries[category]; !ok {
		return false
	}
	delete(cs.entries, category)
	return true
}

// CleanupContext removes the whole context with all its categories.
func (c *StateContainer) CleanupContext(contextID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.contexts[contextID]; !ok {
		return false
	}
	delete(c.contexts, contextID)
	metrics.SetActiveContexts(len(c.contexts))
	return true
}

// ListFilter narrows ListContexts results. Zero values match everything.
type ListFilter struct {
	OwnerID  string
	Category Category
}

// ListContexts returns the IDs of contexts matching the filter. Contexts
// whose every entry has expired are omitted.
func (c *StateContainer) ListContexts(filter ListFilter) []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.contexts))
	states := make([]*contextState, 0, len(c.contexts))
	for id, cs := range c.contexts {
		ids = append(ids, id)
		states = append(states, cs)
	}
	c.mu.RUnlock()

	now := time.Now()
	var out []string
	for i, cs := range states {
		cs.mu.Lock()
		match := filter.OwnerID == "" || cs.ownerID == filter.OwnerID
		if match && filter.Category != "" {
			entry, ok := cs.entries[filter.Category]
			match = ok && !entry.expired(now)
		}
		if match && filter.Category == "" {
			live := false
			for _, entry := range cs.entries {
				if !entry.expired(now) {
					live = true
					break
				}
			}
			match = live || len(cs.entries) == 0
		}
		cs.mu.Unlock()
		if match {
			out = append(out, ids[i])
		}
	}
	return out
}

// Close stops the sweeper. The container remains usable for foreground
// calls; expired entries are then only removed logically.
func (c *StateContainer) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopSweep)
		if c.sweepTicker != nil {
			c.sweepTicker.Stop()
		}
	})
	c.wg.Wait()
	return nil
}

func (c *StateContainer) startSweeper(interval time.Duration) {
	c.sweepTicker = time.NewTicker(interval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.sweepTicker.C:
				c.sweep()
			case <-c.stopSweep:
				return
			}
		}
	}()
}

// sweep removes expired entries and contexts left with zero categories.
// It locks one context at a time, never the whole scan, so foreground
// readers and writers wait at most for one context's removal.
func (c *StateContainer) sweep() {
	c.mu.RLock()
	ids := make([]string, 0, len(c.contexts))
	for id := range c.contexts {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	now := time.Now()
	removed := 0
	for _, id := range ids {
		cs := c.lookup(id)
		if cs == nil {
			continue
		}

		cs.mu.Lock()
		for category, entry := range cs.entries {
			if entry.expired(now) {
				delete(cs.entries, category)
				removed++
			}
		}
		empty := len(cs.entries) == 0
		cs.mu.Unlock()

		if empty {
			c.mu.Lock()
			// Recheck under the write lock: a writer may have
			// recreated an entry between the unlock and here.
			if cur, ok := c.contexts[id]; ok && cur == cs {
				cur.mu.Lock()
				if len(cur.entries) == 0 {
					delete(c.contexts, id)
				}
				cur.mu.Unlock()
			}
			metrics.SetActiveContexts(len(c.contexts))
			c.mu.Unlock()
		}
	}
	if removed > 0 {
		metrics.AddSweeperRemovals(removed)
		c.logger.Debug("state sweep removed expired entries", "removed", removed)
	}
}

func (c *StateContainer) lookup(contextID string) *contextState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.contexts[contextID]
}

func (c *StateContainer) lookupOrCreate(contextID string) *contextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.contexts[contextID]
	if !ok {
		cs = &contextState{
			ownerID: contextID,
			entries: make(map[Category]*StateEntry),
		}
		c.contexts[contextID] = cs
		metrics.SetActiveContexts(len(c.contexts))
	}
	return cs
}

func copyData(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyEntry(e *StateEntry) *StateEntry {
	cp := *e
	cp.Data = copyData(e.Data)
	cp.History = make([]StateEvent, len(e.History))
	copy(cp.History, e.History)
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}
