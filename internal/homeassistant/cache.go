package homeassistant

import (
	"sync"
	"time"

	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// Cache is a TTL-bounded, write-through local mirror of Home Assistant
// entity state. It is updated two ways: continuously from the
// WebSocket event stream (which keeps entries fresh indefinitely) and,
// for any entry the event stream hasn't touched within ttl, by an
// on-demand REST refetch on next read.
type Cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]toolapi.StateCacheEntry
}

// NewCache creates an empty cache with the given freshness window.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]toolapi.StateCacheEntry),
	}
}

// Get returns the cached entry for entityID and whether it is present
// and still fresh (FetchedAt within ttl of now).
func (c *Cache) Get(entityID string) (toolapi.StateCacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[entityID]
	if !ok {
		return toolapi.StateCacheEntry{}, false
	}
	if time.Since(entry.FetchedAt) > c.ttl {
		return entry, false
	}
	return entry, true
}

// Upsert inserts or replaces the cached entry for an entity, stamping
// FetchedAt as now. Used by the REST read and write-through paths,
// where the fetch itself just happened.
func (c *Cache) Upsert(entityID, state string, attributes map[string]any, lastChanged time.Time) {
	c.UpsertAt(entityID, state, attributes, lastChanged, time.Now())
}

// UpsertAt is Upsert with an explicit FetchedAt, for the event path:
// a state_changed event's freshness is its time_fired, not the moment
// the frame was read off the socket.
func (c *Cache) UpsertAt(entityID, state string, attributes map[string]any, lastChanged, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[entityID] = toolapi.StateCacheEntry{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: lastChanged,
		FetchedAt:   fetchedAt,
	}
}

// Invalidate drops an entry, forcing the next Get to miss and the
// caller to refetch from the REST API. Used after a CallService call
// whose effect we can't yet observe via the event stream.
func (c *Cache) Invalidate(entityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, entityID)
}

// Len reports the number of entries currently held, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
