package homeassistant

import (
	"testing"
	"time"
)

func TestCacheGetMissesWhenEmpty(t *testing.T) {
	c := NewCache(time.Minute)
	if _, ok := c.Get("light.kitchen"); ok {
		t.Fatal("want miss on empty cache")
	}
}

func TestCacheUpsertThenGet(t *testing.T) {
	c := NewCache(time.Minute)
	c.Upsert("light.kitchen", "on", map[string]any{"brightness": 128.0}, time.Now())

	entry, ok := c.Get("light.kitchen")
	if !ok {
		t.Fatal("want hit after upsert")
	}
	if entry.State != "on" {
		t.Fatalf("state = %q, want on", entry.State)
	}
	if entry.FetchedAt.IsZero() {
		t.Fatal("want FetchedAt stamped")
	}
}

func TestCacheStaleEntryMisses(t *testing.T) {
	c := NewCache(time.Minute)
	c.UpsertAt("light.kitchen", "on", nil, time.Now(), time.Now().Add(-2*time.Minute))

	if _, ok := c.Get("light.kitchen"); ok {
		t.Fatal("want miss for entry older than ttl")
	}
	if c.Len() != 1 {
		t.Fatal("stale entry should still be held until replaced or invalidated")
	}
}

func TestCacheInvalidateForcesMiss(t *testing.T) {
	c := NewCache(time.Minute)
	c.Upsert("switch.coffee_maker", "on", nil, time.Now())
	c.Invalidate("switch.coffee_maker")

	if _, ok := c.Get("switch.coffee_maker"); ok {
		t.Fatal("want miss after invalidation")
	}
	if c.Len() != 0 {
		t.Fatal("invalidation should drop the entry entirely")
	}
}

func TestCacheUpsertReplacesPriorEntry(t *testing.T) {
	c := NewCache(time.Minute)
	c.Upsert("light.kitchen", "off", nil, time.Now())
	c.Upsert("light.kitchen", "on", nil, time.Now())

	entry, ok := c.Get("light.kitchen")
	if !ok || entry.State != "on" {
		t.Fatalf("want replaced entry state on, got ok=%v entry=%+v", ok, entry)
	}
	if c.Len() != 1 {
		t.Fatalf("want 1 entry after replace, got %d", c.Len())
	}
}
