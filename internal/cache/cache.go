// Package cache provides the response cache for AI provider calls: a
// key-addressed store with per-entry TTL, LRU capacity eviction, and
// namespace-aware TTL policy. The in-memory store is the canonical
// implementation; a Redis-backed store offers the same surface for
// multi-process deployments.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultCapacity = 1000

// Store is the cache surface the dispatcher depends on. Values are opaque
// strings (the dispatcher stores marshalled responses).
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Invalidate(ctx context.Context, substr string) int
	Stats() Stats
}

// Stats reports cache performance counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	Entries     int
	MemoryBytes int
}

// entry is owned exclusively by the cache and never exposed by reference.
type entry struct {
	key         string
	value       string
	createdAt   time.Time
	ttl         time.Duration
	accessCount int
	lastAccess  time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.createdAt.Add(e.ttl))
}

// Cache is the in-memory LRU+TTL store.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	capacity int
	hits     uint64
	misses   uint64
}

// New creates a Cache holding at most capacity entries. Non-positive
// capacity falls back to the default (1000).
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Cache{
		entries:  make(map[string]*entry),
		capacity: capacity,
	}
}

// Get returns the value for key. Expired entries are lazily evicted and
// count as misses. Hits update the entry's access metadata.
func (c *Cache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}
	now := time.Now()
	if e.expired(now) {
		delete(c.entries, key)
		c.misses++
		return "", false
	}
	e.accessCount++
	e.lastAccess = now
	c.hits++
	return e.value, true
}

// Set stores value under key with the given ttl, evicting the
// least-recently-accessed entry first when at capacity.
func (c *Cache) Set(_ context.Context, key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictLRU()
	}
	c.entries[key] = &entry{
		key:        key,
		value:      value,
		createdAt:  now,
		ttl:        ttl,
		lastAccess: now,
	}
}

// evictLRU removes the entry with the oldest last access. Caller holds the lock.
func (c *Cache) evictLRU() {
	var victim string
	var oldest time.Time
	for k, e := range c.entries {
		if victim == "" || e.lastAccess.Before(oldest) {
			victim = k
			oldest = e.lastAccess
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

// Invalidate removes every entry whose key contains substr and returns the
// number removed.
func (c *Cache) Invalidate(_ context.Context, substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if strings.Contains(k, substr) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Optimize removes the lowest-value quartile of entries once utilization
// exceeds 75% of capacity. Value = access frequency divided by recency.
// Returns the number of entries removed.
func (c *Cache) Optimize() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries)*4 <= c.capacity*3 {
		return 0
	}

	type scored struct {
		key   string
		value float64
	}
	now := time.Now()
	all := make([]scored, 0, len(c.entries))
	for k, e := range c.entries {
		idle := now.Sub(e.lastAccess).Seconds() + 1
		all = append(all, scored{key: k, value: float64(e.accessCount+1) / idle})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].value < all[j].value })

	drop := len(all) / 4
	for _, s := range all[:drop] {
		delete(c.entries, s.key)
	}
	return drop
}

// Sweep removes all expired entries and returns the number removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps expired entries on the given interval until ctx is
// cancelled. Runs in its own goroutine.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					slog.Debug("cache janitor swept expired entries", "removed", n)
				}
			}
		}
	}()
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats reports hit/miss counters, entry count, and an estimated memory
// footprint (key and value bytes plus fixed per-entry overhead).
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	bytes := 0
	for k, e := range c.entries {
		bytes += len(k) + len(e.value) + 64
	}
	s := Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Entries:     len(c.entries),
		MemoryBytes: bytes,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
