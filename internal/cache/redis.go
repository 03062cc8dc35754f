package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix scopes loreweave entries inside a shared Redis database.
const keyPrefix = "loreweave:"

// RedisStore implements Store on top of Redis, for deployments running
// several game nodes against one cache. TTLs are enforced server-side;
// capacity eviction is delegated to Redis' own maxmemory policy, so the
// in-memory Cache remains the reference for LRU semantics.
type RedisStore struct {
	client *redis.Client
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedisStore creates a RedisStore over an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the value for key, counting hits and misses locally.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool) {
	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		s.misses.Add(1)
		return "", false
	}
	if err != nil {
		slog.Warn("redis cache get failed", "error", err)
		s.misses.Add(1)
		return "", false
	}
	s.hits.Add(1)
	return val, true
}

// Set stores value under key with a server-side TTL.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := s.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		slog.Warn("redis cache set failed", "error", err)
	}
}

// Invalidate removes every entry whose key contains substr and returns the
// number removed. Uses SCAN to avoid blocking the server.
func (s *RedisStore) Invalidate(ctx context.Context, substr string) int {
	removed := 0
	iter := s.client.Scan(ctx, 0, keyPrefix+"*"+substr+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err == nil {
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		slog.Warn("redis cache invalidate scan failed", "error", err)
	}
	return removed
}

// Stats reports locally-counted hits and misses. Entry count and memory are
// not tracked per-node for the shared store.
func (s *RedisStore) Stats() Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	st := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}
