package payments

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache stores short-lived provider access tokens. The redis-backed
// implementation shares tokens across instances; the in-process one is the
// fallback when redis is not configured.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

type redisTokenCache struct{ rdb *redis.Client }

func NewRedisTokenCache(rdb *redis.Client) TokenCache { return &redisTokenCache{rdb: rdb} }

func (c *redisTokenCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (c *redisTokenCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	c.rdb.Set(ctx, key, value, ttl)
}

type memoryEntry struct {
	value   string
	expires time.Time
}

type memoryTokenCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryTokenCache() TokenCache {
	return &memoryTokenCache{entries: map[string]memoryEntry{}}
}

func (c *memoryTokenCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *memoryTokenCache) Set(_ context.Context, key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expires: time.Now().Add(ttl)}
}
