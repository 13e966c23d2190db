package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SyncCache keeps the last successful sync result per provider and kind so a
// failed sync can fall back to it.
type SyncCache interface {
	Put(ctx context.Context, key string, v any) error
	// Get decodes the cached value into out; false when nothing is cached.
	Get(ctx context.Context, key string, out any) (bool, error)
}

func MenuCacheKey(providerID string) string  { return "orderbridge:sync:menu:" + providerID }
func OrderCacheKey(providerID string) string { return "orderbridge:sync:orders:" + providerID }

type MemorySyncCache struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemorySyncCache() *MemorySyncCache { return &MemorySyncCache{m: map[string][]byte{}} }

func (c *MemorySyncCache) Put(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = b
	return nil
}

func (c *MemorySyncCache) Get(_ context.Context, key string, out any) (bool, error) {
	c.mu.RLock()
	b, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, out)
}

// RedisSyncCache shares sync results between replicas.
type RedisSyncCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisSyncCache stores entries with the given TTL (0 keeps them forever).
func NewRedisSyncCache(rdb redis.UniversalClient, ttl time.Duration) *RedisSyncCache {
	return &RedisSyncCache{rdb: rdb, ttl: ttl}
}

func (c *RedisSyncCache) Put(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}

func (c *RedisSyncCache) Get(ctx context.Context, key string, out any) (bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, out)
}
