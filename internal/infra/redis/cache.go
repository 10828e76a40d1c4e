package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache provides type-safe caching operations.
type Cache[T any] struct {
	client    *Client
	keyPrefix string
	ttl       time.Duration
}

// NewCache creates a new type-safe cache.
func NewCache[T any](client *Client, prefix string, ttl time.Duration) (*Cache[T], error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		return nil, errors.New("key prefix is required")
	}
	if ttl <= 0 {
		return nil, errors.New("TTL must be positive")
	}

	return &Cache[T]{
		client:    client,
		keyPrefix: prefix,
		ttl:       ttl,
	}, nil
}

// MustNewCache creates a new cache or panics on error.
// Use only in initialization code where failure is unrecoverable.
func MustNewCache[T any](client *Client, prefix string, ttl time.Duration) *Cache[T] {
	cache, err := NewCache[T](client, prefix, ttl)
	if err != nil {
		panic(fmt.Sprintf("failed to create cache: %v", err))
	}
	return cache
}

// buildKey creates the full cache key with prefix.
func (c *Cache[T]) buildKey(key string) string {
	return fmt.Sprintf("%s:%s", c.keyPrefix, key)
}

// Get retrieves a cached value by key.
// Returns ErrCacheMiss if the key does not exist.
func (c *Cache[T]) Get(ctx context.Context, key string) (*T, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}

	start := time.Now()
	fullKey := c.buildKey(key)

	data, err := c.client.client.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		DefaultMetrics.RecordCacheMiss(c.keyPrefix)
		DefaultMetrics.ObserveOperation("cache_get", time.Since(start), nil)
		return nil, ErrCacheMiss
	}
	if err != nil {
		DefaultMetrics.ObserveOperation("cache_get", time.Since(start), err)
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		DefaultMetrics.ObserveOperation("cache_get", time.Since(start), err)
		return nil, fmt.Errorf("cache unmarshal: %w", err)
	}

	DefaultMetrics.RecordCacheHit(c.keyPrefix)
	DefaultMetrics.ObserveOperation("cache_get", time.Since(start), nil)
	return &value, nil
}

// Set stores a value in the cache with the default TTL.
func (c *Cache[T]) Set(ctx context.Context, key string, value T) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in the cache with a custom TTL.
func (c *Cache[T]) SetWithTTL(ctx context.Context, key string, value T, ttl time.Duration) error {
	if key == "" {
		return errors.New("key is required")
	}
	if ttl <= 0 {
		return errors.New("TTL must be positive")
	}

	start := time.Now()
	fullKey := c.buildKey(key)

	data, err := json.Marshal(value)
	if err != nil {
		DefaultMetrics.ObserveOperation("cache_set", time.Since(start), err)
		return fmt.Errorf("cache marshal: %w", err)
	}

	if err := c.client.client.Set(ctx, fullKey, data, ttl).Err(); err != nil {
		DefaultMetrics.ObserveOperation("cache_set", time.Since(start), err)
		return fmt.Errorf("cache set: %w", err)
	}

	DefaultMetrics.ObserveOperation("cache_set", time.Since(start), nil)
	return nil
}

// Delete removes a key from the cache.
func (c *Cache[T]) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("key is required")
	}

	if err := c.client.client.Del(ctx, c.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}

	return nil
}

// Exists checks if a key exists in the cache.
func (c *Cache[T]) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key is required")
	}

	n, err := c.client.client.Exists(ctx, c.buildKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("cache exists: %w", err)
	}

	return n > 0, nil
}

// TTL returns the default TTL for this cache.
func (c *Cache[T]) TTL() time.Duration {
	return c.ttl
}

// Prefix returns the key prefix for this cache.
func (c *Cache[T]) Prefix() string {
	return c.keyPrefix
}

// PermissionCache caches resolved permission sets per principal. Entries
// expire by TTL only; there is no push invalidation, so a role change
// becomes visible within the TTL at the latest.
type PermissionCache struct {
	inner *Cache[[]string]
}

// NewPermissionCache creates a permission cache with the given TTL.
func NewPermissionCache(client *Client, ttl time.Duration) (*PermissionCache, error) {
	inner, err := NewCache[[]string](client, "permcache", ttl)
	if err != nil {
		return nil, err
	}
	return &PermissionCache{inner: inner}, nil
}

// Get returns the cached permission set, or (nil, false, nil) on a miss.
func (pc *PermissionCache) Get(ctx context.Context, principalID string) ([]string, bool, error) {
	value, err := pc.inner.Get(ctx, principalID)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return *value, true, nil
}

// Set stores the permission set under the cache's TTL.
func (pc *PermissionCache) Set(ctx context.Context, principalID string, perms []string) error {
	return pc.inner.Set(ctx, principalID, perms)
}

// Invalidate drops the cached set for a principal. Exposed for admin
// tooling; the resolver itself relies on TTL expiry.
func (pc *PermissionCache) Invalidate(ctx context.Context, principalID string) error {
	return pc.inner.Delete(ctx, principalID)
}
