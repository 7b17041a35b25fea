package reqflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache stores entries as JSON under a key prefix. Redis expires keys
// on its own; entries without a TTL are stored without expiry.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// NewRedisCache creates a new Redis cache instance.
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

// Get retrieves an entry from Redis.
func (r *RedisCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	val, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}

	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var entry CacheEntry

	err = json.Unmarshal(val, &entry)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}

	if entry.Expired(r.now()) {
		return nil, fmt.Errorf("%w: %s", ErrCacheEntryExpired, key)
	}

	return &entry, nil
}

// Set stores an entry in Redis. An entry that is already stale removes the key.
func (r *RedisCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	var ttl time.Duration

	if !entry.ExpiresAt.Equal(MaxTime) {
		ttl = entry.ExpiresAt.Sub(r.now())
		if ttl <= 0 {
			return r.Delete(ctx, key)
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}

	err = r.client.Set(ctx, r.keyPrefix+key, data, ttl).Err()
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

// Delete removes an entry from Redis.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	err := r.client.Del(ctx, r.keyPrefix+key).Err()
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}

	return nil
}

// Clear removes all keys with the cache's prefix.
func (r *RedisCache) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()

	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	err := iter.Err()
	if err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	err = r.client.Del(ctx, keys...).Err()
	if err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}

	return nil
}

// Has checks if a fresh entry exists.
func (r *RedisCache) Has(ctx context.Context, key string) bool {
	_, err := r.Get(ctx, key)

	return err == nil
}

// Close closes the underlying client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
