package reqflow

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachePolicy enables response caching for a call.
type CachePolicy struct {
	// Key overrides the request fingerprint.
	Key string
	// TTL is the freshness window. Nil never expires; zero or less is stale
	// immediately, so the next read dispatches again.
	TTL *time.Duration
	// Store overrides the client's cache.
	Store Cache
}

// cacheLayer serves fresh entries from the store and refills misses through
// a single flight per store and key.
type cacheLayer struct {
	next    Adapter
	policy  CachePolicy
	store   Cache
	flights *singleflight.Group
	now     func() time.Time
	logger  Logger
	metrics Metrics
}

func (l *cacheLayer) Dispatch(ctx context.Context, config *RequestConfig) (*Response, error) {
	key, err := policyKey(l.policy.Key, config)
	if err != nil {
		return nil, err
	}

	if resp, ok := l.lookup(ctx, key); ok {
		return resp, nil
	}

	l.metrics.CacheMiss()

	// The refill is shared, so it outlives the caller that started it.
	refillCtx := context.WithoutCancel(ctx)

	flightKey := fmt.Sprintf("%p|%s", l.store, key)
	results := l.flights.DoChan(flightKey, func() (interface{}, error) {
		// A refill that finished between our lookup and joining the flight
		// has already stored a fresh entry.
		if resp, ok := l.lookup(refillCtx, key); ok {
			return resp, nil
		}

		resp, err := l.next.Dispatch(refillCtx, config)
		if err != nil {
			return nil, err
		}

		entry := NewCacheEntry(key, resp.Clone(), l.now(), l.policy.TTL)

		err = l.store.Set(refillCtx, key, entry)
		if err != nil {
			l.logger.Warn("failed to store cache entry", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}

		return resp, nil
	})

	select {
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}

		resp, _ := result.Val.(*Response)

		return resp.Clone(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for cache refill: %w", ctx.Err())
	}
}

func (l *cacheLayer) lookup(ctx context.Context, key string) (*Response, bool) {
	entry, err := l.store.Get(ctx, key)
	if err != nil || entry == nil || entry.Expired(l.now()) {
		return nil, false
	}

	l.metrics.CacheHit()
	l.logger.Debug("cache hit", map[string]interface{}{
		"key": key,
	})

	return entry.Response.Clone(), true
}
