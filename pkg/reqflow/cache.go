package reqflow

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fivetwenty-io/reqflow/internal/constants"
)

// Cache is a key/value store for responses. Implementations must be safe
// for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, key string, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Has(ctx context.Context, key string) bool
}

// CacheEntry is a stored response and its expiry.
type CacheEntry struct {
	Key       string    `json:"key"`
	Response  *Response `json:"response"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the entry is stale at now. An entry stops being
// fresh exactly at ExpiresAt.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// NewCacheEntry builds an entry for resp. A nil ttl never expires; a ttl of
// zero or less is already stale when created.
func NewCacheEntry(key string, resp *Response, now time.Time, ttl *time.Duration) *CacheEntry {
	expiresAt := MaxTime

	if ttl != nil {
		if *ttl <= 0 {
			expiresAt = now.Add(*ttl).Add(-time.Nanosecond)
		} else {
			expiresAt = now.Add(*ttl)
		}
	}

	return &CacheEntry{
		Key:       key,
		Response:  resp,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
}

type memoryNode struct {
	key   string
	entry *CacheEntry
}

// MemoryCache is an in-process LRU cache.
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	now     func() time.Time
}

// NewMemoryCache creates a memory cache holding at most maxSize entries.
// A non-positive maxSize uses the default size.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = constants.DefaultCacheSize
	}

	return &MemoryCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the entry for key, or ErrCacheMiss / ErrCacheEntryExpired.
func (c *MemoryCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}

	entry := element.Value.(*memoryNode).entry
	if entry.Expired(c.now()) {
		c.removeElement(element)

		return nil, fmt.Errorf("%w: %s", ErrCacheEntryExpired, key)
	}

	c.order.MoveToFront(element)

	return entry, nil
}

// Set stores entry under key, evicting the least recently used entry when full.
func (c *MemoryCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		element.Value = &memoryNode{key: key, entry: entry}
		c.order.MoveToFront(element)

		return nil
	}

	c.items[key] = c.order.PushFront(&memoryNode{key: key, entry: entry})

	for c.order.Len() > c.maxSize {
		c.removeElement(c.order.Back())
	}

	return nil
}

// Delete removes key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		c.removeElement(element)
	}

	return nil
}

// Clear removes every entry.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()

	return nil
}

// Has reports whether a fresh entry exists for key.
func (c *MemoryCache) Has(ctx context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return false
	}

	return !element.Value.(*memoryNode).entry.Expired(c.now())
}

// Len returns the number of stored entries, including stale ones not yet evicted.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

func (c *MemoryCache) removeElement(element *list.Element) {
	node := c.order.Remove(element).(*memoryNode)
	delete(c.items, node.key)
}
