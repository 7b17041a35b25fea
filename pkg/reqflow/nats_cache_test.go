package reqflow_test

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/reqflow/pkg/reqflow"
)

var validNATSKey = regexp.MustCompile(`^[-/_=\.a-zA-Z0-9]+$`)

type fakeKVEntry struct {
	nats.KeyValueEntry
	key   string
	value []byte
}

func (e *fakeKVEntry) Key() string   { return e.key }
func (e *fakeKVEntry) Value() []byte { return e.value }

// fakeKV is an in-memory stand-in for a JetStream KV bucket.
type fakeKV struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: make(map[string][]byte)}
}

func (kv *fakeKV) Get(key string) (nats.KeyValueEntry, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	value, ok := kv.values[key]
	if !ok {
		return nil, nats.ErrKeyNotFound
	}

	return &fakeKVEntry{key: key, value: value}, nil
}

func (kv *fakeKV) Put(key string, value []byte) (uint64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if !validNATSKey.MatchString(key) {
		return 0, nats.ErrInvalidKey
	}

	kv.values[key] = value

	return uint64(len(kv.values)), nil
}

func (kv *fakeKV) Delete(key string, opts ...nats.DeleteOpt) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	delete(kv.values, key)

	return nil
}

func (kv *fakeKV) Keys(opts ...nats.WatchOpt) ([]string, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if len(kv.values) == 0 {
		return nil, nats.ErrNoKeysFound
	}

	keys := make([]string, 0, len(kv.values))
	for key := range kv.values {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys, nil
}

func TestNATSKVCache_SetAndGet(t *testing.T) {
	t.Parallel()

	kv := newFakeKV()
	cache := reqflow.NewNATSKVCacheFromStore(kv)
	ctx := context.Background()

	// fingerprints and user keys may contain characters KV keys reject
	key := "GET https://example.com/a?b=c"

	err := cache.Set(ctx, key, freshEntry("nats data"))
	require.NoError(t, err)

	retrieved, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("nats data"), retrieved.Response.Body)
	assert.True(t, cache.Has(ctx, key))
}

func TestNATSKVCache_MissAndExpiry(t *testing.T) {
	t.Parallel()

	kv := newFakeKV()
	cache := reqflow.NewNATSKVCacheFromStore(kv)
	ctx := context.Background()

	_, err := cache.Get(ctx, "missing")
	require.ErrorIs(t, err, reqflow.ErrCacheMiss)

	stale := reqflow.NewCacheEntry("old", ok("x"), time.Now(), reqflow.Duration(0))
	require.NoError(t, cache.Set(ctx, "old", stale))

	_, err = cache.Get(ctx, "old")
	require.ErrorIs(t, err, reqflow.ErrCacheEntryExpired)

	// expired entries are removed on read
	_, err = cache.Get(ctx, "old")
	require.ErrorIs(t, err, reqflow.ErrCacheMiss)
}

func TestNATSKVCache_DeleteAndClear(t *testing.T) {
	t.Parallel()

	kv := newFakeKV()
	cache := reqflow.NewNATSKVCacheFromStore(kv)
	ctx := context.Background()

	require.NoError(t, cache.Clear(ctx))

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, cache.Set(ctx, key, freshEntry(key)))
	}

	require.NoError(t, cache.Delete(ctx, "a"))
	assert.False(t, cache.Has(ctx, "a"))
	assert.True(t, cache.Has(ctx, "b"))

	require.NoError(t, cache.Clear(ctx))
	assert.False(t, cache.Has(ctx, "b"))
	assert.False(t, cache.Has(ctx, "c"))
}
