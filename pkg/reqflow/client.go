package reqflow

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

type noopLogger struct{}

func (noopLogger) Debug(string, map[string]interface{}) {}
func (noopLogger) Info(string, map[string]interface{})  {}
func (noopLogger) Warn(string, map[string]interface{})  {}
func (noopLogger) Error(string, map[string]interface{}) {}

// Client owns the global configuration, the default adapter and cache, and
// the idempotency records shared by every request it creates.
type Client struct {
	globals globalStore

	mu          sync.RWMutex
	adapter     Adapter
	baseAdapter Adapter
	cache       Cache
	baseCache   Cache

	idempotency *IdempotencyStore
	flights     singleflight.Group

	logger  Logger
	metrics Metrics
	now     func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAdapter sets the default adapter. ResetAdapters restores it.
func WithAdapter(adapter Adapter) ClientOption {
	return func(c *Client) {
		c.baseAdapter = adapter
	}
}

// WithCache sets the default cache. ResetAdapters restores it.
func WithCache(cache Cache) ClientOption {
	return func(c *Client) {
		c.baseCache = cache
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// WithGlobalConfig applies an initial global configuration.
func WithGlobalConfig(config GlobalConfig) ClientOption {
	return func(c *Client) {
		c.globals.configure(config)
	}
}

// WithIdempotencyStore shares an idempotency store between clients.
func WithIdempotencyStore(store *IdempotencyStore) ClientOption {
	return func(c *Client) {
		c.idempotency = store
	}
}

// WithClock replaces the time source used for cache expiry, including the
// default memory cache's.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a client. Without WithCache it caches in memory.
func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		logger:  noopLogger{},
		metrics: noopMetrics{},
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.baseCache == nil {
		memory := NewMemoryCache(0)
		memory.now = client.now
		client.baseCache = memory
	}

	if client.idempotency == nil {
		client.idempotency = NewIdempotencyStore()
	}

	client.adapter = client.baseAdapter
	client.cache = client.baseCache

	return client
}

// Configure merges partial into the global configuration. Sends that have
// already resolved their configuration are not affected.
func (c *Client) Configure(partial GlobalConfig) {
	c.globals.configure(partial)
}

// ResetConfig clears the global configuration.
func (c *Client) ResetConfig() {
	c.globals.reset()
}

// GlobalConfig returns a copy of the global configuration.
func (c *Client) GlobalConfig() GlobalConfig {
	return c.globals.snapshot()
}

// SetDefaultAdapter replaces the adapter used by calls without an override.
func (c *Client) SetDefaultAdapter(adapter Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.adapter = adapter
}

// SetDefaultCache replaces the cache used by policies without a Store.
func (c *Client) SetDefaultCache(cache Cache) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = cache
}

// ResetAdapters restores the adapter and cache given at construction.
func (c *Client) ResetAdapters() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.adapter = c.baseAdapter
	c.cache = c.baseCache
}

// Cache returns the current default cache.
func (c *Client) Cache() Cache {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.cache
}

// Idempotency returns the client's idempotency store.
func (c *Client) Idempotency() *IdempotencyStore {
	return c.idempotency
}

// InvalidateCache removes the cached response for key from the default cache.
func (c *Client) InvalidateCache(ctx context.Context, key string) error {
	return c.Cache().Delete(ctx, key)
}

func (c *Client) defaultAdapter() Adapter {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.adapter
}

// gateway decorates adapter for config. From the outside in: cache,
// idempotency, retry, instrumentation.
func (c *Client) gateway(adapter Adapter, config *RequestConfig) Adapter {
	var gateway Adapter = &instrumentedAdapter{
		next:    adapter,
		logger:  c.logger,
		metrics: c.metrics,
	}

	gateway = &retryLayer{
		next:    gateway,
		policy:  config.Retry,
		logger:  c.logger,
		metrics: c.metrics,
	}

	if config.Idempotent != nil {
		gateway = &idempotencyLayer{
			next:    gateway,
			policy:  *config.Idempotent,
			store:   c.idempotency,
			logger:  c.logger,
			metrics: c.metrics,
		}
	}

	if config.Cache != nil {
		store := config.Cache.Store
		if store == nil {
			store = c.Cache()
		}

		gateway = &cacheLayer{
			next:    gateway,
			policy:  *config.Cache,
			store:   store,
			flights: &c.flights,
			now:     c.now,
			logger:  c.logger,
			metrics: c.metrics,
		}
	}

	return gateway
}

// CreateRequest binds config to a new request instance.
func (c *Client) CreateRequest(config RequestConfig) *RequestInstance {
	return &RequestInstance{
		client: c,
		config: config.Clone(),
		id:     newRequestID(),
	}
}

// NewRequest builds a request for method and url from options.
func (c *Client) NewRequest(method, url string, opts ...RequestOption) *RequestInstance {
	config := RequestConfig{Method: method, URL: url}
	for _, opt := range opts {
		opt(&config)
	}

	return c.CreateRequest(config)
}

//nolint:gochecknoglobals // process-wide default client behind the package-level functions
var (
	defaultClient     *Client
	defaultClientOnce sync.Once
)

// Default returns the process-wide client used by the package-level functions.
func Default() *Client {
	defaultClientOnce.Do(func() {
		defaultClient = NewClient()
	})

	return defaultClient
}

// Configure merges partial into the default client's global configuration.
func Configure(partial GlobalConfig) {
	Default().Configure(partial)
}

// ResetConfig clears the default client's global configuration.
func ResetConfig() {
	Default().ResetConfig()
}

// GetGlobalConfig returns a copy of the default client's global configuration.
func GetGlobalConfig() GlobalConfig {
	return Default().GlobalConfig()
}

// SetDefaultAdapter sets the default client's adapter.
func SetDefaultAdapter(adapter Adapter) {
	Default().SetDefaultAdapter(adapter)
}

// SetDefaultCache sets the default client's cache.
func SetDefaultCache(cache Cache) {
	Default().SetDefaultCache(cache)
}

// ResetAdapters restores the default client's adapter and cache.
func ResetAdapters() {
	Default().ResetAdapters()
}

// CreateRequest creates a request on the default client.
func CreateRequest(config RequestConfig) *RequestInstance {
	return Default().CreateRequest(config)
}

// NewRequest creates a request on the default client.
func NewRequest(method, url string, opts ...RequestOption) *RequestInstance {
	return Default().NewRequest(method, url, opts...)
}
