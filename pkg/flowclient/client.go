package flowclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	reqhttp "github.com/fivetwenty-io/reqflow/internal/http"
	"github.com/fivetwenty-io/reqflow/internal/logging"
	"github.com/fivetwenty-io/reqflow/pkg/reqflow"
)

// Static errors for err113 compliance.
var (
	ErrConfigRequired     = errors.New("configuration is required")
	ErrCacheUnreachable   = errors.New("cache backend unreachable")
	ErrInvalidRetryConfig = errors.New("invalid retry strategy")
)

// cacheProbeKey is read once at start-up to check the cache backend answers.
const cacheProbeKey = "reqflow:probe"

type options struct {
	logger  reqflow.Logger
	metrics reqflow.Metrics
	adapter reqflow.Adapter
	cache   reqflow.Cache
}

// Option customises New.
type Option func(*options)

// WithLogger replaces the zap logger built from the configuration.
func WithLogger(logger reqflow.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics installs a metrics sink.
func WithMetrics(metrics reqflow.Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithAdapter replaces the HTTP adapter.
func WithAdapter(adapter reqflow.Adapter) Option {
	return func(o *options) {
		o.adapter = adapter
	}
}

// WithCache replaces the cache backend built from the configuration.
func WithCache(cache reqflow.Cache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// New creates a reqflow client wired to the HTTP adapter, the configured
// cache backend, zap logging, and the global retry and hook settings.
func New(ctx context.Context, config *Config, opts ...Option) (*reqflow.Client, error) {
	o, global, err := build(ctx, config, opts)
	if err != nil {
		return nil, err
	}

	clientOpts := []reqflow.ClientOption{
		reqflow.WithAdapter(o.adapter),
		reqflow.WithCache(o.cache),
		reqflow.WithLogger(o.logger),
		reqflow.WithGlobalConfig(global),
	}

	if o.metrics != nil {
		clientOpts = append(clientOpts, reqflow.WithMetrics(o.metrics))
	}

	return reqflow.NewClient(clientOpts...), nil
}

func build(ctx context.Context, config *Config, opts []Option) (*options, reqflow.GlobalConfig, error) {
	if config == nil {
		return nil, reqflow.GlobalConfig{}, ErrConfigRequired
	}

	resolved := *config
	resolved.BaseURL = normalizeBaseURL(resolved.BaseURL)

	if s := resolved.Retry.Strategy; s != "" && s != string(reqflow.DelayFixed) && s != string(reqflow.DelayBackoff) {
		return nil, reqflow.GlobalConfig{}, fmt.Errorf("%w: %s", ErrInvalidRetryConfig, s)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		level := resolved.LogLevel
		if resolved.Debug {
			level = "debug"
		}

		o.logger = logging.NewZapLogger(logging.Config{Level: level, Format: resolved.LogFormat, Name: "reqflow"})
	}

	if o.adapter == nil {
		o.adapter = newHTTPAdapter(&resolved, o.logger)
	}

	if o.cache == nil {
		cache, err := reqflow.NewCacheFromConfig(resolved.CacheBackendConfig())
		if err != nil {
			return nil, reqflow.GlobalConfig{}, fmt.Errorf("failed to create cache: %w", err)
		}

		err = probeCache(ctx, cache)
		if err != nil {
			return nil, reqflow.GlobalConfig{}, err
		}

		o.cache = cache
	}

	return o, globalConfig(&resolved, o.logger), nil
}

// NewWithBaseURL creates a client with default settings for baseURL.
func NewWithBaseURL(ctx context.Context, baseURL string, opts ...Option) (*reqflow.Client, error) {
	config := DefaultConfig()
	config.BaseURL = baseURL

	return New(ctx, config, opts...)
}

// NewWithToken creates a client that sends token as a bearer credential.
func NewWithToken(ctx context.Context, baseURL, token string, opts ...Option) (*reqflow.Client, error) {
	config := DefaultConfig()
	config.BaseURL = baseURL
	config.Token = token

	return New(ctx, config, opts...)
}

// UseDefault installs config on the package-level reqflow client. Logger
// and metrics options only apply to clients built with New.
func UseDefault(ctx context.Context, config *Config, opts ...Option) error {
	o, global, err := build(ctx, config, opts)
	if err != nil {
		return err
	}

	reqflow.ResetConfig()
	reqflow.SetDefaultAdapter(o.adapter)
	reqflow.SetDefaultCache(o.cache)
	reqflow.Configure(global)

	return nil
}

func newHTTPAdapter(config *Config, logger reqflow.Logger) *reqhttp.Client {
	httpOpts := []reqhttp.Option{
		reqhttp.WithLogger(logger),
		reqhttp.WithDebug(config.Debug),
		reqhttp.WithUserAgent(config.UserAgent),
		reqhttp.WithDefaultHeaders(config.Headers),
	}

	if config.Timeout > 0 {
		httpOpts = append(httpOpts, reqhttp.WithTimeout(config.Timeout))
	}

	if config.Retry.TransportRetries > 0 {
		httpOpts = append(httpOpts, reqhttp.WithRetryConfig(config.Retry.TransportRetries, config.Retry.Delay, config.Retry.MaxDelay))
	}

	return reqhttp.NewClient(config.BaseURL, httpOpts...)
}

func globalConfig(config *Config, logger reqflow.Logger) reqflow.GlobalConfig {
	global := reqflow.GlobalConfig{
		BaseURL: config.BaseURL,
		Timeout: config.Timeout,
		Headers: make(http.Header, len(config.Headers)+1),
		Retry:   config.RetryPolicy(),
	}

	// Carried globally as well as by the HTTP adapter so that a custom
	// adapter sees the same base URL and headers.
	for key, value := range config.Headers {
		global.Headers.Set(key, value)
	}

	if config.UserAgent != "" {
		global.Headers.Set("User-Agent", config.UserAgent)
	}

	var before []reqflow.BeforeHook

	if config.Token != "" {
		token := config.Token
		before = append(before, reqflow.AuthenticationHook(func(context.Context) (string, error) {
			return token, nil
		}))
	}

	if config.RateLimit.RequestsPerSecond > 0 {
		burst := max(config.RateLimit.Burst, 1)
		before = append(before, reqflow.RateLimitHook(rate.NewLimiter(rate.Limit(config.RateLimit.RequestsPerSecond), burst)))
	}

	if len(before) > 0 {
		global.Hooks.OnBefore = reqflow.ChainBefore(before...)
	}

	if config.CircuitBreaker.Threshold > 0 {
		breaker := reqflow.NewCircuitBreaker(&reqflow.CircuitBreakerConfig{
			Threshold:        config.CircuitBreaker.Threshold,
			Timeout:          config.CircuitBreaker.Timeout,
			SuccessThreshold: max(config.CircuitBreaker.SuccessThreshold, 1),
		})
		global.Hooks = reqflow.ChainHooks(global.Hooks, reqflow.CircuitBreakerHooks(breaker))
	}

	if config.Debug {
		global.Hooks = reqflow.ChainHooks(global.Hooks, reqflow.LoggingHooks(logger))
	}

	return global
}

// probeCache fails when a remote backend cannot be read.
func probeCache(ctx context.Context, cache reqflow.Cache) error {
	if _, ok := cache.(*reqflow.MemoryCache); ok {
		return nil
	}

	_, err := cache.Get(ctx, cacheProbeKey)
	if err == nil || reqflow.IsCacheMiss(err) {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrCacheUnreachable, err)
}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return ""
	}

	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}

	return baseURL
}
