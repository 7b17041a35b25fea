package flowclient

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/fivetwenty-io/reqflow/internal/constants"
	"github.com/fivetwenty-io/reqflow/pkg/reqflow"
)

// Config describes a fully wired client. It is usually loaded from
// ~/.reqflow/config.yml and REQFLOW_* environment variables.
type Config struct {
	BaseURL   string            `json:"base_url"   mapstructure:"base_url"   yaml:"base_url"`
	Token     string            `json:"-"          mapstructure:"token"      yaml:"token,omitempty"`
	Timeout   time.Duration     `json:"timeout"    mapstructure:"timeout"    yaml:"timeout"`
	UserAgent string            `json:"user_agent" mapstructure:"user_agent" yaml:"user_agent"`
	Headers   map[string]string `json:"headers"    mapstructure:"headers"    yaml:"headers,omitempty"`

	Debug     bool   `json:"debug"      mapstructure:"debug"      yaml:"debug"`
	LogLevel  string `json:"log_level"  mapstructure:"log_level"  yaml:"log_level"`
	LogFormat string `json:"log_format" mapstructure:"log_format" yaml:"log_format"`

	Retry     RetryConfig     `json:"retry"      mapstructure:"retry"      yaml:"retry"`
	Cache     CacheConfig     `json:"cache"      mapstructure:"cache"      yaml:"cache"`
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit" yaml:"rate_limit"`

	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
}

// RetryConfig configures the global retry policy.
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts" yaml:"max_attempts"`
	Strategy    string        `json:"strategy"     mapstructure:"strategy"     yaml:"strategy"`
	Delay       time.Duration `json:"delay"        mapstructure:"delay"        yaml:"delay"`
	MaxDelay    time.Duration `json:"max_delay"    mapstructure:"max_delay"    yaml:"max_delay"`
	// Jitter adds up to this fraction of each delay at random, in [0, 1].
	Jitter float64 `json:"jitter" mapstructure:"jitter" yaml:"jitter"`
	// TransportRetries enables retries inside the HTTP adapter, below the
	// hook pipeline. Zero leaves retrying to the policy above.
	TransportRetries int `json:"transport_retries" mapstructure:"transport_retries" yaml:"transport_retries"`
}

// CacheConfig selects and configures the response cache backend.
type CacheConfig struct {
	Backend string        `json:"backend"  mapstructure:"backend"  yaml:"backend"`
	MaxSize int           `json:"max_size" mapstructure:"max_size" yaml:"max_size"`
	TTL     time.Duration `json:"ttl"      mapstructure:"ttl"      yaml:"ttl"`
	// LocalSize, when positive, keeps an in-process LRU of this many entries
	// in front of a redis or nats backend.
	LocalSize int `json:"local_size" mapstructure:"local_size" yaml:"local_size"`

	Redis RedisConfig `json:"redis" mapstructure:"redis" yaml:"redis"`
	NATS  NATSConfig  `json:"nats"  mapstructure:"nats"  yaml:"nats"`
}

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Address   string `json:"address"    mapstructure:"address"    yaml:"address"`
	Password  string `json:"-"          mapstructure:"password"   yaml:"password,omitempty"`
	DB        int    `json:"db"         mapstructure:"db"         yaml:"db"`
	KeyPrefix string `json:"key_prefix" mapstructure:"key_prefix" yaml:"key_prefix"`
}

// NATSConfig configures the NATS KV cache backend.
type NATSConfig struct {
	URL    string `json:"url"    mapstructure:"url"    yaml:"url"`
	Bucket string `json:"bucket" mapstructure:"bucket" yaml:"bucket"`
}

// RateLimitConfig throttles outgoing requests. A zero rate disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst"               mapstructure:"burst"               yaml:"burst"`
}

// CircuitBreakerConfig enables a client-wide circuit breaker. A zero
// threshold disables it.
type CircuitBreakerConfig struct {
	Threshold        int           `json:"threshold"         mapstructure:"threshold"         yaml:"threshold"`
	Timeout          time.Duration `json:"timeout"           mapstructure:"timeout"           yaml:"timeout"`
	SuccessThreshold int           `json:"success_threshold" mapstructure:"success_threshold" yaml:"success_threshold"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Timeout:   constants.DefaultHTTPTimeout,
		UserAgent: constants.DefaultUserAgent,
		LogLevel:  "info",
		LogFormat: "console",
		Retry: RetryConfig{
			MaxAttempts: constants.DefaultRetryMax,
			Strategy:    string(reqflow.DelayBackoff),
			Delay:       constants.DefaultRetryDelay,
			MaxDelay:    constants.DefaultRetryWaitMax,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Timeout:          constants.CircuitBreakerTimeout,
			SuccessThreshold: constants.CircuitBreakerSuccessThreshold,
		},
		Cache: CacheConfig{
			Backend: constants.CacheBackendMemory,
			MaxSize: constants.DefaultCacheSize,
			Redis: RedisConfig{
				KeyPrefix: constants.DefaultRedisKeyPrefix,
			},
			NATS: NATSConfig{
				Bucket: constants.DefaultNATSBucket,
			},
		},
	}
}

// SetDefaults registers DefaultConfig's values with v so that environment
// variables and config files only override what they name.
func SetDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	v.SetDefault("timeout", defaults.Timeout)
	v.SetDefault("user_agent", defaults.UserAgent)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("retry.max_attempts", defaults.Retry.MaxAttempts)
	v.SetDefault("retry.strategy", defaults.Retry.Strategy)
	v.SetDefault("retry.delay", defaults.Retry.Delay)
	v.SetDefault("retry.max_delay", defaults.Retry.MaxDelay)
	v.SetDefault("retry.jitter", defaults.Retry.Jitter)
	v.SetDefault("circuit_breaker.threshold", defaults.CircuitBreaker.Threshold)
	v.SetDefault("circuit_breaker.timeout", defaults.CircuitBreaker.Timeout)
	v.SetDefault("circuit_breaker.success_threshold", defaults.CircuitBreaker.SuccessThreshold)
	v.SetDefault("cache.backend", defaults.Cache.Backend)
	v.SetDefault("cache.max_size", defaults.Cache.MaxSize)
	v.SetDefault("cache.local_size", defaults.Cache.LocalSize)
	v.SetDefault("cache.redis.key_prefix", defaults.Cache.Redis.KeyPrefix)
	v.SetDefault("cache.nats.bucket", defaults.Cache.NATS.Bucket)
}

// LoadConfig reads a Config out of v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	config := DefaultConfig()

	err := v.Unmarshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	return config, nil
}

// RetryPolicy converts the retry settings into a policy. It returns nil
// when retrying is disabled.
func (c *Config) RetryPolicy() *reqflow.RetryPolicy {
	if c.Retry.MaxAttempts <= 1 {
		return nil
	}

	policy := reqflow.DefaultRetryPolicy()
	policy.MaxAttempts = c.Retry.MaxAttempts
	policy.Jitter = c.Retry.Jitter

	if c.Retry.Strategy != "" {
		policy.Strategy = reqflow.DelayStrategy(c.Retry.Strategy)
	}

	if c.Retry.Delay > 0 {
		policy.Delay = c.Retry.Delay
	}

	if c.Retry.MaxDelay > 0 {
		policy.MaxDelay = c.Retry.MaxDelay
	}

	return policy
}

// CacheBackendConfig converts the cache settings for reqflow.NewCacheFromConfig.
func (c *Config) CacheBackendConfig() *reqflow.CacheConfig {
	config := &reqflow.CacheConfig{
		Type:   reqflow.CacheType(c.Cache.Backend),
		Memory: &reqflow.MemoryCacheConfig{MaxSize: c.Cache.MaxSize},
	}

	if c.Cache.Redis.Address != "" {
		config.Redis = &reqflow.RedisCacheConfig{
			Address:   c.Cache.Redis.Address,
			Password:  c.Cache.Redis.Password,
			DB:        c.Cache.Redis.DB,
			KeyPrefix: c.Cache.Redis.KeyPrefix,
		}
	}

	if c.Cache.LocalSize > 0 {
		config.Local = &reqflow.MemoryCacheConfig{MaxSize: c.Cache.LocalSize}
	}

	if config.Type == reqflow.CacheTypeNATS {
		config.NATS = &reqflow.NATSKVConfig{
			URL:    c.Cache.NATS.URL,
			Bucket: c.Cache.NATS.Bucket,
			TTL:    c.Cache.TTL,
		}
	}

	return config
}
