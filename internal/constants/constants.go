package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration files.
	ConfigFilePerm = 0600
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout bounds a single dispatch attempt when nothing else does.
	DefaultHTTPTimeout = 30 * time.Second
)

// Request defaults.
const (
	// DefaultMethod is used when neither the call nor the globals name one.
	DefaultMethod = "GET"

	// DefaultUserAgent is sent by the HTTP adapter.
	DefaultUserAgent = "reqflow/1"

	// DefaultIdempotencyHeader carries idempotency keys to servers that honour them.
	DefaultIdempotencyHeader = "Idempotency-Key"

	// MaxResponseBodySize caps how much of a response body the HTTP adapter reads.
	MaxResponseBodySize = 10 * 1024 * 1024
)

// Retry limits.
const (
	// DefaultRetryMax is the default attempt ceiling, first try included.
	DefaultRetryMax = 3

	// DefaultRetryDelay is the base delay between attempts.
	DefaultRetryDelay = 200 * time.Millisecond

	// DefaultRetryMultiplier grows the delay between backoff attempts.
	DefaultRetryMultiplier = 2.0

	// DefaultRetryWaitMax is the maximum wait time between retries.
	DefaultRetryWaitMax = 10 * time.Second

	// MaxBackoffExponent keeps backoff math from overflowing.
	MaxBackoffExponent = 30
)

// Circuit breaker defaults.
const (
	// CircuitBreakerThreshold is the number of consecutive failures that opens the circuit.
	CircuitBreakerThreshold = 5

	// CircuitBreakerTimeout is how long an open circuit rejects requests.
	CircuitBreakerTimeout = 30 * time.Second

	// CircuitBreakerSuccessThreshold is the number of half-open successes that closes it again.
	CircuitBreakerSuccessThreshold = 2
)

// Cache and idempotency limits.
const (
	// DefaultCacheSize is the default number of entries held by the memory cache.
	DefaultCacheSize = 1000

	// DefaultCacheCleanupInterval is how often expired idempotency records are swept.
	DefaultCacheCleanupInterval = time.Minute

	// DefaultIdempotencyTTL is the replay window used when a policy names none.
	DefaultIdempotencyTTL = 5 * time.Minute

	// DefaultRedisKeyPrefix namespaces keys written by the Redis cache.
	DefaultRedisKeyPrefix = "reqflow:"

	// DefaultNATSBucket is the KV bucket used by the NATS cache.
	DefaultNATSBucket = "reqflow-cache"
)

// Concurrency and batching limits.
const (
	// DefaultConcurrencyLimit limits concurrent operations in a parallel batch.
	// Zero means unbounded.
	DefaultConcurrencyLimit = 0
)

// HTTP status codes commonly used.
const (
	// HTTPStatusBadRequest is the first status code treated as a failure.
	HTTPStatusBadRequest = 400

	// HTTPStatusInternalServerError represents server errors.
	HTTPStatusInternalServerError = 500
)

// Format constants.
const (
	// FormatJSON for JSON output format.
	FormatJSON = "json"

	// FormatYAML for YAML output format.
	FormatYAML = "yaml"

	// FormatTable for table output format.
	FormatTable = "table"
)

// Cache backend names.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNATS   = "nats"
	CacheBackendNone   = "none"
)

// UI and display constants.
const (
	// NotAvailable is used when information is not available.
	NotAvailable = "N/A"

	// StringTruncationLimit is used when truncating strings.
	StringTruncationLimit = 60
)
