package flowclient_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/reqflow/internal/logging"
	"github.com/fivetwenty-io/reqflow/pkg/flowclient"
	"github.com/fivetwenty-io/reqflow/pkg/reqflow"
)

func quietConfig(baseURL string) *flowclient.Config {
	config := flowclient.DefaultConfig()
	config.BaseURL = baseURL
	config.LogLevel = "error"

	return config
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("requires configuration", func(t *testing.T) {
		t.Parallel()

		client, err := flowclient.New(t.Context(), nil)
		require.ErrorIs(t, err, flowclient.ErrConfigRequired)
		assert.Nil(t, client)
	})

	t.Run("rejects unknown retry strategy", func(t *testing.T) {
		t.Parallel()

		config := quietConfig("https://api.example.com")
		config.Retry.Strategy = "linear"

		_, err := flowclient.New(t.Context(), config)
		require.ErrorIs(t, err, flowclient.ErrInvalidRetryConfig)
	})

	t.Run("rejects unknown cache backend", func(t *testing.T) {
		t.Parallel()

		config := quietConfig("https://api.example.com")
		config.Cache.Backend = "memcached"

		_, err := flowclient.New(t.Context(), config)
		require.ErrorIs(t, err, reqflow.ErrUnsupportedCacheType)
	})

	t.Run("trims trailing slash from base URL", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, "/v1/items", request.URL.Path)
			writer.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client, err := flowclient.NewWithBaseURL(t.Context(), server.URL+"/", flowclient.WithLogger(logging.NewNopLogger()))
		require.NoError(t, err)
		assert.Equal(t, 3, client.GlobalConfig().Retry.MaxAttempts)

		_, err = client.NewRequest("GET", "/v1/items").Send(t.Context())
		require.NoError(t, err)
	})
}

func TestNewWithToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "/v1/me", request.URL.Path)
		assert.Equal(t, "Bearer test-token", request.Header.Get("Authorization"))
		assert.Equal(t, "reqflow/1", request.Header.Get("User-Agent"))

		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"name":"ada"}`))
	}))
	defer server.Close()

	client, err := flowclient.NewWithToken(t.Context(), server.URL, "test-token", flowclient.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)

	resp, err := client.NewRequest("GET", "/v1/me").Send(t.Context())
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "ada"}, resp.Data)
}

func TestNew_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if attempts.Add(1) < 2 {
			writer.WriteHeader(http.StatusBadGateway)

			return
		}

		writer.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := quietConfig(server.URL)
	config.Retry.Delay = time.Millisecond
	config.Retry.MaxDelay = 5 * time.Millisecond

	client, err := flowclient.New(t.Context(), config)
	require.NoError(t, err)

	resp, err := client.NewRequest("GET", "/").Send(t.Context())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestNew_RedisCache(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		hits.Add(1)
		_, _ = writer.Write([]byte("payload"))
	}))
	defer server.Close()

	config := quietConfig(server.URL)
	config.Cache.Backend = "redis"
	config.Cache.Redis.Address = mr.Addr()

	client, err := flowclient.New(t.Context(), config)
	require.NoError(t, err)

	for range 3 {
		resp, err := client.NewRequest("GET", "/cached", reqflow.WithCachePolicy(reqflow.CachePolicy{Key: "cached"})).Send(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "payload", resp.Data)
	}

	assert.Equal(t, int32(1), hits.Load())
	assert.True(t, mr.Exists("reqflow:cached"))
}

func TestNew_LocalCacheLayer(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	config := quietConfig("https://api.example.com")
	config.Cache.Backend = "redis"
	config.Cache.Redis.Address = mr.Addr()
	config.Cache.LocalSize = 100

	var calls atomic.Int32

	client, err := flowclient.New(t.Context(), config,
		flowclient.WithAdapter(reqflow.AdapterFunc(func(_ context.Context, _ *reqflow.RequestConfig) (*reqflow.Response, error) {
			calls.Add(1)

			return &reqflow.Response{StatusCode: http.StatusOK, Data: "fresh"}, nil
		})),
	)
	require.NoError(t, err)
	require.IsType(t, &reqflow.CacheChain{}, client.Cache())

	send := func() {
		resp, err := client.NewRequest("GET", "/catalog", reqflow.WithCachePolicy(reqflow.CachePolicy{Key: "catalog"})).Send(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "fresh", resp.Data)
	}

	send()
	assert.True(t, mr.Exists("reqflow:catalog"))

	// Redis losing the entry does not cost a dispatch while the local copy lives
	mr.FlushAll()
	send()
	assert.Equal(t, int32(1), calls.Load())
}

func TestNew_UnreachableRedis(t *testing.T) {
	t.Parallel()

	for _, localSize := range []int{0, 100} {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		config := quietConfig("https://api.example.com")
		config.Cache.Backend = "redis"
		config.Cache.Redis.Address = addr
		config.Cache.LocalSize = localSize

		_, err := flowclient.New(t.Context(), config)
		require.ErrorIs(t, err, flowclient.ErrCacheUnreachable, "local_size %d", localSize)
	}
}

func TestNew_DebugLogging(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var buf bytes.Buffer

	config := quietConfig(server.URL)
	config.Debug = true

	logger := logging.NewZapLogger(logging.Config{Level: "debug", Format: "json", Output: &buf})

	client, err := flowclient.New(t.Context(), config, flowclient.WithLogger(logger))
	require.NoError(t, err)

	_, err = client.NewRequest("GET", "/debug").Send(t.Context())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "API Request")
	assert.Contains(t, buf.String(), "HTTP Response")
}

func TestNew_Metrics(t *testing.T) {
	t.Parallel()

	stats := reqflow.NewStatsCollector()

	client, err := flowclient.New(t.Context(), quietConfig("https://api.example.com"),
		flowclient.WithMetrics(stats),
		flowclient.WithAdapter(reqflow.AdapterFunc(func(_ context.Context, _ *reqflow.RequestConfig) (*reqflow.Response, error) {
			return &reqflow.Response{StatusCode: http.StatusOK}, nil
		})),
	)
	require.NoError(t, err)

	_, err = client.NewRequest("GET", "/v1/items").Send(t.Context())
	require.NoError(t, err)

	endpoint := stats.GetMetrics("GET api.example.com/v1/items")
	require.NotNil(t, endpoint)
	assert.Equal(t, int64(1), endpoint.TotalRequests)
}

func TestNew_CustomAdapterKeepsBaseURLAndHeaders(t *testing.T) {
	t.Parallel()

	config := quietConfig("api.example.com/")
	config.Headers = map[string]string{"x-tenant": "blue"}
	config.UserAgent = "reqflow-test/1.0"

	var seen *reqflow.RequestConfig

	client, err := flowclient.New(t.Context(), config,
		flowclient.WithAdapter(reqflow.AdapterFunc(func(_ context.Context, request *reqflow.RequestConfig) (*reqflow.Response, error) {
			seen = request

			return &reqflow.Response{StatusCode: http.StatusOK}, nil
		})),
	)
	require.NoError(t, err)

	_, err = client.NewRequest("GET", "/v1/items").Send(t.Context())
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.Equal(t, "https://api.example.com/v1/items", seen.URL)
	assert.Equal(t, "blue", seen.Headers.Get("X-Tenant"))
	assert.Equal(t, "reqflow-test/1.0", seen.Headers.Get("User-Agent"))
	assert.Equal(t, "https://api.example.com", client.GlobalConfig().BaseURL)
}

func TestNew_CacheOverride(t *testing.T) {
	t.Parallel()

	config := quietConfig("https://api.example.com")
	config.Cache.Backend = "redis" // ignored: no backend is built

	cache := reqflow.NewMemoryCache(10)

	client, err := flowclient.New(t.Context(), config, flowclient.WithCache(cache))
	require.NoError(t, err)
	assert.Same(t, cache, client.Cache())
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		config, err := flowclient.LoadConfig(viper.New())
		require.NoError(t, err)
		assert.Equal(t, flowclient.DefaultConfig(), config)
	})

	t.Run("yaml overrides", func(t *testing.T) {
		t.Parallel()

		v := viper.New()
		v.SetConfigType("yaml")

		err := v.ReadConfig(bytes.NewBufferString(`
base_url: https://api.example.com
timeout: 5s
headers:
  X-Tenant: blue
retry:
  max_attempts: 5
  strategy: fixed
  delay: 50ms
  jitter: 0.25
cache:
  backend: redis
  redis:
    address: localhost:6379
rate_limit:
  requests_per_second: 2.5
  burst: 3
`))
		require.NoError(t, err)

		config, err := flowclient.LoadConfig(v)
		require.NoError(t, err)

		assert.Equal(t, "https://api.example.com", config.BaseURL)
		assert.Equal(t, 5*time.Second, config.Timeout)
		assert.Equal(t, "blue", config.Headers["x-tenant"])
		assert.Equal(t, 5, config.Retry.MaxAttempts)
		assert.Equal(t, "fixed", config.Retry.Strategy)
		assert.Equal(t, 50*time.Millisecond, config.Retry.Delay)
		assert.InDelta(t, 0.25, config.Retry.Jitter, 0.0001)
		assert.Equal(t, "redis", config.Cache.Backend)
		assert.Equal(t, "reqflow:", config.Cache.Redis.KeyPrefix)
		assert.InDelta(t, 2.5, config.RateLimit.RequestsPerSecond, 0.001)
		assert.Equal(t, 3, config.RateLimit.Burst)
	})
}

func TestConfig_RetryPolicy(t *testing.T) {
	t.Parallel()

	config := flowclient.DefaultConfig()
	config.Retry.MaxAttempts = 1
	assert.Nil(t, config.RetryPolicy())

	config.Retry.MaxAttempts = 4
	config.Retry.Strategy = "fixed"
	config.Retry.Delay = time.Second
	config.Retry.Jitter = 0.2

	policy := config.RetryPolicy()
	require.NotNil(t, policy)
	assert.Equal(t, 4, policy.MaxAttempts)
	assert.Equal(t, reqflow.DelayFixed, policy.Strategy)
	assert.Equal(t, time.Second, policy.Delay)
	assert.InDelta(t, 0.2, policy.Jitter, 0.0001)
}

func TestConfig_CacheBackendConfig(t *testing.T) {
	t.Parallel()

	config := flowclient.DefaultConfig()
	config.Cache.Backend = "nats"
	config.Cache.NATS.URL = "nats://localhost:4222"
	config.Cache.TTL = time.Minute

	backend := config.CacheBackendConfig()
	assert.Equal(t, reqflow.CacheTypeNATS, backend.Type)
	require.NotNil(t, backend.NATS)
	assert.Equal(t, "reqflow-cache", backend.NATS.Bucket)
	assert.Equal(t, time.Minute, backend.NATS.TTL)
	assert.Nil(t, backend.Redis)
}

//nolint:paralleltest // mutates the package-level client
func TestUseDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "Bearer default-token", request.Header.Get("Authorization"))
		writer.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	t.Cleanup(func() {
		reqflow.ResetConfig()
		reqflow.ResetAdapters()
	})

	config := quietConfig(server.URL)
	config.Token = "default-token"

	require.NoError(t, flowclient.UseDefault(t.Context(), config))

	resp, err := reqflow.NewRequest("POST", "/jobs").Send(t.Context())
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestNew_CircuitBreaker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	config := quietConfig("https://api.example.com")
	config.Retry.MaxAttempts = 1
	config.CircuitBreaker.Threshold = 1

	client, err := flowclient.New(t.Context(), config,
		flowclient.WithAdapter(reqflow.AdapterFunc(func(_ context.Context, _ *reqflow.RequestConfig) (*reqflow.Response, error) {
			calls.Add(1)

			return nil, &reqflow.TransportError{StatusCode: http.StatusBadGateway, Err: reqflow.ErrUnexpectedStatus}
		})),
	)
	require.NoError(t, err)

	_, err = client.NewRequest("GET", "/flaky").Send(t.Context())
	require.ErrorIs(t, err, reqflow.ErrUnexpectedStatus)

	_, err = client.NewRequest("GET", "/flaky").Send(t.Context())
	require.ErrorIs(t, err, reqflow.ErrCircuitOpen)
	assert.Equal(t, int32(1), calls.Load())
}
