package reqflow_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/reqflow/pkg/reqflow"
)

func TestCircuitBreaker_StateMachine(t *testing.T) {
	t.Parallel()

	breaker := reqflow.NewCircuitBreaker(&reqflow.CircuitBreakerConfig{
		Threshold:        2,
		Timeout:          20 * time.Millisecond,
		SuccessThreshold: 2,
	})
	assert.Equal(t, reqflow.CircuitClosed, breaker.State())

	breaker.RecordFailure()
	require.NoError(t, breaker.Allow())

	breaker.RecordFailure()
	assert.Equal(t, reqflow.CircuitOpen, breaker.State())
	require.ErrorIs(t, breaker.Allow(), reqflow.ErrCircuitOpen)

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, breaker.Allow())
	assert.Equal(t, reqflow.CircuitHalfOpen, breaker.State())

	breaker.RecordSuccess()
	assert.Equal(t, reqflow.CircuitHalfOpen, breaker.State())

	breaker.RecordSuccess()
	assert.Equal(t, reqflow.CircuitClosed, breaker.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	breaker := reqflow.NewCircuitBreaker(&reqflow.CircuitBreakerConfig{Threshold: 1, Timeout: 10 * time.Millisecond, SuccessThreshold: 1})

	breaker.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, breaker.Allow())

	breaker.RecordFailure()
	assert.Equal(t, reqflow.CircuitOpen, breaker.State())
}

func TestCircuitBreakerHooks(t *testing.T) {
	t.Parallel()

	var (
		calls  atomic.Int32
		status atomic.Int32
	)

	status.Store(http.StatusServiceUnavailable)

	adapter := reqflow.AdapterFunc(func(_ context.Context, config *reqflow.RequestConfig) (*reqflow.Response, error) {
		calls.Add(1)

		code := int(status.Load())
		if code >= http.StatusBadRequest {
			return nil, &reqflow.TransportError{Method: config.Method, URL: config.URL, StatusCode: code, Err: reqflow.ErrUnexpectedStatus}
		}

		return &reqflow.Response{StatusCode: code}, nil
	})

	breaker := reqflow.NewCircuitBreaker(&reqflow.CircuitBreakerConfig{Threshold: 2, Timeout: time.Hour, SuccessThreshold: 1})
	client := reqflow.NewClient(reqflow.WithAdapter(adapter))
	client.Configure(reqflow.GlobalConfig{BaseURL: "https://api.example.com", Hooks: reqflow.CircuitBreakerHooks(breaker)})

	for range 2 {
		_, err := client.NewRequest("GET", "/down").Send(t.Context())
		require.ErrorIs(t, err, reqflow.ErrUnexpectedStatus)
	}

	assert.Equal(t, reqflow.CircuitOpen, breaker.State())

	_, err := client.NewRequest("GET", "/down").Send(t.Context())
	require.ErrorIs(t, err, reqflow.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())

	t.Run("client errors do not count as failures", func(t *testing.T) {
		t.Parallel()

		other := reqflow.NewCircuitBreaker(&reqflow.CircuitBreakerConfig{Threshold: 1, Timeout: time.Hour, SuccessThreshold: 1})
		notFound := reqflow.AdapterFunc(func(_ context.Context, config *reqflow.RequestConfig) (*reqflow.Response, error) {
			return nil, &reqflow.TransportError{StatusCode: http.StatusNotFound, Err: reqflow.ErrUnexpectedStatus}
		})

		c := reqflow.NewClient(reqflow.WithAdapter(notFound))

		_, err := c.NewRequest("GET", "https://api.example.com/missing", reqflow.WithHooks(reqflow.CircuitBreakerHooks(other))).Send(t.Context())
		require.Error(t, err)
		assert.Equal(t, reqflow.CircuitClosed, other.State())
	})
}
