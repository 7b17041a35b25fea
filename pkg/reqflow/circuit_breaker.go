package reqflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fivetwenty-io/reqflow/internal/constants"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	Threshold        int           // consecutive failures before opening
	Timeout          time.Duration // time an open circuit waits before probing
	SuccessThreshold int           // half-open successes needed to close
}

// DefaultCircuitBreakerConfig returns the default breaker settings.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Threshold:        constants.CircuitBreakerThreshold,
		Timeout:          constants.CircuitBreakerTimeout,
		SuccessThreshold: constants.CircuitBreakerSuccessThreshold,
	}
}

// CircuitBreaker stops sending requests to a failing service for a while.
type CircuitBreaker struct {
	config *CircuitBreakerConfig
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker creates a closed circuit breaker. A nil config uses
// DefaultCircuitBreakerConfig.
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}

	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// State returns the current state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Allow reports whether a request may proceed, moving an expired open
// circuit to half-open.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != CircuitOpen {
		return nil
	}

	if b.now().Sub(b.lastFailure) < b.config.Timeout {
		return ErrCircuitOpen
	}

	b.state = CircuitHalfOpen
	b.successes = 0

	return nil
}

// RecordSuccess notes a successful request.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = CircuitClosed
			b.failures = 0
		}
	case CircuitClosed:
		b.failures = 0
	case CircuitOpen:
	}
}

// RecordFailure notes a failed request.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.state == CircuitHalfOpen || b.failures >= b.config.Threshold {
		b.state = CircuitOpen
	}
}

// CircuitBreakerHooks rejects requests while breaker is open and feeds it
// the outcome of every request. Responses below 500 count as successes and
// configuration errors are ignored.
func CircuitBreakerHooks(breaker *CircuitBreaker) Hooks {
	return Hooks{
		OnBefore: func(context.Context, *RequestConfig) (*RequestConfig, error) {
			return nil, breaker.Allow()
		},
		OnSuccess: func(context.Context, *Response) error {
			breaker.RecordSuccess()

			return nil
		},
		OnError: func(_ context.Context, err error) error {
			var configErr *ConfigError
			if errors.Is(err, ErrCircuitOpen) || errors.As(err, &configErr) {
				return nil
			}

			var transportErr *TransportError
			if errors.As(err, &transportErr) && transportErr.StatusCode > 0 &&
				transportErr.StatusCode < constants.HTTPStatusInternalServerError {
				breaker.RecordSuccess()

				return nil
			}

			breaker.RecordFailure()

			return nil
		},
	}
}
