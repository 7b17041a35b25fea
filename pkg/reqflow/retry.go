package reqflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fivetwenty-io/reqflow/internal/constants"
)

// DelayStrategy selects how the wait between attempts grows.
type DelayStrategy string

const (
	// DelayFixed waits Delay between every attempt.
	DelayFixed DelayStrategy = "fixed"

	// DelayBackoff multiplies Delay by Multiplier after every attempt.
	DelayBackoff DelayStrategy = "backoff"
)

// RetryPolicy governs re-dispatch of a failed call.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, the first one included.
	MaxAttempts int
	Strategy    DelayStrategy
	Delay       time.Duration
	Multiplier  float64
	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration
	// Jitter adds up to this fraction of the delay at random, in [0, 1].
	Jitter float64
	// IsRetryable decides whether an error warrants another attempt.
	// Nil uses DefaultIsRetryable.
	IsRetryable func(ctx context.Context, err error) bool
}

// DefaultRetryPolicy returns exponential backoff over three attempts.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: constants.DefaultRetryMax,
		Strategy:    DelayBackoff,
		Delay:       constants.DefaultRetryDelay,
		Multiplier:  constants.DefaultRetryMultiplier,
		MaxDelay:    constants.DefaultRetryWaitMax,
	}
}

// delay returns the wait after the given failed attempt (1-based).
func (p *RetryPolicy) delay(attempt int) time.Duration {
	wait := p.Delay

	if p.Strategy == DelayBackoff {
		multiplier := p.Multiplier
		if multiplier <= 0 {
			multiplier = constants.DefaultRetryMultiplier
		}

		exponent := min(attempt-1, constants.MaxBackoffExponent)
		wait = time.Duration(float64(p.Delay) * math.Pow(multiplier, float64(exponent)))
	}

	if p.MaxDelay > 0 && wait > p.MaxDelay {
		wait = p.MaxDelay
	}

	jitter := min(max(p.Jitter, 0), 1)
	if jitter > 0 {
		//nolint:gosec // jitter does not need a cryptographic source
		wait += time.Duration(float64(wait) * jitter * rand.Float64())
	}

	return wait
}

func (p *RetryPolicy) retryable(ctx context.Context, err error) bool {
	if p.IsRetryable != nil {
		return p.IsRetryable(ctx, err)
	}

	return DefaultIsRetryable(ctx, err)
}

// DefaultIsRetryable retries timeouts, network failures, 429 and most 5xx
// responses. HTTP classification is delegated to retryablehttp.
func DefaultIsRetryable(ctx context.Context, err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	configErr := &ConfigError{}
	hookErr := &HookError{}

	if errors.As(err, &configErr) || errors.As(err, &hookErr) {
		return false
	}

	if IsTimeout(err) {
		return true
	}

	transportErr := &TransportError{}
	if errors.As(err, &transportErr) && transportErr.StatusCode > 0 {
		resp := &http.Response{StatusCode: transportErr.StatusCode, Header: http.Header{}}
		if transportErr.Response != nil && transportErr.Response.Headers != nil {
			resp.Header = transportErr.Response.Headers
		}

		retry, _ := retryablehttp.DefaultRetryPolicy(ctx, resp, nil)

		return retry
	}

	retry, _ := retryablehttp.DefaultRetryPolicy(ctx, nil, err)

	return retry
}

// retryLayer dispatches with a fresh per-attempt deadline and re-dispatches
// retryable failures.
type retryLayer struct {
	next    Adapter
	policy  *RetryPolicy
	logger  Logger
	metrics Metrics
}

func (l *retryLayer) Dispatch(ctx context.Context, config *RequestConfig) (*Response, error) {
	attempts := 1
	if l.policy != nil && l.policy.MaxAttempts > 1 {
		attempts = l.policy.MaxAttempts
	}

	if attempts > 1 && isStreamBody(config.Body) {
		l.logger.Debug("streaming body, retries disabled", map[string]interface{}{
			"method": config.Method,
			"url":    config.URL,
		})

		attempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := l.attempt(ctx, config, attempt)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if l.policy == nil || !l.policy.retryable(ctx, err) {
			return nil, err
		}

		if attempt == attempts {
			break
		}

		wait := l.policy.delay(attempt)
		l.metrics.Retry(config.Method, endpointOf(config.URL), attempt)
		l.logger.Info("retrying request", map[string]interface{}{
			"method":  config.Method,
			"url":     config.URL,
			"attempt": attempt,
			"delay":   wait.String(),
			"error":   err.Error(),
		})

		err = sleep(ctx, wait)
		if err != nil {
			return nil, err
		}
	}

	if attempts == 1 {
		return nil, lastErr
	}

	return nil, &RetryExhaustedError{Attempts: attempts, Err: lastErr}
}

type attemptResult struct {
	resp *Response
	err  error
}

// attempt runs one dispatch bounded by config.Timeout. The result is
// abandoned, not awaited, when the deadline passes first.
func (l *retryLayer) attempt(ctx context.Context, config *RequestConfig, attempt int) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	results := make(chan attemptResult, 1)

	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				results <- attemptResult{err: fmt.Errorf("%w: %v", ErrDispatchPanic, recovered)}
			}
		}()

		resp, err := l.next.Dispatch(attemptCtx, config)
		results <- attemptResult{resp: resp, err: err}
	}()

	select {
	case result := <-results:
		if result.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, l.timeoutError(config, attempt, result.err)
		}

		return result.resp, result.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, l.timeoutError(config, attempt, attemptCtx.Err())
	}
}

func (l *retryLayer) timeoutError(config *RequestConfig, attempt int, cause error) error {
	return &TimeoutError{
		Method:  config.Method,
		URL:     config.URL,
		Timeout: config.Timeout,
		Attempt: attempt,
		Err:     cause,
	}
}

func sleep(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
