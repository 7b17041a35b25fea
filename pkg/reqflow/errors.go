package reqflow

import (
	"errors"
	"fmt"
	"time"
)

// Static errors for err113 compliance.
var (
	ErrNoAdapter             = errors.New("no request adapter configured")
	ErrMissingURL            = errors.New("URL is required")
	ErrRelativeURL           = errors.New("relative URL requires an absolute base URL")
	ErrInvalidURL            = errors.New("invalid URL")
	ErrUnexpectedStatus      = errors.New("unexpected status")
	ErrCacheMiss             = errors.New("key not found")
	ErrCacheEntryExpired     = errors.New("entry expired")
	ErrCacheDisabled         = errors.New("cache disabled")
	ErrKeyNotFoundInAnyCache = errors.New("key not found in any cache")
	ErrHookPanic             = errors.New("hook panicked")
	ErrNilStep               = errors.New("composition step is nil")
	ErrDispatchPanic         = errors.New("dispatch panicked")
	ErrCircuitOpen           = errors.New("circuit breaker is open")
	ErrStreamBodyNeedsKey    = errors.New("a streaming body cannot be fingerprinted, set an explicit key")
)

// ConfigError reports a configuration that cannot be turned into a request,
// e.g. a relative URL without a base URL.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
	}

	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// TransportError reports a failed dispatch: network failure, a non-success
// status, or a response that could not be parsed.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	StatusText string
	// Response is the parsed response when the server answered.
	Response *Response
	Err      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d %s", e.Method, e.URL, e.StatusCode, e.StatusText)
	}

	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a single attempt that exceeded its bound.
type TimeoutError struct {
	Method  string
	URL     string
	Timeout time.Duration
	Attempt int
	Err     error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: attempt %d exceeded timeout of %s", e.Method, e.URL, e.Attempt, e.Timeout)
}

// Unwrap returns the underlying cause.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError wraps the last failure once the attempt ceiling is reached.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempt(s): %v", e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// CompositionError reports the step that stopped a serial chain or failed a
// fail-fast parallel batch.
type CompositionError struct {
	Index int
	Err   error
}

// Error implements the error interface.
func (e *CompositionError) Error() string {
	return fmt.Sprintf("request %d failed: %v", e.Index, e.Err)
}

// Unwrap returns the failing step's error.
func (e *CompositionError) Unwrap() error {
	return e.Err
}

// HookError reports a lifecycle hook that failed or panicked.
type HookError struct {
	Hook string
	Err  error
}

// Error implements the error interface.
func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook failed: %v", e.Hook, e.Err)
}

// Unwrap returns the hook's error.
func (e *HookError) Unwrap() error {
	return e.Err
}

// IsTimeout checks if any attempt behind err timed out.
func IsTimeout(err error) bool {
	timeoutErr := &TimeoutError{}

	return errors.As(err, &timeoutErr)
}

// IsCacheMiss checks if err only means the cache holds no fresh entry, as
// opposed to the backend failing.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss) || errors.Is(err, ErrCacheEntryExpired) || errors.Is(err, ErrCacheDisabled)
}

// IsRetryExhausted checks if err is the result of running out of attempts.
func IsRetryExhausted(err error) bool {
	exhaustedErr := &RetryExhaustedError{}

	return errors.As(err, &exhaustedErr)
}

// IsConfigError checks if err is a configuration error.
func IsConfigError(err error) bool {
	configErr := &ConfigError{}

	return errors.As(err, &configErr)
}

// StatusCode returns the HTTP status carried by a transport error, or 0.
func StatusCode(err error) int {
	transportErr := &TransportError{}
	if errors.As(err, &transportErr) {
		return transportErr.StatusCode
	}

	return 0
}
