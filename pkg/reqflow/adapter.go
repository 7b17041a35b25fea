package reqflow

import (
	"context"
	"net/url"
	"time"
)

// Adapter performs one network operation for an effective configuration.
// Implementations report failures as errors, preferably *TransportError.
type Adapter interface {
	Dispatch(ctx context.Context, config *RequestConfig) (*Response, error)
}

// AdapterFunc lets an ordinary function serve as an Adapter.
type AdapterFunc func(ctx context.Context, config *RequestConfig) (*Response, error)

// Dispatch calls f(ctx, config).
func (f AdapterFunc) Dispatch(ctx context.Context, config *RequestConfig) (*Response, error) {
	return f(ctx, config)
}

// DefaultsProvider is implemented by adapters that contribute intrinsic
// defaults. They sit below the global configuration in precedence.
type DefaultsProvider interface {
	Defaults() RequestConfig
}

// instrumentedAdapter records every real dispatch. It is the innermost
// decorator, so cache hits and idempotent joins never reach it.
type instrumentedAdapter struct {
	next    Adapter
	logger  Logger
	metrics Metrics
}

func (a *instrumentedAdapter) Dispatch(ctx context.Context, config *RequestConfig) (*Response, error) {
	endpoint := endpointOf(config.URL)
	start := time.Now()

	resp, err := a.next.Dispatch(ctx, config)
	duration := time.Since(start)

	statusCode := StatusCode(err)
	if resp != nil {
		statusCode = resp.StatusCode
	}

	a.metrics.ObserveDispatch(config.Method, endpoint, statusCode, duration, err)

	fields := map[string]interface{}{
		"method":      config.Method,
		"url":         config.URL,
		"status_code": statusCode,
		"duration":    duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		a.logger.Debug("dispatch failed", fields)

		return nil, err
	}

	a.logger.Debug("dispatch completed", fields)

	return resp, nil
}

// endpointOf strips the query so metric labels stay bounded.
func endpointOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}

	return parsed.Host + parsed.Path
}
