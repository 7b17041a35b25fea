package reqflow

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// RequestInstance is one configured call. Send may be invoked more than
// once; each invocation resolves the configuration afresh.
type RequestInstance struct {
	client *Client
	config *RequestConfig
	id     string
}

func newRequestID() string {
	return uuid.NewString()
}

// ID returns the request's identifier, used in log fields.
func (r *RequestInstance) ID() string {
	return r.id
}

// Config returns a copy of the per-call configuration.
func (r *RequestInstance) Config() RequestConfig {
	return *r.config.Clone()
}

// Send resolves the configuration against the current global state and runs
// the call through the hook pipeline and the decorated adapter.
func (r *RequestInstance) Send(ctx context.Context) (*Response, error) {
	global := r.client.globals.snapshot()

	adapter := r.config.Adapter
	if adapter == nil {
		adapter = r.client.defaultAdapter()
	}

	var (
		effective  *RequestConfig
		resolveErr error
	)

	if adapter == nil {
		resolveErr = &ConfigError{Field: "adapter", Err: ErrNoAdapter}
	} else {
		var defaults RequestConfig
		if provider, ok := adapter.(DefaultsProvider); ok {
			defaults = provider.Defaults()
		}

		effective, resolveErr = Resolve(defaults, global, *r.config)
	}

	hooks := global.Hooks.merge(r.config.Hooks)
	if effective != nil {
		hooks = effective.Hooks
	}

	r.client.logger.Debug("sending request", map[string]interface{}{
		"request_id": r.id,
		"method":     r.config.Method,
		"url":        r.config.URL,
	})

	p := pipeline{hooks: hooks, logger: r.client.logger}

	return p.run(ctx, effective, resolveErr, func(ctx context.Context, config *RequestConfig) (*Response, error) {
		target := adapter
		if config.Adapter != nil {
			target = config.Adapter
		}

		return r.client.gateway(target, config).Dispatch(ctx, config)
	})
}

// RequestOption adjusts a per-call configuration.
type RequestOption func(*RequestConfig)

// WithBaseURL sets the base URL a relative URL is joined to.
func WithBaseURL(baseURL string) RequestOption {
	return func(c *RequestConfig) {
		c.BaseURL = baseURL
	}
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(c *RequestConfig) {
		if c.Headers == nil {
			c.Headers = make(http.Header)
		}

		c.Headers.Set(key, value)
	}
}

// WithQuery adds a query parameter.
func WithQuery(key, value string) RequestOption {
	return func(c *RequestConfig) {
		if c.Query == nil {
			c.Query = make(url.Values)
		}

		c.Query.Add(key, value)
	}
}

// WithBody sets the request payload.
func WithBody(body interface{}) RequestOption {
	return func(c *RequestConfig) {
		c.Body = body
	}
}

// WithTimeout bounds each dispatch attempt.
func WithTimeout(timeout time.Duration) RequestOption {
	return func(c *RequestConfig) {
		c.Timeout = timeout
	}
}

// UsingAdapter overrides the client's default adapter for this call.
func UsingAdapter(adapter Adapter) RequestOption {
	return func(c *RequestConfig) {
		c.Adapter = adapter
	}
}

// WithCachePolicy enables response caching.
func WithCachePolicy(policy CachePolicy) RequestOption {
	return func(c *RequestConfig) {
		c.Cache = &policy
	}
}

// WithIdempotency enables idempotent dispatch.
func WithIdempotency(policy IdempotentPolicy) RequestOption {
	return func(c *RequestConfig) {
		c.Idempotent = &policy
	}
}

// WithRetry sets the retry policy.
func WithRetry(policy RetryPolicy) RequestOption {
	return func(c *RequestConfig) {
		c.Retry = &policy
	}
}

// WithHooks sets all lifecycle hooks at once.
func WithHooks(hooks Hooks) RequestOption {
	return func(c *RequestConfig) {
		c.Hooks = c.Hooks.merge(hooks)
	}
}

// OnBefore sets the before hook.
func OnBefore(hook BeforeHook) RequestOption {
	return func(c *RequestConfig) {
		c.Hooks.OnBefore = hook
	}
}

// OnSuccess sets the success hook.
func OnSuccess(hook SuccessHook) RequestOption {
	return func(c *RequestConfig) {
		c.Hooks.OnSuccess = hook
	}
}

// OnError sets the error hook.
func OnError(hook ErrorHook) RequestOption {
	return func(c *RequestConfig) {
		c.Hooks.OnError = hook
	}
}

// OnFinally sets the finally hook.
func OnFinally(hook FinallyHook) RequestOption {
	return func(c *RequestConfig) {
		c.Hooks.OnFinally = hook
	}
}

// WithMetadata attaches a value for hooks and adapters.
func WithMetadata(key string, value interface{}) RequestOption {
	return func(c *RequestConfig) {
		if c.Metadata == nil {
			c.Metadata = make(map[string]interface{})
		}

		c.Metadata[key] = value
	}
}
