package reqflow

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// MaxTime is the expiry given to entries stored without a TTL. It is the
// latest instant that still round-trips through RFC 3339 encodings, which the
// remote cache backends rely on.
var MaxTime = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Duration returns a pointer to d. TTL fields use a nil pointer to mean
// "no TTL supplied", which is distinct from a zero TTL.
func Duration(d time.Duration) *time.Duration {
	return &d
}

// RequestConfig is the declarative description of one HTTP call.
//
// Zero values mean "not set" and fall back to the global configuration,
// then to adapter defaults, then to the built-in defaults.
type RequestConfig struct {
	// URL is either absolute or a path relative to BaseURL.
	URL string
	// Method defaults to GET.
	Method string
	// BaseURL is joined with a relative URL.
	BaseURL string
	// Headers are merged key by key across configuration layers.
	Headers http.Header
	// Query is merged key by key and appended by the adapter.
	Query url.Values
	// Body is the payload. []byte, string and io.Reader are sent as is,
	// anything else is JSON encoded. An io.Reader is read once: it is sent
	// on the first attempt only, so retries are skipped, and it does not
	// contribute to Fingerprint, so cache and idempotency policies need an
	// explicit Key.
	Body interface{}
	// Timeout bounds a single dispatch attempt.
	Timeout time.Duration
	// Adapter overrides the client's default transport for this call.
	Adapter Adapter

	Cache      *CachePolicy
	Idempotent *IdempotentPolicy
	Retry      *RetryPolicy
	Hooks      Hooks

	// Metadata is carried through the pipeline untouched for hooks and adapters.
	Metadata map[string]interface{}
}

// Clone returns a deep copy of the mutable parts of the configuration.
// Policies are copied by value; the body is shared.
func (c *RequestConfig) Clone() *RequestConfig {
	if c == nil {
		return nil
	}

	clone := *c
	clone.Headers = c.Headers.Clone()
	clone.Query = cloneValues(c.Query)

	if c.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(c.Metadata))
		for key, value := range c.Metadata {
			clone.Metadata[key] = value
		}
	}

	if c.Cache != nil {
		policy := *c.Cache
		clone.Cache = &policy
	}

	if c.Idempotent != nil {
		policy := *c.Idempotent
		clone.Idempotent = &policy
	}

	if c.Retry != nil {
		policy := *c.Retry
		clone.Retry = &policy
	}

	return &clone
}

// Response is the transport-neutral result of a dispatch.
type Response struct {
	StatusCode int         `json:"status_code"           yaml:"status_code"`
	StatusText string      `json:"status_text,omitempty" yaml:"status_text,omitempty"`
	Headers    http.Header `json:"headers,omitempty"     yaml:"headers,omitempty"`
	Body       []byte      `json:"body,omitempty"        yaml:"-"`
	// Data is the parsed body: decoded JSON for JSON responses, the body as a
	// string otherwise.
	Data interface{} `json:"data,omitempty" yaml:"data,omitempty"`
}

// Clone copies the response so callers sharing one outcome cannot observe
// each other's mutations of headers or body.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Headers = r.Headers.Clone()

	if r.Body != nil {
		clone.Body = append([]byte(nil), r.Body...)
	}

	return &clone
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v interface{}) error {
	err := json.Unmarshal(r.Body, v)
	if err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}

	return nil
}

func cloneValues(values url.Values) url.Values {
	if values == nil {
		return nil
	}

	clone := make(url.Values, len(values))
	for key, vals := range values {
		clone[key] = append([]string(nil), vals...)
	}

	return clone
}
