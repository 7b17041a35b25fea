package reqflow

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fivetwenty-io/reqflow/internal/constants"
)

// GlobalConfig holds the process-wide defaults of a Client.
//
// It is only changed through Client.Configure and Client.ResetConfig, and
// every send works on a snapshot taken when it starts, so a mutation never
// affects a call that is already running.
type GlobalConfig struct {
	BaseURL string
	Method  string
	Timeout time.Duration
	Headers http.Header
	Query   url.Values

	Cache      *CachePolicy
	Idempotent *IdempotentPolicy
	Retry      *RetryPolicy
	Hooks      Hooks
}

func (g GlobalConfig) clone() GlobalConfig {
	clone := g
	clone.Headers = g.Headers.Clone()
	clone.Query = cloneValues(g.Query)

	if g.Cache != nil {
		policy := *g.Cache
		clone.Cache = &policy
	}

	if g.Idempotent != nil {
		policy := *g.Idempotent
		clone.Idempotent = &policy
	}

	if g.Retry != nil {
		policy := *g.Retry
		clone.Retry = &policy
	}

	return clone
}

// merge applies every field set in partial on top of g.
func (g *GlobalConfig) merge(partial GlobalConfig) {
	if partial.BaseURL != "" {
		g.BaseURL = partial.BaseURL
	}

	if partial.Method != "" {
		g.Method = partial.Method
	}

	if partial.Timeout != 0 {
		g.Timeout = partial.Timeout
	}

	g.Headers = mergeHeaders(g.Headers, partial.Headers)
	g.Query = mergeValues(g.Query, partial.Query)

	if partial.Cache != nil {
		g.Cache = partial.Cache
	}

	if partial.Idempotent != nil {
		g.Idempotent = partial.Idempotent
	}

	if partial.Retry != nil {
		g.Retry = partial.Retry
	}

	g.Hooks = g.Hooks.merge(partial.Hooks)
}

type globalStore struct {
	mu     sync.RWMutex
	config GlobalConfig
}

func (s *globalStore) configure(partial GlobalConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config.merge(partial.clone())
}

func (s *globalStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = GlobalConfig{}
}

func (s *globalStore) snapshot() GlobalConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.config.clone()
}

// Resolve merges adapter defaults, the global configuration and a per-call
// configuration into one effective configuration. Later layers win; headers
// and query values merge key by key.
func Resolve(defaults RequestConfig, global GlobalConfig, perCall RequestConfig) (*RequestConfig, error) {
	effective := defaults.Clone()
	effective.Hooks = Hooks{}

	// global layer
	if global.BaseURL != "" {
		effective.BaseURL = global.BaseURL
	}

	if global.Method != "" {
		effective.Method = global.Method
	}

	if global.Timeout != 0 {
		effective.Timeout = global.Timeout
	}

	effective.Headers = mergeHeaders(effective.Headers, global.Headers)
	effective.Query = mergeValues(effective.Query, global.Query)
	effective.Hooks = global.Hooks

	if global.Cache != nil {
		effective.Cache = global.Cache
	}

	if global.Idempotent != nil {
		effective.Idempotent = global.Idempotent
	}

	if global.Retry != nil {
		effective.Retry = global.Retry
	}

	// per-call layer
	call := perCall.Clone()

	if call.URL != "" {
		effective.URL = call.URL
	}

	if call.BaseURL != "" {
		effective.BaseURL = call.BaseURL
	}

	if call.Method != "" {
		effective.Method = call.Method
	}

	if call.Timeout != 0 {
		effective.Timeout = call.Timeout
	}

	if call.Body != nil {
		effective.Body = call.Body
	}

	if call.Adapter != nil {
		effective.Adapter = call.Adapter
	}

	effective.Headers = mergeHeaders(effective.Headers, call.Headers)
	effective.Query = mergeValues(effective.Query, call.Query)
	effective.Hooks = effective.Hooks.merge(call.Hooks)

	if call.Cache != nil {
		effective.Cache = call.Cache
	}

	if call.Idempotent != nil {
		effective.Idempotent = call.Idempotent
	}

	if call.Retry != nil {
		effective.Retry = call.Retry
	}

	for key, value := range call.Metadata {
		if effective.Metadata == nil {
			effective.Metadata = make(map[string]interface{}, len(call.Metadata))
		}

		effective.Metadata[key] = value
	}

	return finalize(effective)
}

// finalize applies built-in defaults and composes the absolute URL. It runs
// again after OnBefore so a replacement configuration is held to the same rules.
func finalize(config *RequestConfig) (*RequestConfig, error) {
	if config.Method == "" {
		config.Method = constants.DefaultMethod
	}

	config.Method = strings.ToUpper(config.Method)

	if config.Timeout == 0 {
		config.Timeout = constants.DefaultHTTPTimeout
	}

	if config.Headers == nil {
		config.Headers = make(http.Header)
	}

	composed, err := ComposeURL(config.BaseURL, config.URL)
	if err != nil {
		return nil, err
	}

	config.URL = composed

	return config, nil
}

// ComposeURL joins a base URL and a path into one absolute URL. An absolute
// path is returned unchanged; the base's own path is preserved.
func ComposeURL(base, path string) (string, error) {
	if path == "" && base == "" {
		return "", &ConfigError{Field: "url", Err: ErrMissingURL}
	}

	if isAbsoluteURL(path) {
		return path, nil
	}

	if base == "" {
		return "", &ConfigError{Field: "url", Value: path, Err: ErrRelativeURL}
	}

	if !isAbsoluteURL(base) {
		return "", &ConfigError{Field: "base_url", Value: base, Err: ErrRelativeURL}
	}

	joined := strings.TrimRight(base, "/")
	if path != "" {
		joined += "/" + strings.TrimLeft(path, "/")
	}

	_, err := url.Parse(joined)
	if err != nil {
		return "", &ConfigError{Field: "url", Value: joined, Err: ErrInvalidURL}
	}

	return joined, nil
}

func isAbsoluteURL(raw string) bool {
	if raw == "" {
		return false
	}

	parsed, err := url.Parse(raw)

	return err == nil && parsed.Scheme != "" && parsed.Host != ""
}

func mergeHeaders(base, override http.Header) http.Header {
	if len(override) == 0 {
		return base
	}

	merged := base.Clone()
	if merged == nil {
		merged = make(http.Header, len(override))
	}

	for key, values := range override {
		merged[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}

	return merged
}

func mergeValues(base, override url.Values) url.Values {
	if len(override) == 0 {
		return base
	}

	merged := cloneValues(base)
	if merged == nil {
		merged = make(url.Values, len(override))
	}

	for key, values := range override {
		merged[key] = append([]string(nil), values...)
	}

	return merged
}
