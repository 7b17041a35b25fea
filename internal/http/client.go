package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fivetwenty-io/reqflow/internal/constants"
	"github.com/fivetwenty-io/reqflow/pkg/reqflow"
)

// Client is the HTTP adapter. It performs one dispatch per call; retries
// are normally left to reqflow's retry policy, but transport-level retries
// can be enabled with WithRetryConfig.
type Client struct {
	baseURL        string
	httpClient     *retryablehttp.Client
	userAgent      string
	defaultHeaders http.Header
	logger         reqflow.Logger
	debug          bool
}

// Option configures the HTTP client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger reqflow.Logger) Option {
	return func(c *Client) {
		c.logger = logger
		c.httpClient.Logger = &leveledLogger{logger: logger}
	}
}

// WithDebug enables request and response logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithRetryConfig enables transport-level retries.
func WithRetryConfig(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = retryMax
		c.httpClient.RetryWaitMin = waitMin
		c.httpClient.RetryWaitMax = waitMax
	}
}

// WithTimeout sets the overall HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.HTTPClient.Timeout = timeout
	}
}

// WithUserAgent overrides the default User-Agent.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithDefaultHeaders adds headers contributed as adapter defaults.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for key, value := range headers {
			c.defaultHeaders.Set(key, value)
		}
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient.HTTPClient = httpClient
	}
}

// NewClient creates an HTTP adapter. baseURL is offered as an adapter
// default and may be empty.
func NewClient(baseURL string, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.RetryWaitMin = constants.DefaultRetryDelay
	retryClient.RetryWaitMax = constants.DefaultRetryWaitMax
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.HTTPClient.Timeout = constants.DefaultHTTPTimeout

	client := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     retryClient,
		userAgent:      constants.DefaultUserAgent,
		defaultHeaders: make(http.Header),
		logger:         nopLogger{},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Defaults implements reqflow.DefaultsProvider.
func (c *Client) Defaults() reqflow.RequestConfig {
	headers := c.defaultHeaders.Clone()
	if headers.Get("Accept") == "" {
		headers.Set("Accept", "application/json")
	}

	headers.Set("User-Agent", c.userAgent)

	return reqflow.RequestConfig{
		BaseURL: c.baseURL,
		Headers: headers,
	}
}

// Dispatch implements reqflow.Adapter.
func (c *Client) Dispatch(ctx context.Context, config *reqflow.RequestConfig) (*reqflow.Response, error) {
	target, err := withQuery(config.URL, config.Query)
	if err != nil {
		return nil, &reqflow.ConfigError{Field: "url", Value: config.URL, Err: reqflow.ErrInvalidURL}
	}

	body, contentType, err := requestBody(config.Body)
	if err != nil {
		return nil, &reqflow.TransportError{Method: config.Method, URL: target, Err: err}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, config.Method, target, body)
	if err != nil {
		return nil, &reqflow.TransportError{Method: config.Method, URL: target, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	for key, values := range config.Headers {
		req.Header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}

	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	if c.debug {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method":  config.Method,
			"url":     target,
			"headers": redactHeaders(req.Header),
		})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &reqflow.TransportError{Method: config.Method, URL: target, Err: err}
	}

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxResponseBodySize))
	if err != nil {
		return nil, &reqflow.TransportError{
			Method:     config.Method,
			URL:        target,
			StatusCode: resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Err:        fmt.Errorf("failed to read response body: %w", err),
		}
	}

	response := &reqflow.Response{
		StatusCode: resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    resp.Header.Clone(),
		Body:       data,
		Data:       parseBody(resp.Header.Get("Content-Type"), data),
	}

	if c.debug {
		c.logger.Debug("HTTP Response", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    target,
		})
	}

	if resp.StatusCode >= constants.HTTPStatusBadRequest {
		return nil, &reqflow.TransportError{
			Method:     config.Method,
			URL:        target,
			StatusCode: resp.StatusCode,
			StatusText: response.StatusText,
			Response:   response,
			Err:        reqflow.ErrUnexpectedStatus,
		}
	}

	return response, nil
}

func withQuery(rawURL string, query url.Values) (string, error) {
	if len(query) == 0 {
		return rawURL, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	merged := parsed.Query()
	for key, values := range query {
		for _, value := range values {
			merged.Add(key, value)
		}
	}

	parsed.RawQuery = merged.Encode()

	return parsed.String(), nil
}

func requestBody(body interface{}) (interface{}, string, error) {
	if reader, ok := body.(io.Reader); ok {
		return reader, "", nil
	}

	data, contentType, err := reqflow.EncodeBody(body)
	if err != nil {
		return nil, "", err
	}

	if data == nil {
		return nil, "", nil
	}

	return data, contentType, nil
}

// parseBody decodes JSON bodies and returns anything else as a string.
func parseBody(contentType string, data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}

	if strings.Contains(contentType, "json") {
		var parsed interface{}

		err := json.Unmarshal(data, &parsed)
		if err == nil {
			return parsed
		}
	}

	return string(data)
}

func redactHeaders(headers http.Header) map[string]string {
	redacted := make(map[string]string, len(headers))

	for key := range headers {
		value := headers.Get(key)
		if key == "Authorization" || key == "Cookie" {
			value = "[REDACTED]"
		}

		redacted[key] = value
	}

	return redacted
}
