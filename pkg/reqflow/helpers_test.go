package reqflow_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fivetwenty-io/reqflow/pkg/reqflow"
)

// MockAdapter is a testify mock of reqflow.Adapter.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Dispatch(ctx context.Context, config *reqflow.RequestConfig) (*reqflow.Response, error) {
	args := m.Called(ctx, config)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*reqflow.Response), args.Error(1)
}

// countingAdapter answers every dispatch with 200 and counts calls. When
// gate is set, dispatches block until it is closed.
type countingAdapter struct {
	calls atomic.Int32
	gate  chan struct{}
	fail  error
	delay time.Duration

	mu      sync.Mutex
	configs []*reqflow.RequestConfig
}

func (a *countingAdapter) Dispatch(ctx context.Context, config *reqflow.RequestConfig) (*reqflow.Response, error) {
	n := a.calls.Add(1)

	a.mu.Lock()
	a.configs = append(a.configs, config)
	a.mu.Unlock()

	if a.gate != nil {
		<-a.gate
	}

	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if a.fail != nil {
		return nil, a.fail
	}

	return &reqflow.Response{
		StatusCode: http.StatusOK,
		StatusText: "OK",
		Headers:    http.Header{"X-Call": []string{string(rune('0' + n))}},
		Body:       []byte(config.Method + " " + config.URL),
		Data:       int(n),
	}, nil
}

func (a *countingAdapter) lastConfig() *reqflow.RequestConfig {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.configs) == 0 {
		return nil
	}

	return a.configs[len(a.configs)-1]
}

// defaultsAdapter contributes intrinsic defaults.
type defaultsAdapter struct {
	countingAdapter
	defaults reqflow.RequestConfig
}

func (a *defaultsAdapter) Defaults() reqflow.RequestConfig {
	return a.defaults
}

// recordingLogger collects log calls.
type recordingLogger struct {
	mu   sync.Mutex
	logs []map[string]interface{}
}

func (l *recordingLogger) record(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logs = append(l.logs, map[string]interface{}{"level": level, "msg": msg, "fields": fields})
}

func (l *recordingLogger) Debug(msg string, fields map[string]interface{}) {
	l.record("debug", msg, fields)
}

func (l *recordingLogger) Info(msg string, fields map[string]interface{}) {
	l.record("info", msg, fields)
}

func (l *recordingLogger) Warn(msg string, fields map[string]interface{}) {
	l.record("warn", msg, fields)
}

func (l *recordingLogger) Error(msg string, fields map[string]interface{}) {
	l.record("error", msg, fields)
}

func (l *recordingLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []string

	for _, entry := range l.logs {
		if entry["level"] == level {
			out = append(out, entry["msg"].(string))
		}
	}

	return out
}

// ok builds a 200 response.
func ok(body string) *reqflow.Response {
	return &reqflow.Response{StatusCode: http.StatusOK, Body: []byte(body), Data: body}
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}
