package reqflow

import (
	"sync"
	"time"
)

// Metrics receives orchestration events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// ObserveDispatch records one real adapter dispatch.
	ObserveDispatch(method, endpoint string, statusCode int, duration time.Duration, err error)
	CacheHit()
	CacheMiss()
	// DeduplicationHit records a caller that joined an idempotent dispatch.
	DeduplicationHit()
	Retry(method, endpoint string, attempt int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveDispatch(string, string, int, time.Duration, error) {}
func (noopMetrics) CacheHit()                                                  {}
func (noopMetrics) CacheMiss()                                                 {}
func (noopMetrics) DeduplicationHit()                                          {}
func (noopMetrics) Retry(string, string, int)                                  {}

// EndpointStats are the dispatch statistics of one endpoint.
type EndpointStats struct {
	TotalRequests   int64
	TotalErrors     int64
	TotalRetries    int64
	TotalLatency    time.Duration
	AverageLatency  time.Duration
	LastRequestTime time.Time
}

// StatsCollector is an in-process Metrics implementation keeping
// per-endpoint statistics and cache counters.
type StatsCollector struct {
	mu        sync.Mutex
	endpoints map[string]*EndpointStats
	hits      int64
	misses    int64
	joins     int64
	onChange  func(endpoint string, stats EndpointStats)
}

// NewStatsCollector creates a new stats collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		endpoints: make(map[string]*EndpointStats),
	}
}

// SetOnChange sets a callback invoked after every dispatch is recorded.
func (m *StatsCollector) SetOnChange(fn func(endpoint string, stats EndpointStats)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onChange = fn
}

// ObserveDispatch implements Metrics.
func (m *StatsCollector) ObserveDispatch(method, endpoint string, statusCode int, duration time.Duration, err error) {
	key := method + " " + endpoint

	m.mu.Lock()

	stats := m.endpointLocked(key)
	stats.TotalRequests++
	stats.LastRequestTime = time.Now()
	stats.TotalLatency += duration
	stats.AverageLatency = stats.TotalLatency / time.Duration(stats.TotalRequests)

	if err != nil || statusCode >= 400 {
		stats.TotalErrors++
	}

	snapshot := *stats
	onChange := m.onChange

	m.mu.Unlock()

	if onChange != nil {
		onChange(key, snapshot)
	}
}

// CacheHit implements Metrics.
func (m *StatsCollector) CacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hits++
}

// CacheMiss implements Metrics.
func (m *StatsCollector) CacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.misses++
}

// DeduplicationHit implements Metrics.
func (m *StatsCollector) DeduplicationHit() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.joins++
}

// Retry implements Metrics.
func (m *StatsCollector) Retry(method, endpoint string, attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.endpointLocked(method + " " + endpoint).TotalRetries++
}

// GetMetrics returns a copy of the statistics for "METHOD host/path", or nil.
func (m *StatsCollector) GetMetrics(endpoint string) *EndpointStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stats, ok := m.endpoints[endpoint]; ok {
		snapshot := *stats

		return &snapshot
	}

	return nil
}

// CacheStats returns the cache hit, cache miss and idempotent join counts.
func (m *StatsCollector) CacheStats() (hits, misses, joins int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.hits, m.misses, m.joins
}

func (m *StatsCollector) endpointLocked(key string) *EndpointStats {
	stats, ok := m.endpoints[key]
	if !ok {
		stats = &EndpointStats{}
		m.endpoints[key] = stats
	}

	return stats
}
