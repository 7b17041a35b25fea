package reqflow

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics exports orchestration events as Prometheus metrics.
type PrometheusMetrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	deduplicationHits prometheus.Counter
	errorsTotal       *prometheus.CounterVec
}

// NewPrometheusMetrics registers the reqflow metrics on registry.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqflow_requests_total",
				Help: "Total number of dispatched requests",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reqflow_request_duration_seconds",
				Help:    "Duration of dispatched requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqflow_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		cacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reqflow_cache_hits_total",
				Help: "Total number of responses served from cache",
			},
		),
		cacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reqflow_cache_misses_total",
				Help: "Total number of cache misses",
			},
		),
		deduplicationHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reqflow_deduplication_hits_total",
				Help: "Total number of calls that joined an idempotent dispatch",
			},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqflow_errors_total",
				Help: "Total number of failed dispatches",
			},
			[]string{"method", "endpoint"},
		),
	}
}

// ObserveDispatch implements Metrics.
func (p *PrometheusMetrics) ObserveDispatch(method, endpoint string, statusCode int, duration time.Duration, err error) {
	p.requestsTotal.WithLabelValues(method, strconv.Itoa(statusCode), endpoint).Inc()
	p.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())

	if err != nil {
		p.errorsTotal.WithLabelValues(method, endpoint).Inc()
	}
}

// CacheHit implements Metrics.
func (p *PrometheusMetrics) CacheHit() {
	p.cacheHits.Inc()
}

// CacheMiss implements Metrics.
func (p *PrometheusMetrics) CacheMiss() {
	p.cacheMisses.Inc()
}

// DeduplicationHit implements Metrics.
func (p *PrometheusMetrics) DeduplicationHit() {
	p.deduplicationHits.Inc()
}

// Retry implements Metrics.
func (p *PrometheusMetrics) Retry(method, endpoint string, attempt int) {
	p.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}
