package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric collectors for the log service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Log query metrics.
	LogRowsServed  *prometheus.CounterVec
	LogQueryErrors *prometheus.CounterVec

	// Retention metrics.
	LogsPurgedTotal prometheus.Counter
	PurgeRunsTotal  *prometheus.CounterVec

	// Rate limiting.
	RateLimitRejectionsTotal prometheus.Counter

	// Collector (ingest) metrics.
	CollectorBufferSize   prometheus.Gauge
	CollectorFlushesTotal *prometheus.CounterVec
	CollectorRecordsTotal prometheus.Counter

	// Auth metrics.
	AuthFailuresTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logdesk_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "logdesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "logdesk_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"method", "path_pattern"}),

		LogRowsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logdesk_log_rows_served_total",
			Help: "Total number of log rows returned to clients.",
		}, []string{"scope"}),

		LogQueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logdesk_log_query_errors_total",
			Help: "Total number of failed log store queries.",
		}, []string{"operation"}),

		LogsPurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logdesk_logs_purged_total",
			Help: "Total number of log rows deleted by history purges.",
		}),

		PurgeRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logdesk_purge_runs_total",
			Help: "Total number of history purge runs.",
		}, []string{"status"}),

		RateLimitRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logdesk_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}),

		CollectorBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logdesk_collector_buffer_size",
			Help: "Current number of buffered log records.",
		}),

		CollectorFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logdesk_collector_flushes_total",
			Help: "Total number of collector flushes.",
		}, []string{"status"}),

		CollectorRecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logdesk_collector_records_total",
			Help: "Total number of log records written by the collector.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logdesk_auth_failures_total",
			Help: "Total number of authentication and authorization failures.",
		}, []string{"reason"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logdesk_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.LogRowsServed,
		m.LogQueryErrors,
		m.LogsPurgedTotal,
		m.PurgeRunsTotal,
		m.RateLimitRejectionsTotal,
		m.CollectorBufferSize,
		m.CollectorFlushesTotal,
		m.CollectorRecordsTotal,
		m.AuthFailuresTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method, pattern string, status int, d time.Duration, bytes int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pattern).Observe(d.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, pattern).Observe(float64(bytes))
}

// AddRowsServed counts log rows returned for scope ("admin", "self", "search").
func (m *Metrics) AddRowsServed(scope string, n int) {
	m.LogRowsServed.WithLabelValues(scope).Add(float64(n))
}

// IncQueryError counts a failed store operation.
func (m *Metrics) IncQueryError(operation string) {
	m.LogQueryErrors.WithLabelValues(operation).Inc()
}

// ObservePurge records the outcome of one history purge.
func (m *Metrics) ObservePurge(deleted int64, err error) {
	if err != nil {
		m.PurgeRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.PurgeRunsTotal.WithLabelValues("ok").Inc()
	m.LogsPurgedTotal.Add(float64(deleted))
}

// ObserveFlush records one collector flush of n records.
func (m *Metrics) ObserveFlush(n int, err error) {
	if err != nil {
		m.CollectorFlushesTotal.WithLabelValues("error").Inc()
		return
	}
	m.CollectorFlushesTotal.WithLabelValues("ok").Inc()
	m.CollectorRecordsTotal.Add(float64(n))
}

// SetBufferSize reports the number of records waiting for a flush.
func (m *Metrics) SetBufferSize(n int) {
	m.CollectorBufferSize.Set(float64(n))
}

// IncAuthFailure increments the auth failure counter for the given reason.
func (m *Metrics) IncAuthFailure(reason string) {
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection() {
	m.RateLimitRejectionsTotal.Inc()
}
