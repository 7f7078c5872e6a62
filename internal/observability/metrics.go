package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics keeps in-memory counters for the JSON snapshot and mirrors them
// into a private Prometheus registry.
type Metrics struct {
	mu             sync.Mutex
	startedAt      time.Time
	requestCount   map[string]int64
	errorCount     map[string]int64
	totalLatencyMs map[string]int64
	notifyFailures int64

	registry      *prometheus.Registry
	reqTotal      *prometheus.CounterVec
	reqLatency    *prometheus.HistogramVec
	errTotal      *prometheus.CounterVec
	notifyFailure prometheus.Counter
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	UptimeSeconds        int64            `json:"uptime_seconds"`
	Requests             map[string]int64 `json:"requests"`
	Errors               map[string]int64 `json:"errors"`
	AvgLatencyMs         map[string]int64 `json:"avg_latency_ms"`
	NotificationFailures int64            `json:"notification_failures"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	m := &Metrics{
		startedAt:      time.Now(),
		requestCount:   make(map[string]int64),
		errorCount:     make(map[string]int64),
		totalLatencyMs: make(map[string]int64),
		registry:       prometheus.NewRegistry(),
		reqTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"route", "method", "status"},
		),
		reqLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		errTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_errors_total",
				Help: "Error responses by code.",
			},
			[]string{"route", "method", "code"},
		),
		notifyFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Notifier errors swallowed by ticket operations.",
		}),
	}
	m.registry.MustRegister(m.reqTotal, m.reqLatency, m.errTotal, m.notifyFailure)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.reqTotal.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.reqLatency.WithLabelValues(path, method).Observe(duration.Seconds())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
	m.totalLatencyMs[key] += duration.Milliseconds()
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.errTotal.WithLabelValues(path, method, code).Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordNotificationFailure counts a swallowed notifier error.
func (m *Metrics) RecordNotificationFailure() {
	if m == nil {
		return
	}
	m.notifyFailure.Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyFailures++
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		UptimeSeconds:        int64(time.Since(m.startedAt).Seconds()),
		Requests:             make(map[string]int64, len(m.requestCount)),
		Errors:               make(map[string]int64, len(m.errorCount)),
		AvgLatencyMs:         make(map[string]int64, len(m.requestCount)),
		NotificationFailures: m.notifyFailures,
	}
	for k, v := range m.requestCount {
		snap.Requests[k] = v
		if v > 0 {
			snap.AvgLatencyMs[k] = m.totalLatencyMs[k] / v
		}
	}
	for k, v := range m.errorCount {
		snap.Errors[k] = v
	}
	return snap
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
