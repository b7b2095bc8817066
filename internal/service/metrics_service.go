package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/campus-attendance-api/internal/models"
	"github.com/noah-isme/campus-attendance-api/pkg/attendance"
)

const metricsNamespace = "campus"

// Report generation outcomes used as metric labels.
const (
	ReportOutcomeSuccess = "success"
	ReportOutcomeEmpty   = "empty"
	ReportOutcomeError   = "error"
)

// MetricsSnapshot is a lightweight view of the collected metrics.
type MetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	DBQueryCount             uint64    `json:"dbQueryCount"`
	AverageDBQueryDurationMs float64   `json:"averageDbQueryDurationMs"`
	ReportsGenerated         uint64    `json:"reportsGenerated"`
	ReportsFailed            uint64    `json:"reportsFailed"`
	JobsFinished             uint64    `json:"jobsFinished"`
	JobsFailed               uint64    `json:"jobsFailed"`
	DiscardedCheckouts       uint64    `json:"discardedCheckouts"`
	MalformedEvents          uint64    `json:"malformedEvents"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

// timing keeps a count and a summed duration for snapshot averages.
type timing struct {
	count atomic.Uint64
	total atomic.Uint64
}

func (t *timing) add(d time.Duration) {
	t.count.Add(1)
	t.total.Add(uint64(d.Nanoseconds()))
}

func (t *timing) averageMillis() float64 {
	n := t.count.Load()
	if n == 0 {
		return 0
	}
	return float64(t.total.Load()) / float64(n) / float64(time.Millisecond)
}

// MetricsService owns the Prometheus registry for the API and keeps a few
// counters in memory for the JSON summary endpoint.
type MetricsService struct {
	handler http.Handler

	httpDuration   *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	cacheLatency   *prometheus.HistogramVec
	cacheHitRatio  prometheus.Gauge
	dbDuration     *prometheus.HistogramVec
	reportsTotal   *prometheus.CounterVec
	reportDuration *prometheus.HistogramVec
	jobTransitions *prometheus.CounterVec
	pairingEvents  *prometheus.CounterVec
	skippedRows    prometheus.Counter

	requests       timing
	dbQueries      timing
	cacheHits      atomic.Uint64
	cacheMisses    atomic.Uint64
	reports        atomic.Uint64
	reportFailures atomic.Uint64
	jobsFinished   atomic.Uint64
	jobsFailed     atomic.Uint64
	discarded      atomic.Uint64
	malformed      atomic.Uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	m := &MetricsService{
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route template and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Monthly cache lookups by result",
		}, []string{"result"}),
		cacheLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "operation_seconds",
			Help:      "Redis round trip for monthly cache reads and writes",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"op"}),
		cacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "hit_ratio",
			Help:      "Hits over total monthly cache lookups since start",
		}),
		dbDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query latency by query label",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
		reportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "attendance",
			Name:      "reports_total",
			Help:      "Attendance reports rendered by kind, format and outcome",
		}, []string{"kind", "format", "outcome"}),
		reportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "attendance",
			Name:      "report_duration_seconds",
			Help:      "Time spent rendering attendance reports",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind", "format"}),
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "attendance",
			Name:      "report_jobs_total",
			Help:      "Report job status transitions",
		}, []string{"status"}),
		pairingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "attendance",
			Name:      "pairing_events_total",
			Help:      "Pairing outcomes by kind",
		}, []string{"outcome"}),
		skippedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "attendance",
			Name:      "aggregation_skipped_rows_total",
			Help:      "Rows the monthly aggregator could not bucket",
		}),
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		m.httpDuration, m.cacheLookups, m.cacheLatency, m.cacheHitRatio, m.dbDuration,
		m.reportsTotal, m.reportDuration, m.jobTransitions, m.pairingEvents, m.skippedRows,
		collectors.NewGoCollector(),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request under its route template.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
	m.requests.add(duration)
}

// RecordCacheOperation records a monthly cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.WithLabelValues("get").Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
		m.cacheHits.Add(1)
	} else {
		m.cacheMisses.Add(1)
	}
	m.cacheLookups.WithLabelValues(result).Inc()
	m.cacheHitRatio.Set(m.hitRatio())
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.WithLabelValues("set").Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbDuration.WithLabelValues(label).Observe(duration.Seconds())
	m.dbQueries.add(duration)
}

// ObserveReport records one rendering attempt.
func (m *MetricsService) ObserveReport(kind, format, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reportsTotal.WithLabelValues(kind, format, outcome).Inc()
	m.reportDuration.WithLabelValues(kind, format).Observe(duration.Seconds())
	m.reports.Add(1)
	if outcome == ReportOutcomeError {
		m.reportFailures.Add(1)
	}
}

// ObserveReportJob counts a job entering status.
func (m *MetricsService) ObserveReportJob(status models.ReportStatus) {
	if m == nil {
		return
	}
	m.jobTransitions.WithLabelValues(string(status)).Inc()
	switch status {
	case models.ReportStatusFinished:
		m.jobsFinished.Add(1)
	case models.ReportStatusFailed:
		m.jobsFailed.Add(1)
	}
}

// ObservePairing adds pairing statistics and the aggregator's skipped row count.
func (m *MetricsService) ObservePairing(stats attendance.PairingStats, skipped int) {
	if m == nil {
		return
	}
	m.pairingEvents.WithLabelValues("completed").Add(float64(stats.Completed))
	m.pairingEvents.WithLabelValues("pending").Add(float64(stats.Pending))
	m.pairingEvents.WithLabelValues("discarded_checkout").Add(float64(stats.DiscardedCheckouts))
	m.pairingEvents.WithLabelValues("malformed").Add(float64(stats.Malformed))
	m.skippedRows.Add(float64(skipped))
	m.discarded.Add(uint64(stats.DiscardedCheckouts))
	m.malformed.Add(uint64(stats.Malformed))
}

func (m *MetricsService) hitRatio() float64 {
	hits, misses := m.cacheHits.Load(), m.cacheMisses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Snapshot returns aggregated metrics suitable for the metrics summary endpoint.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		CacheHitRatio:            m.hitRatio(),
		CacheHits:                m.cacheHits.Load(),
		CacheMisses:              m.cacheMisses.Load(),
		RequestsTotal:            m.requests.count.Load(),
		AverageRequestDurationMs: m.requests.averageMillis(),
		DBQueryCount:             m.dbQueries.count.Load(),
		AverageDBQueryDurationMs: m.dbQueries.averageMillis(),
		ReportsGenerated:         m.reports.Load(),
		ReportsFailed:            m.reportFailures.Load(),
		JobsFinished:             m.jobsFinished.Load(),
		JobsFailed:               m.jobsFailed.Load(),
		DiscardedCheckouts:       m.discarded.Load(),
		MalformedEvents:          m.malformed.Load(),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
