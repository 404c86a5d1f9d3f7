package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/questplus-school-api/internal/models"
)

// MetricsService owns the Prometheus registry and keeps a few counters for
// the health snapshot. A nil *MetricsService is a valid no-op.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	bridgeLogins    *prometheus.CounterVec
	bridgeLatency   *prometheus.HistogramVec
	accessDecisions *prometheus.CounterVec
	importRows      *prometheus.CounterVec
	importJobs      *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	cacheHitCount        uint64
	cacheMissCount       uint64
	bridgeOK             uint64
	bridgeFailed         uint64
	importedRows         uint64
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache operations",
			Buckets: prometheus.DefBuckets,
		}),
		bridgeLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_logins_total",
			Help: "Universal login attempts by platform and outcome",
		}, []string{"platform", "outcome"}),
		bridgeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_call_duration_seconds",
			Help:    "Duration of calls to the external identity backends",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"platform"}),
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Role gate decisions by outcome",
		}, []string{"outcome"}),
		importRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "student_import_rows_total",
			Help: "Bulk import rows by outcome",
		}, []string{"outcome"}),
		importJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "student_import_jobs_total",
			Help: "Bulk import jobs by final status",
		}, []string{"status"}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(m.requestDuration, m.requestTotal, m.cacheLookups, m.cacheLatency,
		m.bridgeLogins, m.bridgeLatency, m.accessDecisions, m.importRows, m.importJobs, goroutines)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
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

// ObserveHTTPRequest records one served request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
	atomic.AddUint64(&m.cacheMissCount, 1)
}

// ObserveBridgeCall records one backend call and its outcome.
func (m *MetricsService) ObserveBridgeCall(platform, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.bridgeLatency.WithLabelValues(platform).Observe(duration.Seconds())
	m.bridgeLogins.WithLabelValues(platform, outcome).Inc()
	if outcome == "success" {
		atomic.AddUint64(&m.bridgeOK, 1)
	} else {
		atomic.AddUint64(&m.bridgeFailed, 1)
	}
}

// RecordAccessDecision counts role gate outcomes.
func (m *MetricsService) RecordAccessDecision(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.accessDecisions.WithLabelValues("allow").Inc()
		return
	}
	m.accessDecisions.WithLabelValues("deny").Inc()
}

// RecordImportRow counts one processed import row.
func (m *MetricsService) RecordImportRow(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.importRows.WithLabelValues("imported").Inc()
		atomic.AddUint64(&m.importedRows, 1)
		return
	}
	m.importRows.WithLabelValues("rejected").Inc()
}

// RecordImportJob counts a finished import job.
func (m *MetricsService) RecordImportJob(status models.ImportStatus) {
	if m == nil {
		return
	}
	m.importJobs.WithLabelValues(string(status)).Inc()
}

// Snapshot summarises the process counters.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	var avgMs float64
	if requests > 0 {
		avgMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgMs,
		CacheHits:                hits,
		CacheMisses:              misses,
		CacheHitRatio:            ratio,
		BridgeLogins:             atomic.LoadUint64(&m.bridgeOK),
		BridgeFailures:           atomic.LoadUint64(&m.bridgeFailed),
		ImportedRows:             atomic.LoadUint64(&m.importedRows),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
