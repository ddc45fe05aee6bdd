package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides
// lightweight snapshots for API consumption.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	violationsRecorded  prometheus.Counter
	pointsAwarded       prometheus.Counter
	caseTransitions     *prometheus.CounterVec
	coachingTransitions *prometheus.CounterVec
	cacheLatency        prometheus.Observer
	cacheWrite          prometheus.Observer
	cacheHitRatio       prometheus.Gauge
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	violationCount       uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	violationsRecorded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "violations_recorded_total",
		Help: "Total number of violation records created",
	})

	pointsAwarded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "violation_points_awarded_total",
		Help: "Total penalty points awarded at recording time",
	})

	caseTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "case_transitions_total",
		Help: "Follow-up case status transitions",
	}, []string{"to"})

	coachingTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coaching_transitions_total",
		Help: "Coaching status transitions",
	}, []string{"to"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, violationsRecorded, pointsAwarded,
		caseTransitions, coachingTransitions, cacheLatency, cacheWrite, cacheHitRatio,
		cacheHits, cacheMisses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:            registry,
		handler:             handler,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		violationsRecorded:  violationsRecorded,
		pointsAwarded:       pointsAwarded,
		caseTransitions:     caseTransitions,
		coachingTransitions: coachingTransitions,
		cacheLatency:        cacheLatency,
		cacheWrite:          cacheWrite,
		cacheHitRatio:       cacheHitRatio,
		cacheHits:           cacheHits,
		cacheMisses:         cacheMisses,
	}
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

// ObserveHTTPRequest records request metrics and aggregates simple stats
// for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordViolation counts a recorded violation and the points it awarded.
func (m *MetricsService) RecordViolation(points int) {
	if m == nil {
		return
	}
	m.violationsRecorded.Inc()
	if points > 0 {
		m.pointsAwarded.Add(float64(points))
	}
	atomic.AddUint64(&m.violationCount, 1)
}

// RecordCaseTransition counts a case entering the given status.
func (m *MetricsService) RecordCaseTransition(to models.CaseStatus) {
	if m == nil {
		return
	}
	m.caseTransitions.WithLabelValues(string(to)).Inc()
}

// RecordCoachingTransition counts a coaching record entering the given state.
func (m *MetricsService) RecordCoachingTransition(to models.CoachingState) {
	if m == nil {
		return
	}
	m.coachingTransitions.WithLabelValues(string(to)).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// Snapshot returns aggregated metrics suitable for admin endpoints.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	violations := atomic.LoadUint64(&m.violationCount)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		ViolationsRecorded:       violations,
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
