package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission outcome labels.
const (
	AdmissionOutcomeAccepted = "accepted"
	AdmissionOutcomeRejected = "rejected"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface, the
// summary cache and the payment pipeline.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	cacheLatency        prometheus.Observer
	cacheWrite          prometheus.Observer
	cacheHitRatio       prometheus.Gauge
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	paymentAdmissions   *prometheus.CounterVec
	allocationsDegraded *prometheus.CounterVec
	ledgerCredit        *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec

	cacheHitCount  uint64
	cacheMissCount uint64
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

	paymentAdmissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tuition_payment_admissions_total",
		Help: "Payment attempts by path, outcome and reason code",
	}, []string{"path", "outcome", "reason"})

	allocationsDegraded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tuition_reference_allocations_degraded_total",
		Help: "Reference allocations that fell back to a timestamp identifier",
	}, []string{"prefix"})

	ledgerCredit := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tuition_ledger_credit_total",
		Help: "Currency units credited to plans by the ledger",
	}, []string{"method"})

	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tuition_background_job_duration_seconds",
		Help:    "Background job runs by queue and outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		paymentAdmissions, allocationsDegraded, ledgerCredit, jobDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:            registry,
		handler:             handler,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		cacheLatency:        cacheLatency,
		cacheWrite:          cacheWrite,
		cacheHitRatio:       cacheHitRatio,
		cacheHits:           cacheHits,
		cacheMisses:         cacheMisses,
		paymentAdmissions:   paymentAdmissions,
		allocationsDegraded: allocationsDegraded,
		ledgerCredit:        ledgerCredit,
		jobDuration:         jobDuration,
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

// Registry exposes the underlying registry (tests gather from it).
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
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

// RecordAdmission counts a guard verdict. reason is empty for accepted attempts.
func (m *MetricsService) RecordAdmission(path, outcome, reason string) {
	if m == nil {
		return
	}
	m.paymentAdmissions.WithLabelValues(path, outcome, reason).Inc()
}

// RecordAllocationDegraded counts allocator fallbacks.
func (m *MetricsService) RecordAllocationDegraded(prefix string) {
	if m == nil {
		return
	}
	m.allocationsDegraded.WithLabelValues(prefix).Inc()
}

// RecordLedgerCredit adds the credited amount for a payment method.
func (m *MetricsService) RecordLedgerCredit(method string, amount float64) {
	if m == nil {
		return
	}
	m.ledgerCredit.WithLabelValues(method).Add(amount)
}

// ObserveJob records one background job run.
func (m *MetricsService) ObserveJob(queue, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(queue, outcome).Observe(duration.Seconds())
}
