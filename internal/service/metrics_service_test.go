package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceRecordsTuitionCounters(t *testing.T) {
	m := NewMetricsService()

	m.RecordAdmission(AdmissionPathSelfService, AdmissionOutcomeRejected, "DUPLICATE_REFERENCE")
	m.RecordAdmission(AdmissionPathSelfService, AdmissionOutcomeRejected, "DUPLICATE_REFERENCE")
	m.RecordAdmission(AdmissionPathCounter, AdmissionOutcomeAccepted, "")
	m.RecordLedgerCredit("CASH", 2500)
	m.RecordAllocationDegraded("RCPT")
	m.ObserveJob("receipts", "succeeded", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.paymentAdmissions.WithLabelValues(AdmissionPathSelfService, AdmissionOutcomeRejected, "DUPLICATE_REFERENCE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentAdmissions.WithLabelValues(AdmissionPathCounter, AdmissionOutcomeAccepted, "")))
	assert.Equal(t, 2500.0, testutil.ToFloat64(m.ledgerCredit.WithLabelValues("CASH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.allocationsDegraded.WithLabelValues("RCPT")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
}

func TestMetricsServiceCacheHitRatio(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)

	assert.Equal(t, 0.75, testutil.ToFloat64(m.cacheHitRatio))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheMisses))
}

func TestMetricsServiceNilSafeAndHandler(t *testing.T) {
	var nilMetrics *MetricsService
	assert.NotPanics(t, func() {
		nilMetrics.RecordAdmission("p", "o", "r")
		nilMetrics.ObserveJob("receipts", "retried", time.Second)
		nilMetrics.ObserveHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Second)
	})
	w := httptest.NewRecorder()
	nilMetrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodPost, "/api/v1/payments", http.StatusCreated, 5*time.Millisecond)
	w = httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="POST",path="/api/v1/payments",status="201"} 1`)
}
