package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/api/tickets", "GET", 200, 10*time.Millisecond)
	m.RecordRequest("/api/tickets", "GET", 200, 30*time.Millisecond)
	m.RecordError("/api/tickets", "GET", "NOT_FOUND")
	m.RecordNotificationFailure()

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Requests["/api/tickets|GET|200"])
	assert.Equal(t, int64(20), snap.AvgLatencyMs["/api/tickets|GET|200"])
	assert.Equal(t, int64(1), snap.Errors["/api/tickets|GET|NOT_FOUND"])
	assert.Equal(t, int64(1), snap.NotificationFailures)

	snap.Requests["/api/tickets|GET|200"] = 99
	assert.Equal(t, int64(2), m.Snapshot().Requests["/api/tickets|GET|200"])
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", "GET", 200, time.Millisecond)
	m.RecordError("/", "GET", "X")
	m.RecordNotificationFailure()
	assert.Empty(t, m.Snapshot().Requests)
}

func TestPrometheusHandlerExposesCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/api/tickets/:id", "GET", 404, 5*time.Millisecond)
	m.RecordError("/api/tickets/:id", "GET", "NOT_FOUND")
	m.RecordNotificationFailure()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `http_requests_total{method="GET",route="/api/tickets/:id",status="404"} 1`)
	assert.Contains(t, text, `http_errors_total{code="NOT_FOUND",method="GET",route="/api/tickets/:id"} 1`)
	assert.Contains(t, text, "notification_failures_total 1")
	assert.Contains(t, text, "http_request_duration_seconds_bucket")
}
