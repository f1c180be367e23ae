package service

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tracker-closure/internal/models"
)

func TestMetricsServiceExposesClosureCounters(t *testing.T) {
	m := NewMetricsService()
	m.ObserveRun(models.RunModeSubmit, models.RunStateSubmitted, 2*time.Second)
	m.ObserveEntities(3, 1)
	m.ObservePayload(3, 3)
	m.ObserveHTTPRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `closure_runs_total{mode="submit",state="SUBMITTED"} 1`)
	assert.Contains(t, body, `closure_entities_total{kind="eligible"} 3`)
	assert.Contains(t, body, `closure_entities_total{kind="conflict"} 1`)
	assert.Contains(t, body, `closure_payload_items_total{type="event"} 3`)
	assert.Contains(t, body, "closure_run_duration_seconds_count 1")
	assert.Contains(t, body, `http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestMetricsServiceWriteTextfile(t *testing.T) {
	m := NewMetricsService()
	m.ObserveRun(models.RunModePreview, models.RunStatePrinted, time.Second)

	path := filepath.Join(t.TempDir(), "closure.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `closure_runs_total{mode="preview",state="PRINTED"} 1`)
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	m.ObserveRun(models.RunModePreview, models.RunStatePrinted, time.Second)
	m.ObserveEntities(1, 1)
	require.NoError(t, m.WriteTextfile("ignored"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
