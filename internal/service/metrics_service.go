package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/tracker-closure/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for closure runs and the HTTP API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	entitiesTotal   *prometheus.CounterVec
	payloadTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "closure_runs_total",
		Help: "Closure runs by mode and final state",
	}, []string{"mode", "state"})

	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "closure_run_duration_seconds",
		Help:    "Wall time of closure runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})

	entitiesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "closure_entities_total",
		Help: "Stale tracked entities found, by kind",
	}, []string{"kind"})

	payloadTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "closure_payload_items_total",
		Help: "Objects accepted by the tracker import, by type",
	}, []string{"type"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(runsTotal, runDuration, entitiesTotal, payloadTotal, requestDuration, requestTotal, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		runsTotal:       runsTotal,
		runDuration:     runDuration,
		entitiesTotal:   entitiesTotal,
		payloadTotal:    payloadTotal,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
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

// ObserveRun counts a finished run and its duration.
func (m *MetricsService) ObserveRun(mode models.RunMode, state models.RunState, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(string(mode), string(state)).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// ObserveEntities counts stale candidates found by a run.
func (m *MetricsService) ObserveEntities(eligible, conflicts int) {
	if m == nil {
		return
	}
	m.entitiesTotal.WithLabelValues("eligible").Add(float64(eligible))
	m.entitiesTotal.WithLabelValues("conflict").Add(float64(conflicts))
}

// ObservePayload counts submitted enrollment updates and closure events.
func (m *MetricsService) ObservePayload(enrollments, events int) {
	if m == nil {
		return
	}
	m.payloadTotal.WithLabelValues("enrollment").Add(float64(enrollments))
	m.payloadTotal.WithLabelValues("event").Add(float64(events))
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

// WriteTextfile dumps the registry for the node-exporter textfile collector.
// An empty path is a no-op.
func (m *MetricsService) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
