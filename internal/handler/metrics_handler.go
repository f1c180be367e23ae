package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tracker-closure/internal/service"
)

type queueStats interface {
	Stats() (pending, running int)
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	queue   queueStats
	version string
}

// NewMetricsHandler constructs a metrics handler. queue may be nil.
func NewMetricsHandler(metrics *service.MetricsService, queue queueStats, version string) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, queue: queue, version: version}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health godoc
// @Summary Liveness probe with queue depth
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *MetricsHandler) Health(c *gin.Context) {
	body := gin.H{"status": "ok", "version": h.version}
	if h.queue != nil {
		pending, running := h.queue.Stats()
		body["queue"] = gin.H{"pending": pending, "running": running}
	}
	c.JSON(http.StatusOK, body)
}
