package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tracker-closure/internal/service"
)

// Metrics records request count and latency per route template. Scrapes of
// skipPath are not recorded and unmatched paths share one label.
func Metrics(metricsSvc *service.MetricsService, skipPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || c.Request.URL.Path == skipPath {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
