package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-incident-api/internal/service"
	"github.com/noah-isme/campus-incident-api/pkg/response"
)

type queueStats interface {
	QueueDepth() int
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	queue   queueStats
}

// NewMetricsHandler constructs a metrics handler. queue may be nil.
func NewMetricsHandler(metrics *service.MetricsService, queue queueStats) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, queue: queue}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with a generic OK payload for readiness/liveness usage.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status returns an aggregated metrics snapshot for ops dashboards.
func (h *MetricsHandler) Status(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	snapshot := h.metrics.Snapshot()
	if h.queue != nil {
		snapshot.NotificationQueueDepth = h.queue.QueueDepth()
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}
