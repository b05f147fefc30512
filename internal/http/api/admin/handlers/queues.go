package handlers

import (
	"net/http"
	"time"

	"github.com/equilens/equilens/internal/queue"
	"github.com/gin-gonic/gin"
)

// QueueHandler exposes the operational introspection surface.
type QueueHandler struct {
	manager *queue.Manager
}

// NewQueueHandler constructs a QueueHandler.
func NewQueueHandler(manager *queue.Manager) *QueueHandler {
	return &QueueHandler{manager: manager}
}

// Stats returns per-lane job counters.
func (h *QueueHandler) Stats(c *gin.Context) {
	stats := h.manager.Stats()
	c.JSON(http.StatusOK, gin.H{
		"analysis":      stats[queue.LaneAnalysis],
		"reports":       stats[queue.LaneReports],
		"notifications": stats[queue.LaneNotifications],
	})
}

// cleanupRequest defines the optional cleanup body.
type cleanupRequest struct {
	RetentionHours int `json:"retention_hours"`
}

// Cleanup purges terminal jobs older than the retention window.
func (h *QueueHandler) Cleanup(c *gin.Context) {
	var body cleanupRequest
	_ = c.ShouldBindJSON(&body)

	retention := time.Duration(body.RetentionHours) * time.Hour
	removed := h.manager.Cleanup(retention)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
