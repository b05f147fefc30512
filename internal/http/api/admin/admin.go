// Package admin wires the operational routes consumed by the dashboard
// collaborator.
package admin

import (
	"github.com/equilens/equilens/internal/http/api/admin/handlers"
	"github.com/equilens/equilens/internal/queue"
	"github.com/gin-gonic/gin"
)

// RegisterAdminRoutes registers queue introspection and maintenance routes.
func RegisterAdminRoutes(r *gin.Engine, manager *queue.Manager) {
	if r == nil || manager == nil {
		return
	}

	adminGroup := r.Group("/v0/admin")

	queueHandler := handlers.NewQueueHandler(manager)
	adminGroup.GET("/queues/stats", queueHandler.Stats)
	adminGroup.POST("/queues/cleanup", queueHandler.Cleanup)

	notificationHandler := handlers.NewNotificationHandler(manager.Notifications)
	adminGroup.POST("/notifications", notificationHandler.Enqueue)
}
