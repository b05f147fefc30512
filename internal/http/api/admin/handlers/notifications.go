package handlers

import (
	"net/http"
	"strings"

	"github.com/equilens/equilens/internal/queue"
	"github.com/gin-gonic/gin"
)

// NotificationHandler lets operational collaborators enqueue notifications.
type NotificationHandler struct {
	lane *queue.Lane[queue.NotificationJob]
}

// NewNotificationHandler constructs a NotificationHandler.
func NewNotificationHandler(lane *queue.Lane[queue.NotificationJob]) *NotificationHandler {
	return &NotificationHandler{lane: lane}
}

// enqueueNotificationRequest defines the notification body.
type enqueueNotificationRequest struct {
	Type           string         `json:"type"`
	UserID         *uint64        `json:"user_id"`
	OrganizationID *uint64        `json:"organization_id"`
	Template       string         `json:"template"`
	Data           map[string]any `json:"data"`
}

// Enqueue schedules one notification for delivery.
func (h *NotificationHandler) Enqueue(c *gin.Context) {
	var body enqueueNotificationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Template) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template is required"})
		return
	}

	job := queue.NotificationJob{
		Type:           queue.NotificationType(body.Type),
		UserID:         body.UserID,
		OrganizationID: body.OrganizationID,
		Template:       body.Template,
		Data:           body.Data,
	}
	jobID, errEnqueue := h.lane.Enqueue(job, queue.PriorityDefault, "")
	if errEnqueue != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}
