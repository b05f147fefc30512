package queue

import "github.com/equilens/equilens/internal/models"

// Lane names used for logging and the introspection surface.
const (
	LaneAnalysis      = "analysis"
	LaneReports       = "reports"
	LaneNotifications = "notifications"
)

// Analysis lane priorities; lower values are served first.
const (
	PriorityRadiological = 1
	PriorityLocomotion   = 2
	PriorityVideo        = 3
	PriorityDefault      = 5
)

// AnalysisJob is the wire envelope between the session store and the
// analysis lane.
type AnalysisJob struct {
	SessionID      uint64              `json:"analysis_id"`
	OrganizationID uint64              `json:"organization_id"`
	Type           models.AnalysisType `json:"type"`
	InputMediaURLs []string            `json:"input_media_urls"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
}

// ReportJob is the wire envelope for the report-generation lane.
type ReportJob struct {
	ReportID          uint64              `json:"report_id"`
	AnalysisSessionID uint64              `json:"analysis_id"`
	OrganizationID    uint64              `json:"organization_id"`
	Format            models.ReportFormat `json:"type"`
}

// NotificationType selects a notification delivery channel.
type NotificationType string

// NotificationType constants define the supported channels.
const (
	NotificationEmail   NotificationType = "email"
	NotificationWebhook NotificationType = "webhook"
	NotificationPush    NotificationType = "push"
)

// NotificationJob is the wire envelope for the notification lane.
type NotificationJob struct {
	Type           NotificationType `json:"type"`
	UserID         *uint64          `json:"user_id,omitempty"`
	OrganizationID *uint64          `json:"organization_id,omitempty"`
	Template       string           `json:"template"`
	Data           map[string]any   `json:"data,omitempty"`
}

// AnalysisPriority derives the lane priority from the analysis type.
// Radiological studies jump the line; routine video reviews queue behind
// locomotion work.
func AnalysisPriority(analysisType models.AnalysisType) int {
	switch analysisType {
	case models.AnalysisTypeRadiological:
		return PriorityRadiological
	case models.AnalysisTypeLocomotion:
		return PriorityLocomotion
	case models.AnalysisTypeVideoPerformance, models.AnalysisTypeVideoCourse:
		return PriorityVideo
	default:
		return PriorityDefault
	}
}
