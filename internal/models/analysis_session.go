package models

import (
	"time"

	"gorm.io/datatypes"
)

// AnalysisType identifies the kind of media analysis requested.
type AnalysisType string

// AnalysisType constants define the supported analysis kinds.
const (
	AnalysisTypeVideoPerformance AnalysisType = "video_performance"
	AnalysisTypeVideoCourse      AnalysisType = "video_course"
	AnalysisTypeRadiological     AnalysisType = "radiological"
	AnalysisTypeLocomotion       AnalysisType = "locomotion"
)

// SessionStatus tracks an analysis session through its lifecycle.
type SessionStatus string

// SessionStatus constants define the session state machine states.
const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusCancelled  SessionStatus = "cancelled"
)

// AnalysisSession records one submitted analysis job and its outcome.
type AnalysisSession struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrganizationID uint64        `gorm:"not null;index"`           // Owning organization.
	Type           AnalysisType  `gorm:"type:text;not null;index"` // Requested analysis kind.
	Status         SessionStatus `gorm:"type:text;not null;index"` // Current lifecycle state.

	TokensConsumed int64 `gorm:"not null"` // Cost snapshot taken at debit time.

	InputMediaURLs datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Media locations handed to the engine.
	Metadata       datatypes.JSON `gorm:"type:jsonb"`                       // Optional submission metadata.

	ResultPayload datatypes.JSON `gorm:"type:jsonb"` // Engine result (scores, findings, recommendations, confidence).
	ErrorMessage  string         `gorm:"type:text"`  // Terminal failure detail, empty otherwise.

	CreatedAt   time.Time  `gorm:"not null;autoCreateTime"` // Submission timestamp.
	StartedAt   *time.Time // Processing start time, if started.
	CompletedAt *time.Time // Terminal transition time, if reached.
}
