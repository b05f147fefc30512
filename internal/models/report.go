package models

import "time"

// ReportFormat selects which artifacts a report job renders.
type ReportFormat string

// ReportFormat constants define the renderable artifact sets.
const (
	ReportFormatHTML ReportFormat = "html"
	ReportFormatPDF  ReportFormat = "pdf"
	ReportFormatBoth ReportFormat = "both"
)

// ReportStatus tracks a report through rendering.
type ReportStatus string

// ReportStatus constants define the report lifecycle states.
const (
	ReportStatusQueued        ReportStatus = "queued"
	ReportStatusRendering     ReportStatus = "rendering"
	ReportStatusPendingReview ReportStatus = "pending_review"
	ReportStatusFailed        ReportStatus = "failed"
)

// Report records a rendered document derived from a completed analysis session.
type Report struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AnalysisSessionID uint64 `gorm:"not null;index"` // Source analysis session.
	OrganizationID    uint64 `gorm:"not null;index"` // Owning organization.

	Format ReportFormat `gorm:"type:text;not null"`       // Requested artifact set.
	Status ReportStatus `gorm:"type:text;not null;index"` // Rendering state.

	HTMLArtifact string `gorm:"type:text"` // Stored HTML artifact location, if rendered.
	PDFArtifact  string `gorm:"type:text"` // Stored PDF artifact location, if rendered.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
