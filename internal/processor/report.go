package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/equilens/equilens/internal/models"
	"github.com/equilens/equilens/internal/queue"
	"github.com/equilens/equilens/internal/session"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReportProcessor renders analysis reports via the external renderer and
// parks them for review.
type ReportProcessor struct {
	db          *gorm.DB
	sessions    *session.Store
	renderer    ReportRenderer
	maxAttempts int
}

// NewReportProcessor constructs a ReportProcessor. maxAttempts must match
// the report lane's attempt ceiling.
func NewReportProcessor(db *gorm.DB, sessions *session.Store, renderer ReportRenderer, maxAttempts int) *ReportProcessor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &ReportProcessor{db: db, sessions: sessions, renderer: renderer, maxAttempts: maxAttempts}
}

// Handle renders the requested artifacts for one report job.
func (p *ReportProcessor) Handle(ctx context.Context, job *queue.Job[queue.ReportJob]) error {
	payload := job.Payload

	var report models.Report
	if errFind := p.db.WithContext(ctx).Take(&report, payload.ReportID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			// Report deleted while queued; nothing to render.
			return nil
		}
		return fmt.Errorf("report %d: query: %w", payload.ReportID, errFind)
	}

	analysis, errGet := p.sessions.Get(ctx, payload.AnalysisSessionID)
	if errGet != nil {
		if errors.Is(errGet, session.ErrNotFound) {
			p.setStatus(ctx, report.ID, models.ReportStatusFailed)
			return queue.Fatal(fmt.Errorf("report %d: analysis session %d gone", payload.ReportID, payload.AnalysisSessionID))
		}
		return errGet
	}

	p.setStatus(ctx, report.ID, models.ReportStatusRendering)
	job.SetProgress(10)

	updates := map[string]any{
		"status":     models.ReportStatusPendingReview,
		"updated_at": time.Now().UTC(),
	}

	if payload.Format == models.ReportFormatHTML || payload.Format == models.ReportFormatBoth {
		artifact, errRender := p.renderer.Render(ctx, models.ReportFormatHTML, analysis)
		if errRender != nil {
			return p.renderFailed(ctx, report.ID, job.Attempt, fmt.Errorf("report %d: render html: %w", report.ID, errRender))
		}
		updates["html_artifact"] = artifact
		job.SetProgress(50)
	}
	if payload.Format == models.ReportFormatPDF || payload.Format == models.ReportFormatBoth {
		artifact, errRender := p.renderer.Render(ctx, models.ReportFormatPDF, analysis)
		if errRender != nil {
			return p.renderFailed(ctx, report.ID, job.Attempt, fmt.Errorf("report %d: render pdf: %w", report.ID, errRender))
		}
		updates["pdf_artifact"] = artifact
		job.SetProgress(90)
	}

	if errUpdate := p.db.WithContext(ctx).
		Model(&models.Report{}).
		Where("id = ?", report.ID).
		Updates(updates).Error; errUpdate != nil {
		return p.renderFailed(ctx, report.ID, job.Attempt, fmt.Errorf("report %d: store artifacts: %w", report.ID, errUpdate))
	}
	return nil
}

// renderFailed marks the report failed once attempts are exhausted and
// returns the retryable error otherwise.
func (p *ReportProcessor) renderFailed(ctx context.Context, reportID uint64, attempt int, cause error) error {
	if attempt >= p.maxAttempts {
		p.setStatus(ctx, reportID, models.ReportStatusFailed)
	}
	return cause
}

// setStatus updates a report's rendering state.
func (p *ReportProcessor) setStatus(ctx context.Context, reportID uint64, status models.ReportStatus) {
	if errUpdate := p.db.WithContext(ctx).
		Model(&models.Report{}).
		Where("id = ?", reportID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error; errUpdate != nil {
		log.WithError(errUpdate).Warnf("report %d: set status %s", reportID, status)
	}
}
