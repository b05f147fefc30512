package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/equilens/equilens/internal/models"
	"github.com/equilens/equilens/internal/queue"
	"gorm.io/gorm"
)

// fakeRenderer records rendered formats and can fail on demand.
type fakeRenderer struct {
	err     error
	formats []models.ReportFormat
}

func (r *fakeRenderer) Render(_ context.Context, format models.ReportFormat, analysis *models.AnalysisSession) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.formats = append(r.formats, format)
	return fmt.Sprintf("s3://reports/%d.%s", analysis.ID, format), nil
}

func completedSessionWithReport(t *testing.T, conn *gorm.DB, format models.ReportFormat) (*models.AnalysisSession, *models.Report) {
	t.Helper()
	record := &models.AnalysisSession{
		OrganizationID: 1,
		Type:           models.AnalysisTypeRadiological,
		Status:         models.SessionStatusCompleted,
		TokensConsumed: 25,
	}
	if errCreate := conn.Create(record).Error; errCreate != nil {
		t.Fatalf("create session: %v", errCreate)
	}
	report := &models.Report{
		AnalysisSessionID: record.ID,
		OrganizationID:    1,
		Format:            format,
		Status:            models.ReportStatusQueued,
	}
	if errCreate := conn.Create(report).Error; errCreate != nil {
		t.Fatalf("create report: %v", errCreate)
	}
	return record, report
}

func reportJob(report *models.Report, attempt int) *queue.Job[queue.ReportJob] {
	return &queue.Job[queue.ReportJob]{
		Payload: queue.ReportJob{
			ReportID:          report.ID,
			AnalysisSessionID: report.AnalysisSessionID,
			OrganizationID:    report.OrganizationID,
			Format:            report.Format,
		},
		Attempt: attempt,
	}
}

func TestReportProcessorRendersBothArtifacts(t *testing.T) {
	store, _, conn := newProcessorFixture(t)
	ctx := context.Background()
	_, report := completedSessionWithReport(t, conn, models.ReportFormatBoth)

	renderer := &fakeRenderer{}
	proc := NewReportProcessor(conn, store, renderer, 3)

	if errHandle := proc.Handle(ctx, reportJob(report, 1)); errHandle != nil {
		t.Fatalf("handle: %v", errHandle)
	}

	var loaded models.Report
	if errFind := conn.Take(&loaded, report.ID).Error; errFind != nil {
		t.Fatalf("load report: %v", errFind)
	}
	if loaded.Status != models.ReportStatusPendingReview {
		t.Fatalf("status = %s, want pending_review", loaded.Status)
	}
	if loaded.HTMLArtifact == "" || loaded.PDFArtifact == "" {
		t.Fatalf("both artifacts expected, got html=%q pdf=%q", loaded.HTMLArtifact, loaded.PDFArtifact)
	}
	if len(renderer.formats) != 2 {
		t.Fatalf("renderer ran %d times, want 2", len(renderer.formats))
	}
}

func TestReportProcessorHTMLOnly(t *testing.T) {
	store, _, conn := newProcessorFixture(t)
	ctx := context.Background()
	_, report := completedSessionWithReport(t, conn, models.ReportFormatHTML)

	renderer := &fakeRenderer{}
	proc := NewReportProcessor(conn, store, renderer, 3)

	if errHandle := proc.Handle(ctx, reportJob(report, 1)); errHandle != nil {
		t.Fatalf("handle: %v", errHandle)
	}

	var loaded models.Report
	if errFind := conn.Take(&loaded, report.ID).Error; errFind != nil {
		t.Fatalf("load report: %v", errFind)
	}
	if loaded.HTMLArtifact == "" || loaded.PDFArtifact != "" {
		t.Fatalf("expected html artifact only, got html=%q pdf=%q", loaded.HTMLArtifact, loaded.PDFArtifact)
	}
}

func TestReportProcessorFinalFailureMarksReportFailed(t *testing.T) {
	store, _, conn := newProcessorFixture(t)
	ctx := context.Background()
	_, report := completedSessionWithReport(t, conn, models.ReportFormatPDF)

	renderer := &fakeRenderer{err: errors.New("renderer down")}
	proc := NewReportProcessor(conn, store, renderer, 3)

	// Non-final attempt: retryable error, status not terminal.
	if errHandle := proc.Handle(ctx, reportJob(report, 1)); errHandle == nil {
		t.Fatalf("expected render error")
	}
	var loaded models.Report
	if errFind := conn.Take(&loaded, report.ID).Error; errFind != nil {
		t.Fatalf("load report: %v", errFind)
	}
	if loaded.Status == models.ReportStatusFailed {
		t.Fatalf("report failed before attempts were exhausted")
	}

	// Final attempt: report parked as failed.
	if errHandle := proc.Handle(ctx, reportJob(report, 3)); errHandle == nil {
		t.Fatalf("expected render error")
	}
	if errFind := conn.Take(&loaded, report.ID).Error; errFind != nil {
		t.Fatalf("load report: %v", errFind)
	}
	if loaded.Status != models.ReportStatusFailed {
		t.Fatalf("status = %s, want failed", loaded.Status)
	}
}

func TestReportProcessorMissingSessionIsFatal(t *testing.T) {
	store, _, conn := newProcessorFixture(t)
	ctx := context.Background()

	report := &models.Report{
		AnalysisSessionID: 4242,
		OrganizationID:    1,
		Format:            models.ReportFormatHTML,
		Status:            models.ReportStatusQueued,
	}
	if errCreate := conn.Create(report).Error; errCreate != nil {
		t.Fatalf("create report: %v", errCreate)
	}

	proc := NewReportProcessor(conn, store, &fakeRenderer{}, 3)
	errHandle := proc.Handle(ctx, reportJob(report, 1))
	if !queue.IsFatal(errHandle) {
		t.Fatalf("expected fatal error for missing session, got %v", errHandle)
	}

	var loaded models.Report
	if errFind := conn.Take(&loaded, report.ID).Error; errFind != nil {
		t.Fatalf("load report: %v", errFind)
	}
	if loaded.Status != models.ReportStatusFailed {
		t.Fatalf("orphaned report status = %s, want failed", loaded.Status)
	}
}

func TestReportProcessorMissingReportIsNoop(t *testing.T) {
	store, _, conn := newProcessorFixture(t)
	proc := NewReportProcessor(conn, store, &fakeRenderer{}, 3)

	job := &queue.Job[queue.ReportJob]{
		Payload: queue.ReportJob{ReportID: 777, AnalysisSessionID: 1, Format: models.ReportFormatHTML},
		Attempt: 1,
	}
	if errHandle := proc.Handle(context.Background(), job); errHandle != nil {
		t.Fatalf("missing report must be dropped, got %v", errHandle)
	}
}
