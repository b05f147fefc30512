package handlers

import (
	"net/http"
	"time"

	"github.com/equilens/equilens/internal/models"
	"github.com/equilens/equilens/internal/queue"
	"github.com/equilens/equilens/internal/session"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ReportHandler creates report records and feeds the report lane.
type ReportHandler struct {
	db       *gorm.DB
	sessions *session.Store
	lane     *queue.Lane[queue.ReportJob]
}

// NewReportHandler constructs a ReportHandler.
func NewReportHandler(db *gorm.DB, sessions *session.Store, lane *queue.Lane[queue.ReportJob]) *ReportHandler {
	return &ReportHandler{db: db, sessions: sessions, lane: lane}
}

// createReportRequest defines the report creation body.
type createReportRequest struct {
	Format string `json:"type"`
}

// Create queues report rendering for a completed analysis session.
func (h *ReportHandler) Create(c *gin.Context) {
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body createReportRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	format := models.ReportFormat(body.Format)
	if format != models.ReportFormatHTML && format != models.ReportFormatPDF && format != models.ReportFormatBoth {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be html, pdf or both"})
		return
	}

	analysis, errGet := h.sessions.Get(c.Request.Context(), sessionID)
	if errGet != nil {
		respondSessionError(c, errGet)
		return
	}
	if analysis.Status != models.SessionStatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "analysis is not completed"})
		return
	}

	report := models.Report{
		AnalysisSessionID: analysis.ID,
		OrganizationID:    analysis.OrganizationID,
		Format:            format,
		Status:            models.ReportStatusQueued,
		CreatedAt:         time.Now().UTC(),
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&report).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create report failed"})
		return
	}

	job := queue.ReportJob{
		ReportID:          report.ID,
		AnalysisSessionID: analysis.ID,
		OrganizationID:    analysis.OrganizationID,
		Format:            format,
	}
	if _, errEnqueue := h.lane.Enqueue(job, queue.PriorityDefault, ""); errEnqueue != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue report failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"report_id": report.ID,
		"status":    report.Status,
	})
}
