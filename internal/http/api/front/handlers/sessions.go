package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/equilens/equilens/internal/models"
	"github.com/equilens/equilens/internal/session"
	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

// SessionHandler exposes analysis session lifecycle endpoints.
type SessionHandler struct {
	sessions *session.Store
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(sessions *session.Store) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// submitRequest defines the session submission body.
type submitRequest struct {
	OrganizationID uint64         `json:"organization_id"`
	Type           string         `json:"type"`
	InputMediaURLs []string       `json:"input_media_urls"`
	Metadata       map[string]any `json:"metadata"`
}

// sessionDTO defines the session response payload.
type sessionDTO struct {
	ID             uint64         `json:"id"`
	OrganizationID uint64         `json:"organization_id"`
	Type           string         `json:"type"`
	Status         string         `json:"status"`
	TokensConsumed int64          `json:"tokens_consumed"`
	InputMediaURLs datatypes.JSON `json:"input_media_urls"`
	ResultPayload  datatypes.JSON `json:"result_payload,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// toSessionDTO maps a session record into its response payload.
func toSessionDTO(record *models.AnalysisSession) sessionDTO {
	return sessionDTO{
		ID:             record.ID,
		OrganizationID: record.OrganizationID,
		Type:           string(record.Type),
		Status:         string(record.Status),
		TokensConsumed: record.TokensConsumed,
		InputMediaURLs: record.InputMediaURLs,
		ResultPayload:  record.ResultPayload,
		ErrorMessage:   record.ErrorMessage,
		CreatedAt:      record.CreatedAt,
		StartedAt:      record.StartedAt,
		CompletedAt:    record.CompletedAt,
	}
}

// Submit creates a session, debiting the organization balance.
func (h *SessionHandler) Submit(c *gin.Context) {
	var body submitRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.OrganizationID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organization_id is required"})
		return
	}

	created, errSubmit := h.sessions.Submit(c.Request.Context(), body.OrganizationID, models.AnalysisType(body.Type), body.InputMediaURLs, body.Metadata)
	if errSubmit != nil {
		respondSessionError(c, errSubmit)
		return
	}
	c.JSON(http.StatusCreated, toSessionDTO(created))
}

// Get returns one session.
func (h *SessionHandler) Get(c *gin.Context) {
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	record, errGet := h.sessions.Get(c.Request.Context(), sessionID)
	if errGet != nil {
		respondSessionError(c, errGet)
		return
	}
	c.JSON(http.StatusOK, toSessionDTO(record))
}

// List returns sessions for an organization.
func (h *SessionHandler) List(c *gin.Context) {
	organizationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	records, errList := h.sessions.ListByOrganization(c.Request.Context(), organizationID, limit)
	if errList != nil {
		respondSessionError(c, errList)
		return
	}
	out := make([]sessionDTO, 0, len(records))
	for i := range records {
		out = append(out, toSessionDTO(&records[i]))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// Cancel cancels a pending or processing session.
func (h *SessionHandler) Cancel(c *gin.Context) {
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	record, errCancel := h.sessions.Cancel(c.Request.Context(), sessionID)
	if errCancel != nil {
		respondSessionError(c, errCancel)
		return
	}
	c.JSON(http.StatusOK, toSessionDTO(record))
}

// Retry re-submits a failed session at current pricing.
func (h *SessionHandler) Retry(c *gin.Context) {
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	record, errRetry := h.sessions.Retry(c.Request.Context(), sessionID)
	if errRetry != nil {
		respondSessionError(c, errRetry)
		return
	}
	c.JSON(http.StatusOK, toSessionDTO(record))
}

// Delete removes a session, refunding it when still pending.
func (h *SessionHandler) Delete(c *gin.Context) {
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if errDelete := h.sessions.Delete(c.Request.Context(), sessionID); errDelete != nil {
		respondSessionError(c, errDelete)
		return
	}
	c.Status(http.StatusNoContent)
}

// respondSessionError maps taxonomy errors onto HTTP statuses.
func respondSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, session.ErrInsufficientTokens):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient tokens"})
	case errors.Is(err, session.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid transition"})
	case errors.Is(err, session.ErrUnknownAnalysisType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown analysis type"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// pathID parses a numeric path parameter, replying 400 when malformed.
func pathID(c *gin.Context, name string) (uint64, bool) {
	parsed, errParse := strconv.ParseUint(c.Param(name), 10, 64)
	if errParse != nil || parsed == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return parsed, true
}
