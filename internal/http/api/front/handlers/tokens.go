package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/equilens/equilens/internal/ledger"
	"github.com/gin-gonic/gin"
)

// TokenHandler exposes the organization token account surface.
type TokenHandler struct {
	tokens *ledger.Service
}

// NewTokenHandler constructs a TokenHandler.
func NewTokenHandler(tokens *ledger.Service) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

// Balance returns the current token balance.
func (h *TokenHandler) Balance(c *gin.Context) {
	organizationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	balance, errBalance := h.tokens.Balance(c.Request.Context(), organizationID)
	if errBalance != nil {
		respondLedgerError(c, errBalance)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization_id": organizationID, "balance": balance})
}

// transactionDTO defines the ledger entry response payload.
type transactionDTO struct {
	ID          uint64    `json:"id"`
	Amount      int64     `json:"amount"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Transactions lists ledger entries, newest first.
func (h *TokenHandler) Transactions(c *gin.Context) {
	organizationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, errList := h.tokens.Transactions(c.Request.Context(), organizationID, limit)
	if errList != nil {
		respondLedgerError(c, errList)
		return
	}
	out := make([]transactionDTO, 0, len(entries))
	for _, entry := range entries {
		out = append(out, transactionDTO{
			ID:          entry.ID,
			Amount:      entry.Amount,
			Kind:        string(entry.Kind),
			Description: entry.Description,
			CreatedAt:   entry.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

// creditRequest defines the billing credit ingest body.
type creditRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

// Credit records a token purchase reported by the billing collaborator.
func (h *TokenHandler) Credit(c *gin.Context) {
	organizationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var body creditRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}

	description := strings.TrimSpace(body.Description)
	if description == "" {
		description = "token purchase"
	}
	if errEnsure := h.tokens.EnsureAccount(c.Request.Context(), organizationID); errEnsure != nil {
		respondLedgerError(c, errEnsure)
		return
	}
	entry, errCredit := h.tokens.Credit(c.Request.Context(), organizationID, body.Amount, description,
		map[string]any{"reference": body.Reference})
	if errCredit != nil {
		respondLedgerError(c, errCredit)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction_id": entry.ID, "amount": entry.Amount})
}

// respondLedgerError maps ledger errors onto HTTP statuses.
func respondLedgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
