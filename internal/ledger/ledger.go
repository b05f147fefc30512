// Package ledger maintains the append-only token transaction log and the
// derived per-organization balance. Every mutation writes exactly one
// immutable TokenTransaction row and adjusts the cached balance inside the
// same database transaction, with the account row locked for update.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	dbutil "github.com/equilens/equilens/internal/db"
	"github.com/equilens/equilens/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInsufficientBalance is returned when a debit exceeds the account balance.
var ErrInsufficientBalance = errors.New("ledger: insufficient balance")

// ErrAccountNotFound is returned when no account exists for the organization.
var ErrAccountNotFound = errors.New("ledger: account not found")

// Service performs ledger operations against a GORM-backed store.
type Service struct {
	db *gorm.DB
}

// NewService constructs a ledger Service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// EnsureAccount creates the token account for an organization if missing.
func (s *Service) EnsureAccount(ctx context.Context, organizationID uint64) error {
	account := models.TokenAccount{OrganizationID: organizationID}
	errCreate := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&account).Error
	if errCreate != nil {
		return fmt.Errorf("ledger: ensure account: %w", errCreate)
	}
	return nil
}

// Balance returns the current token balance for an organization.
func (s *Service) Balance(ctx context.Context, organizationID uint64) (int64, error) {
	var account models.TokenAccount
	errFind := s.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Take(&account).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("ledger: query balance: %w", errFind)
	}
	return account.Balance, nil
}

// Debit atomically checks affordability and withdraws tokens. The account row
// is locked for the duration of the transaction so concurrent debits against
// the same organization serialize; the balance never goes negative.
func (s *Service) Debit(ctx context.Context, organizationID uint64, amount int64, description string, source map[string]any) (*models.TokenTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("ledger: invalid debit amount %d", amount)
	}
	return s.append(ctx, organizationID, -amount, models.TransactionKindDebit, description, source)
}

// Credit deposits tokens; it fails only on storage errors.
func (s *Service) Credit(ctx context.Context, organizationID uint64, amount int64, description string, source map[string]any) (*models.TokenTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("ledger: invalid credit amount %d", amount)
	}
	return s.append(ctx, organizationID, amount, models.TransactionKindCredit, description, source)
}

// DebitTx runs a debit inside an existing transaction. Callers use this to
// make the debit atomic with their own writes (session creation, retry reset).
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, organizationID uint64, amount int64, description string, source map[string]any) (*models.TokenTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("ledger: invalid debit amount %d", amount)
	}
	return appendEntry(ctx, tx, organizationID, -amount, models.TransactionKindDebit, description, source)
}

// CreditTx runs a credit inside an existing transaction.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, organizationID uint64, amount int64, description string, source map[string]any) (*models.TokenTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("ledger: invalid credit amount %d", amount)
	}
	return appendEntry(ctx, tx, organizationID, amount, models.TransactionKindCredit, description, source)
}

// Transactions lists ledger entries for an organization, newest first.
func (s *Service) Transactions(ctx context.Context, organizationID uint64, limit int) ([]models.TokenTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.TokenTransaction
	errFind := s.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if errFind != nil {
		return nil, fmt.Errorf("ledger: list transactions: %w", errFind)
	}
	return entries, nil
}

// append wraps appendEntry in its own transaction.
func (s *Service) append(ctx context.Context, organizationID uint64, amount int64, kind models.TransactionKind, description string, source map[string]any) (*models.TokenTransaction, error) {
	var entry *models.TokenTransaction
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, errAppend := appendEntry(ctx, tx, organizationID, amount, kind, description, source)
		if errAppend != nil {
			return errAppend
		}
		entry = created
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return entry, nil
}

// appendEntry locks the account row, validates debits against the balance,
// writes the immutable entry and updates the cached balance.
func appendEntry(ctx context.Context, tx *gorm.DB, organizationID uint64, amount int64, kind models.TransactionKind, description string, source map[string]any) (*models.TokenTransaction, error) {
	// SQLite serializes writers on its own and rejects FOR UPDATE.
	query := tx.WithContext(ctx)
	if !dbutil.IsSQLite(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var account models.TokenAccount
	if errFind := query.
		Where("organization_id = ?", organizationID).
		First(&account).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("ledger: lock account: %w", errFind)
	}

	newBalance := account.Balance + amount
	if newBalance < 0 {
		return nil, ErrInsufficientBalance
	}

	entry := models.TokenTransaction{
		OrganizationID: organizationID,
		Amount:         amount,
		Kind:           kind,
		Description:    description,
		Source:         marshalSource(source),
		CreatedAt:      time.Now().UTC(),
	}
	if errCreate := tx.WithContext(ctx).Create(&entry).Error; errCreate != nil {
		return nil, fmt.Errorf("ledger: append entry: %w", errCreate)
	}

	if errUpdate := tx.WithContext(ctx).
		Model(&models.TokenAccount{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"balance":    newBalance,
			"updated_at": time.Now().UTC(),
		}).Error; errUpdate != nil {
		return nil, fmt.Errorf("ledger: update balance: %w", errUpdate)
	}

	return &entry, nil
}

// marshalSource serializes source metadata into a JSON column value.
func marshalSource(source map[string]any) datatypes.JSON {
	if len(source) == 0 {
		return nil
	}
	raw, errMarshal := json.Marshal(source)
	if errMarshal != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
