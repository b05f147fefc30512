package models

import (
	"time"

	"gorm.io/datatypes"
)

// TransactionKind distinguishes token movements.
type TransactionKind string

// TransactionKind constants define ledger entry directions.
const (
	// TransactionKindDebit removes tokens from an account.
	TransactionKindDebit TransactionKind = "debit"
	// TransactionKindCredit adds tokens to an account.
	TransactionKindCredit TransactionKind = "credit"
)

// TokenTransaction is one immutable ledger entry against an organization balance.
// The account balance equals the running sum of Amount over all entries.
type TokenTransaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrganizationID uint64          `gorm:"not null;index"`           // Owning organization.
	Amount         int64           `gorm:"not null"`                 // Signed token movement; negative for debits.
	Kind           TransactionKind `gorm:"type:text;not null;index"` // Entry direction.
	Description    string          `gorm:"type:text;not null"`       // Human-readable reason.

	Source datatypes.JSON `gorm:"type:jsonb"` // Source metadata (session id, billing event, ...).

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
