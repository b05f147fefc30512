package models

import "time"

// TokenAccount holds the prepaid token balance for an organization.
type TokenAccount struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrganizationID uint64 `gorm:"not null;uniqueIndex"`   // Owning organization.
	Balance        int64  `gorm:"not null;default:0"`     // Current token balance.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
