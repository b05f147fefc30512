package db

import (
	"fmt"

	"github.com/equilens/equilens/internal/models"
	"gorm.io/gorm"
)

// Migrate applies schema migrations for all core tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.TokenAccount{},
		&models.TokenTransaction{},
		&models.AnalysisSession{},
		&models.Report{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
