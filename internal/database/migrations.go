package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/accessd/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.PasswordResetToken{},
		&models.RateCounter{},
	)
}
