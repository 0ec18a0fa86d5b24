package database

import (
	"gorm.io/gorm"

	"github.com/lifelink/lifelink/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.BloodDonation{},
		&models.BloodRequisition{},
		&models.DonorNotification{},
		&models.DonorResponse{},
		&models.Notification{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}
