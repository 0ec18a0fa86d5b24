package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog is one compliance record of a mutating action.
type AuditLog struct {
	ID         string    `gorm:"primaryKey;type:uuid" json:"id"`
	ActorID    *string   `gorm:"type:uuid;index" json:"actor_id"`
	Action     string    `gorm:"not null;index" json:"action"`
	Resource   string    `gorm:"index" json:"resource"`
	ResourceID string    `gorm:"type:varchar(64);index" json:"resource_id"`
	Result     string    `gorm:"not null" json:"result"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	Metadata   string    `gorm:"type:json" json:"metadata"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
