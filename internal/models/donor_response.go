package models

import (
	"time"

	"github.com/lifelink/lifelink/internal/lifelink"
)

// DonorResponse is a donor's single decision on a requisition. The composite unique index is the
// only guard against duplicates; services never check before inserting.
type DonorResponse struct {
	BaseModel

	DonorID        string  `gorm:"type:uuid;not null;uniqueIndex:ux_donor_response,priority:1" json:"donor_id"`
	Donor          *User   `gorm:"foreignKey:DonorID" json:"-"`
	RequisitionID  string  `gorm:"type:uuid;not null;uniqueIndex:ux_donor_response,priority:2;index" json:"requisition_id"`
	NotificationID *string `gorm:"type:uuid" json:"notification_id,omitempty"`

	Response          lifelink.ResponseType `gorm:"type:varchar(16);not null;index" json:"response"`
	Message           string                `gorm:"type:text" json:"message,omitempty"`
	RespondedAt       time.Time             `gorm:"not null" json:"responded_at"`
	ContactPhone      *string               `gorm:"type:varchar(32)" json:"contact_phone"`
	IsContactRevealed bool                  `gorm:"not null" json:"is_contact_revealed"`
}

// TableName implements the GORM tabler interface.
func (DonorResponse) TableName() string { return "donor_responses" }
