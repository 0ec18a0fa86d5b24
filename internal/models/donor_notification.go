package models

import "time"

// Donor notification delivery states.
const (
	DonorNotificationSent      = "SENT"
	DonorNotificationDelivered = "DELIVERED"
	DonorNotificationFailed    = "FAILED"
	DonorNotificationRead      = "READ"
)

// DonorNotification records that a donor was asked to help with a requisition. The composite
// unique index keeps it to one row per (donor, requisition).
type DonorNotification struct {
	BaseModel

	DonorID       string            `gorm:"type:uuid;not null;uniqueIndex:ux_donor_notification,priority:1" json:"donor_id"`
	RequisitionID string            `gorm:"type:uuid;not null;uniqueIndex:ux_donor_notification,priority:2;index" json:"requisition_id"`
	Requisition   *BloodRequisition `gorm:"foreignKey:RequisitionID" json:"requisition,omitempty"`

	Title   string     `gorm:"type:varchar(255);not null" json:"title"`
	Message string     `gorm:"type:text" json:"message"`
	Status  string     `gorm:"type:varchar(16);not null;default:'SENT'" json:"status"`
	ReadAt  *time.Time `json:"read_at"`
}

// TableName implements the GORM tabler interface.
func (DonorNotification) TableName() string { return "donor_notifications" }
