package models

import (
	"time"

	"github.com/lifelink/lifelink/internal/lifelink"
)

// BloodRequisition is an urgent request for blood raised by a seeker on behalf of a patient.
type BloodRequisition struct {
	BaseModel

	ReferenceCode string `gorm:"type:varchar(16);uniqueIndex;not null" json:"reference_code"`
	RequesterID   string `gorm:"type:uuid;not null;index" json:"requester_id"`
	Requester     *User  `gorm:"foreignKey:RequesterID" json:"-"`

	PatientName     string `gorm:"type:varchar(255);not null" json:"patient_name"`
	HospitalName    string `gorm:"type:varchar(255);not null" json:"hospital_name"`
	ContactNumber   string `gorm:"type:varchar(32);not null" json:"contact_number"`
	AlternateNumber string `gorm:"type:varchar(32)" json:"alternate_number,omitempty"`

	RequiredBloodGroup lifelink.BloodGroup   `gorm:"type:varchar(4);not null;index" json:"required_blood_group"`
	UnitsNeeded        int                   `gorm:"not null;default:1" json:"units_needed"`
	UrgencyLevel       lifelink.UrgencyLevel `gorm:"type:varchar(8);not null" json:"urgency_level"`
	MedicalCondition   string                `gorm:"type:text" json:"medical_condition,omitempty"`
	Location           string                `gorm:"type:varchar(255);not null" json:"location"`
	AdditionalNotes    string                `gorm:"type:text" json:"additional_notes,omitempty"`

	RequiredByDate     time.Time                  `gorm:"not null" json:"required_by_date"`
	ExpiresAt          time.Time                  `gorm:"not null;index" json:"expires_at"`
	AllowContactReveal bool                       `gorm:"not null" json:"allow_contact_reveal"`
	Status             lifelink.RequisitionStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	ReuseCount         int                        `gorm:"not null;default:0" json:"reuse_count"`
}

// TableName implements the GORM tabler interface.
func (BloodRequisition) TableName() string { return "blood_requisitions" }

// EffectivelyActive applies the derived-status rule at the supplied instant.
func (r *BloodRequisition) EffectivelyActive(now time.Time) bool {
	return lifelink.IsEffectivelyActive(r.Status, r.ExpiresAt, now)
}
