package models

import "time"

// BloodDonation is an append-only record of a completed donation.
type BloodDonation struct {
	BaseModel

	DonorID      string    `gorm:"type:uuid;not null;index" json:"donor_id"`
	Donor        *User     `gorm:"foreignKey:DonorID" json:"-"`
	DonationDate time.Time `gorm:"not null;index" json:"donation_date"`
	Location     string    `gorm:"type:varchar(255);not null" json:"location"`
	Units        int       `gorm:"not null;default:1" json:"units"`
	Notes        string    `gorm:"type:text" json:"notes"`
}

// TableName implements the GORM tabler interface.
func (BloodDonation) TableName() string { return "blood_donations" }
