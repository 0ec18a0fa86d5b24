package models

import (
	"time"

	"github.com/lifelink/lifelink/internal/lifelink"
)

// User is the directory record for a platform member. The engine only reads it, except for the
// blood profile fields a donor edits and the counters a logged donation bumps.
type User struct {
	BaseModel

	FullName string `gorm:"type:varchar(255);not null" json:"full_name"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Phone    string `gorm:"type:varchar(32)" json:"-"`

	IsActive bool `gorm:"not null;index" json:"is_active"`
	IsAdmin  bool `gorm:"not null" json:"is_admin"`

	IsBloodDonor     bool                 `gorm:"not null;index" json:"is_blood_donor"`
	BloodGroup       *lifelink.BloodGroup `gorm:"type:varchar(4);index" json:"blood_group"`
	LastDonationDate *time.Time           `json:"last_donation_date"`
	TotalDonations   int                  `gorm:"not null;default:0" json:"total_donations"`
	ShowPhone        bool                 `gorm:"not null" json:"show_phone"`

	City  string `gorm:"type:varchar(128);index" json:"city"`
	State string `gorm:"type:varchar(128);index" json:"state"`

	LastActiveAt *time.Time `json:"last_active_at"`
}

// Location renders the coarse "city, state" label.
func (u User) Location() string {
	switch {
	case u.City != "" && u.State != "":
		return u.City + ", " + u.State
	case u.City != "":
		return u.City
	default:
		return u.State
	}
}
