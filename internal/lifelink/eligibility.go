package lifelink

import (
	"fmt"
	"math"
	"time"
)

// DonationCooldown is the minimum gap between two whole-blood donations.
const DonationCooldown = 90 * 24 * time.Hour

// Eligibility describes whether a donor may donate right now.
type Eligibility struct {
	IsEligible       bool       `json:"is_eligible"`
	NextEligibleDate *time.Time `json:"next_eligible_date"`
	DaysRemaining    int        `json:"days_remaining"`
	Message          string     `json:"message"`
}

// CheckEligibility evaluates the cooldown against now. It must be called on every read since the
// answer changes with elapsed time alone.
func CheckEligibility(lastDonation *time.Time, now time.Time) Eligibility {
	if lastDonation == nil || lastDonation.IsZero() {
		return Eligibility{
			IsEligible: true,
			Message:    "You are eligible to donate blood",
		}
	}

	next := lastDonation.Add(DonationCooldown)
	remaining := next.Sub(now)

	days := 0
	if remaining > 0 {
		days = int(math.Ceil(remaining.Hours() / 24))
	}

	if remaining <= 0 {
		return Eligibility{
			IsEligible:       true,
			NextEligibleDate: &next,
			Message:          "You are eligible to donate blood",
		}
	}

	unit := "days"
	if days == 1 {
		unit = "day"
	}
	return Eligibility{
		IsEligible:       false,
		NextEligibleDate: &next,
		DaysRemaining:    days,
		Message:          fmt.Sprintf("You can donate again in %d %s", days, unit),
	}
}
