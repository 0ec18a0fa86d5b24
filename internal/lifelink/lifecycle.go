package lifelink

import (
	"errors"
	"time"
)

// RequisitionStatus is the persisted lifecycle state of a requisition.
type RequisitionStatus string

const (
	StatusActive    RequisitionStatus = "ACTIVE"
	StatusFulfilled RequisitionStatus = "FULFILLED"
	StatusExpired   RequisitionStatus = "EXPIRED"
	StatusCancelled RequisitionStatus = "CANCELLED"
)

// UrgencyLevel ranks how quickly a requisition must be served.
type UrgencyLevel string

const (
	UrgencyHigh   UrgencyLevel = "HIGH"
	UrgencyMedium UrgencyLevel = "MEDIUM"
	UrgencyLow    UrgencyLevel = "LOW"
)

// ResponseType is a donor's decision on a requisition.
type ResponseType string

const (
	ResponseWilling      ResponseType = "WILLING"
	ResponseNotAvailable ResponseType = "NOT_AVAILABLE"
	ResponseNotSuitable  ResponseType = "NOT_SUITABLE"
)

const (
	// MaxRequisitionLifetime caps how long a requisition stays open after creation or reuse.
	MaxRequisitionLifetime = 72 * time.Hour
	// UrgentWindow flags requisitions whose deadline is closer than this.
	UrgentWindow = 24 * time.Hour
	// ExpiringWindow flags requisitions about to drop out of discovery.
	ExpiringWindow = 6 * time.Hour
)

var (
	// ErrInvalidTransition is returned for transitions the state machine does not allow.
	ErrInvalidTransition = errors.New("lifelink: invalid status transition")
	// ErrReuseRequiresExpired is returned when REUSE targets a requisition that is not EXPIRED.
	ErrReuseRequiresExpired = errors.New("lifelink: only expired requisitions can be reused")
)

// Valid reports whether s is a known status.
func (s RequisitionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusFulfilled, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no manual transition may leave s.
func (s RequisitionStatus) Terminal() bool {
	return s == StatusFulfilled || s == StatusExpired || s == StatusCancelled
}

// Valid reports whether u is a known urgency level.
func (u UrgencyLevel) Valid() bool {
	switch u {
	case UrgencyHigh, UrgencyMedium, UrgencyLow:
		return true
	}
	return false
}

// Rank orders urgency levels, HIGH first.
func (u UrgencyLevel) Rank() int {
	switch u {
	case UrgencyHigh:
		return 0
	case UrgencyMedium:
		return 1
	default:
		return 2
	}
}

// Valid reports whether r is a known decision.
func (r ResponseType) Valid() bool {
	switch r {
	case ResponseWilling, ResponseNotAvailable, ResponseNotSuitable:
		return true
	}
	return false
}

// ComputeExpiresAt returns min(requiredBy, from+72h).
func ComputeExpiresAt(from, requiredBy time.Time) time.Time {
	limit := from.Add(MaxRequisitionLifetime)
	if requiredBy.Before(limit) {
		return requiredBy
	}
	return limit
}

// IsEffectivelyActive is the derived status every read path uses: a persisted ACTIVE row whose
// expiry has passed is treated as inert.
func IsEffectivelyActive(status RequisitionStatus, expiresAt, now time.Time) bool {
	return status == StatusActive && !now.After(expiresAt)
}

// ValidateTransition checks a manual status change. REUSE is handled by ValidateReuse.
func ValidateTransition(from, to RequisitionStatus) error {
	if !to.Valid() || from == to {
		return ErrInvalidTransition
	}
	if from != StatusActive {
		return ErrInvalidTransition
	}
	if to == StatusActive {
		return ErrInvalidTransition
	}
	return nil
}

// ValidateReuse checks that a requisition may move from EXPIRED back to ACTIVE.
func ValidateReuse(from RequisitionStatus) error {
	if from != StatusExpired {
		return ErrReuseRequiresExpired
	}
	return nil
}

// TimeFlags describes how close a requisition is to its deadline and expiry.
type TimeFlags struct {
	HoursRemaining int  `json:"hours_remaining"`
	IsUrgent       bool `json:"is_urgent"`
	IsExpiring     bool `json:"is_expiring"`
}

// ComputeTimeFlags derives the discovery annotations for a requisition.
func ComputeTimeFlags(requiredBy, expiresAt, now time.Time) TimeFlags {
	remaining := expiresAt.Sub(now)
	hours := 0
	if remaining > 0 {
		hours = int(remaining / time.Hour)
	}
	return TimeFlags{
		HoursRemaining: hours,
		IsUrgent:       requiredBy.Sub(now) < UrgentWindow,
		IsExpiring:     remaining < ExpiringWindow,
	}
}

// ShouldRevealContact requires mutual consent and a WILLING decision.
func ShouldRevealContact(response ResponseType, allowContactReveal, showPhone bool) bool {
	return response == ResponseWilling && allowContactReveal && showPhone
}
