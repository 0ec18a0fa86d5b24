package lifelink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckEligibilityWithoutHistory(t *testing.T) {
	result := CheckEligibility(nil, time.Now())
	require.True(t, result.IsEligible)
	require.Nil(t, result.NextEligibleDate)
	require.Zero(t, result.DaysRemaining)
}

func TestCheckEligibilityBoundaries(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	last89 := now.AddDate(0, 0, -89)
	result := CheckEligibility(&last89, now)
	require.False(t, result.IsEligible)
	require.Equal(t, 1, result.DaysRemaining)
	require.Equal(t, "You can donate again in 1 day", result.Message)
	require.Equal(t, last89.Add(DonationCooldown), *result.NextEligibleDate)

	last90 := now.AddDate(0, 0, -90)
	result = CheckEligibility(&last90, now)
	require.True(t, result.IsEligible)
	require.Zero(t, result.DaysRemaining)
	require.NotNil(t, result.NextEligibleDate)
}

func TestCheckEligibilityRoundsDaysUp(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-DonationCooldown + 30*time.Hour)

	result := CheckEligibility(&last, now)
	require.False(t, result.IsEligible)
	require.Equal(t, 2, result.DaysRemaining)
	require.Equal(t, "You can donate again in 2 days", result.Message)
}

func TestCheckEligibilityJustDonated(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	result := CheckEligibility(&now, now)
	require.False(t, result.IsEligible)
	require.Equal(t, 90, result.DaysRemaining)
}
