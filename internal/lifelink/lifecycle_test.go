package lifelink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeExpiresAtBounds(t *testing.T) {
	created := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	cases := []time.Duration{time.Hour, 24 * time.Hour, 72 * time.Hour, 96 * time.Hour, 30 * 24 * time.Hour}
	for _, offset := range cases {
		requiredBy := created.Add(offset)
		expires := ComputeExpiresAt(created, requiredBy)
		require.False(t, expires.After(requiredBy), "offset %s", offset)
		require.False(t, expires.After(created.Add(MaxRequisitionLifetime)), "offset %s", offset)
	}

	require.Equal(t, created.Add(time.Hour), ComputeExpiresAt(created, created.Add(time.Hour)))
	require.Equal(t, created.Add(72*time.Hour), ComputeExpiresAt(created, created.Add(10*24*time.Hour)))
}

func TestIsEffectivelyActive(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	require.True(t, IsEffectivelyActive(StatusActive, now.Add(time.Minute), now))
	require.True(t, IsEffectivelyActive(StatusActive, now, now))
	require.False(t, IsEffectivelyActive(StatusActive, now.Add(-time.Second), now))
	require.False(t, IsEffectivelyActive(StatusFulfilled, now.Add(time.Hour), now))
}

func TestValidateTransition(t *testing.T) {
	require.NoError(t, ValidateTransition(StatusActive, StatusFulfilled))
	require.NoError(t, ValidateTransition(StatusActive, StatusCancelled))
	require.NoError(t, ValidateTransition(StatusActive, StatusExpired))

	require.ErrorIs(t, ValidateTransition(StatusActive, StatusActive), ErrInvalidTransition)
	require.ErrorIs(t, ValidateTransition(StatusCancelled, StatusFulfilled), ErrInvalidTransition)
	require.ErrorIs(t, ValidateTransition(StatusExpired, StatusActive), ErrInvalidTransition)
	require.ErrorIs(t, ValidateTransition(StatusActive, RequisitionStatus("DONE")), ErrInvalidTransition)
}

func TestValidateReuse(t *testing.T) {
	require.NoError(t, ValidateReuse(StatusExpired))
	require.ErrorIs(t, ValidateReuse(StatusActive), ErrReuseRequiresExpired)
	require.ErrorIs(t, ValidateReuse(StatusCancelled), ErrReuseRequiresExpired)
}

func TestComputeTimeFlags(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	flags := ComputeTimeFlags(now.Add(48*time.Hour), now.Add(48*time.Hour), now)
	require.Equal(t, 48, flags.HoursRemaining)
	require.False(t, flags.IsUrgent)
	require.False(t, flags.IsExpiring)

	flags = ComputeTimeFlags(now.Add(5*time.Hour), now.Add(5*time.Hour), now)
	require.Equal(t, 5, flags.HoursRemaining)
	require.True(t, flags.IsUrgent)
	require.True(t, flags.IsExpiring)

	flags = ComputeTimeFlags(now.Add(-time.Hour), now.Add(-time.Hour), now)
	require.Zero(t, flags.HoursRemaining)
}

func TestShouldRevealContact(t *testing.T) {
	require.True(t, ShouldRevealContact(ResponseWilling, true, true))
	require.False(t, ShouldRevealContact(ResponseWilling, true, false))
	require.False(t, ShouldRevealContact(ResponseWilling, false, true))
	require.False(t, ShouldRevealContact(ResponseNotAvailable, true, true))
	require.False(t, ShouldRevealContact(ResponseNotSuitable, true, true))
}

func TestUrgencyRank(t *testing.T) {
	require.Less(t, UrgencyHigh.Rank(), UrgencyMedium.Rank())
	require.Less(t, UrgencyMedium.Rank(), UrgencyLow.Rank())
	require.True(t, UrgencyLow.Valid())
	require.False(t, UrgencyLevel("CRITICAL").Valid())
}
