package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{Secret: "   "})
	require.EqualError(t, err, "jwt: secret must be provided")
}

func TestAccessTokenRoundTrip(t *testing.T) {
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewJWTService(JWTConfig{
		Secret:         "super-secret",
		Issuer:         "lifelink",
		Audience:       "lifelink-api",
		AccessTokenTTL: time.Hour,
		Clock:          fixedClock(&current),
	})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(AccessTokenInput{UserID: " donor-123 ", IsAdmin: true})
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "donor-123", claims.UserID)
	require.Equal(t, "donor-123", claims.Subject)
	require.True(t, claims.IsAdmin)
	require.Equal(t, jwt.ClaimStrings{"lifelink-api"}, claims.Audience)
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))
}

func TestAccessTokenCustomTTL(t *testing.T) {
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewJWTService(JWTConfig{Secret: "secret", Clock: fixedClock(&current)})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(AccessTokenInput{UserID: "admin-1", TTL: 24 * time.Hour})
	require.NoError(t, err)

	current = current.Add(23 * time.Hour)
	_, err = svc.ValidateAccessToken(token)
	require.NoError(t, err)

	_, err = svc.GenerateAccessToken(AccessTokenInput{})
	require.Error(t, err)
}

func TestValidateAccessTokenRejections(t *testing.T) {
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := fixedClock(&current)

	svc, err := NewJWTService(JWTConfig{Secret: "secret", Issuer: "lifelink", AccessTokenTTL: time.Minute, Clock: clock})
	require.NoError(t, err)
	other, err := NewJWTService(JWTConfig{Secret: "other-secret", Issuer: "lifelink", Clock: clock})
	require.NoError(t, err)
	foreign, err := NewJWTService(JWTConfig{Secret: "secret", Issuer: "someone-else", Clock: clock})
	require.NoError(t, err)

	forged, err := other.GenerateAccessToken(AccessTokenInput{UserID: "donor-1"})
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(forged)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	wrongIssuer, err := foreign.GenerateAccessToken(AccessTokenInput{UserID: "donor-1"})
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(wrongIssuer)
	require.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	token, err := svc.GenerateAccessToken(AccessTokenInput{UserID: "donor-1"})
	require.NoError(t, err)

	current = current.Add(time.Minute + DefaultLeeway/2)
	_, err = svc.ValidateAccessToken(token)
	require.NoError(t, err, "inside leeway")

	current = current.Add(DefaultLeeway)
	_, err = svc.ValidateAccessToken(token)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = svc.ValidateAccessToken("")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessTokenRequiresExpiry(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "donor-1"}).
		SignedString([]byte("secret"))
	require.NoError(t, err)

	svc, err := NewJWTService(JWTConfig{Secret: "secret"})
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessTokenFallsBackToSubject(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	claims := jwt.RegisteredClaims{
		Subject:   "user-789",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("directory-secret"))
	require.NoError(t, err)

	svc, err := NewJWTService(JWTConfig{Secret: "directory-secret", Clock: fixedClock(&now)})
	require.NoError(t, err)

	parsed, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-789", parsed.UserID)
	require.False(t, parsed.IsAdmin)
}
