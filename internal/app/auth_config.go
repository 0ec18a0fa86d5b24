package app

import (
	"strings"

	"github.com/lifelink/lifelink/internal/auth"
)

// JWTServiceConfig maps the auth section onto the token verifier. Blank fields fall back to the
// verifier's own defaults.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         strings.TrimSpace(c.JWT.Issuer),
		Audience:       strings.TrimSpace(c.JWT.Audience),
		AccessTokenTTL: c.JWT.TTL,
		Leeway:         c.JWT.Leeway,
	}
}
