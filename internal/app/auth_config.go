package app

import (
	"strings"
	"time"

	"github.com/charlesng35/accounts/internal/auth"
	"github.com/charlesng35/accounts/internal/transport"
	"github.com/charlesng35/accounts/pkg/crypto"
)

const defaultSessionTTL = 7 * 24 * time.Hour

// TokenConfig converts the configuration into token codec parameters. The
// cookie secret doubles as the signing secret.
func (c *Config) TokenConfig() auth.TokenConfig {
	issuer := strings.TrimSpace(c.Auth.Token.Issuer)
	if issuer == "" {
		issuer = "accounts"
	}
	return auth.TokenConfig{
		Secret: strings.TrimSpace(c.Server.CookieSecret),
		Issuer: issuer,
	}
}

// SessionManagerConfig converts AuthConfig into SessionManager parameters.
func (c AuthConfig) SessionManagerConfig() auth.SessionManagerConfig {
	ttl := c.Session.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return auth.SessionManagerConfig{SessionTTL: ttl}
}

// SessionCookie converts CookieSettings into the transport representation.
func (c AuthConfig) SessionCookie() transport.SessionCookie {
	return transport.SessionCookie{
		Name:     strings.TrimSpace(c.Cookie.Name),
		Path:     strings.TrimSpace(c.Cookie.Path),
		Domain:   strings.TrimSpace(c.Cookie.Domain),
		Secure:   c.Cookie.Secure,
		SameSite: transport.ParseSameSite(c.Cookie.SameSite),
	}
}

// PasswordHasher builds the configured password hasher.
func (c AuthConfig) PasswordHasher() (crypto.PasswordHasher, error) {
	return crypto.NewPasswordHasher(c.Password.Algorithm, c.Password.BcryptCost)
}
