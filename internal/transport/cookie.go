// Package transport carries session tokens between the HTTP layer and clients.
package transport

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultCookieName names the session cookie when none is configured.
const DefaultCookieName = "session"

// SessionCookie describes the cookie carrying the session token. The cookie
// is always HttpOnly.
type SessionCookie struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	// Clock is used to compute Max-Age; defaults to time.Now.
	Clock func() time.Time
}

// ParseSameSite maps a configuration value onto http.SameSite. Unknown values
// become Lax.
func ParseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (sc SessionCookie) name() string {
	if strings.TrimSpace(sc.Name) == "" {
		return DefaultCookieName
	}
	return sc.Name
}

func (sc SessionCookie) path() string {
	if strings.TrimSpace(sc.Path) == "" {
		return "/"
	}
	return sc.Path
}

func (sc SessionCookie) sameSite() http.SameSite {
	if sc.SameSite == 0 {
		return http.SameSiteLaxMode
	}
	return sc.SameSite
}

// Set writes token into the cookie, expiring with the session.
func (sc SessionCookie) Set(c *gin.Context, token string, expiresAt time.Time) {
	now := time.Now
	if sc.Clock != nil {
		now = sc.Clock
	}
	maxAge := int(expiresAt.Sub(now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sc.name(),
		Value:    token,
		Path:     sc.path(),
		Domain:   sc.Domain,
		Expires:  expiresAt.UTC(),
		MaxAge:   maxAge,
		Secure:   sc.Secure,
		HttpOnly: true,
		SameSite: sc.sameSite(),
	})
}

// Clear instructs the client to drop the cookie.
func (sc SessionCookie) Clear(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sc.name(),
		Value:    "",
		Path:     sc.path(),
		Domain:   sc.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		Secure:   sc.Secure,
		HttpOnly: true,
		SameSite: sc.sameSite(),
	})
}

// Cookie returns the token carried by the session cookie, if any.
func (sc SessionCookie) Cookie(c *gin.Context) (string, bool) {
	value, err := c.Cookie(sc.name())
	if err != nil {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// Token resolves the request's session token from the cookie, falling back
// to an "Authorization: Bearer" header.
func (sc SessionCookie) Token(c *gin.Context) (string, bool) {
	if token, ok := sc.Cookie(c); ok {
		return token, true
	}
	return BearerToken(c)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authz[7:])
	return token, token != ""
}
