package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/accounts/internal/auth"
	"github.com/charlesng35/accounts/internal/transport"
	"github.com/charlesng35/accounts/pkg/errors"
	"github.com/charlesng35/accounts/pkg/response"
)

const (
	CtxUserIDKey    = "userID"
	CtxSessionIDKey = "sessionID"
	CtxTokenKey     = "sessionToken"
)

// Authenticator resolves a session token to its principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (iauth.Principal, error)
}

// Auth requires a valid session token, taken from the session cookie or a
// bearer header, and stores the caller's identity on the gin context.
func Auth(authenticator Authenticator, cookie transport.SessionCookie) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := cookie.Token(c)
		if !ok {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			return
		}

		principal, err := authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			if errors.FromError(err).StatusCode == http.StatusUnauthorized {
				c.Header("WWW-Authenticate", "Bearer")
			}
			response.Error(c, err)
			return
		}

		c.Set(CtxUserIDKey, principal.UserID)
		c.Set(CtxSessionIDKey, principal.SessionID)
		c.Set(CtxTokenKey, token)

		c.Next()
	}
}

// PrincipalFrom returns the identity stored by Auth.
func PrincipalFrom(c *gin.Context) (iauth.Principal, bool) {
	userID := c.GetString(CtxUserIDKey)
	if userID == "" {
		return iauth.Principal{}, false
	}
	return iauth.Principal{UserID: userID, SessionID: c.GetString(CtxSessionIDKey)}, true
}
