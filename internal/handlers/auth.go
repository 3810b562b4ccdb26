package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/accounts/internal/auth"
	"github.com/charlesng35/accounts/internal/models"
	"github.com/charlesng35/accounts/internal/transport"
	"github.com/charlesng35/accounts/pkg/errors"
	"github.com/charlesng35/accounts/pkg/response"
)

// AuthHandler serves login and logout.
type AuthHandler struct {
	sessions *iauth.SessionManager
	cookie   transport.SessionCookie
}

func NewAuthHandler(sessions *iauth.SessionManager, cookie transport.SessionCookie) *AuthHandler {
	return &AuthHandler{sessions: sessions, cookie: cookie}
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	Password   string `json:"password" validate:"required,max=256"`
}

type sessionTokenResponse struct {
	Token     string       `json:"token"`
	SessionID string       `json:"session_id"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user,omitempty"`
}

func newSessionTokenResponse(issued *iauth.IssuedSession, user *models.User) sessionTokenResponse {
	return sessionTokenResponse{
		Token:     issued.Token,
		SessionID: issued.Session.ID,
		ExpiresAt: issued.Session.ExpiresAt,
		User:      user,
	}
}

// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	issued, user, err := h.sessions.Login(requestContext(c), iauth.LoginInput{
		Identifier:     req.Identifier,
		Password:       req.Password,
		ClientMetadata: clientMetadata(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	h.cookie.Set(c, issued.Token, issued.Session.ExpiresAt)
	response.Success(c, http.StatusOK, newSessionTokenResponse(issued, user))
}

// POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	token, ok := h.cookie.Token(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	// The cookie is dropped even when the token turns out to be unusable.
	h.cookie.Clear(c)

	if err := h.sessions.Logout(requestContext(c), token); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}
