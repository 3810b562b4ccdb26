package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/accounts/internal/auth"
	"github.com/charlesng35/accounts/internal/transport"
	"github.com/charlesng35/accounts/pkg/errors"
	"github.com/charlesng35/accounts/pkg/response"
)

// SessionHandler serves refresh, listing and revocation of sessions.
type SessionHandler struct {
	sessions *iauth.SessionManager
	cookie   transport.SessionCookie
}

func NewSessionHandler(sessions *iauth.SessionManager, cookie transport.SessionCookie) *SessionHandler {
	return &SessionHandler{sessions: sessions, cookie: cookie}
}

type refreshRequest struct {
	Token string `json:"token" validate:"required"`
}

type sessionView struct {
	ID        string    `json:"id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Current   bool      `json:"current"`
}

// POST /sessions/refresh-cookie
func (h *SessionHandler) RefreshCookie(c *gin.Context) {
	token, ok := h.cookie.Cookie(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	h.refresh(c, token)
}

// POST /sessions/refresh
func (h *SessionHandler) RefreshBody(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}
	h.refresh(c, strings.TrimSpace(req.Token))
}

func (h *SessionHandler) refresh(c *gin.Context, token string) {
	issued, err := h.sessions.Refresh(requestContext(c), token, clientMetadata(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.cookie.Set(c, issued.Token, issued.Session.ExpiresAt)
	response.Success(c, http.StatusOK, newSessionTokenResponse(issued, nil))
}

// GET /sessions/
func (h *SessionHandler) List(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	sessions, err := h.sessions.ListSessions(requestContext(c), principal.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, sessionView{
			ID:        session.ID,
			IssuedAt:  session.IssuedAt,
			ExpiresAt: session.ExpiresAt,
			IPAddress: session.IPAddress,
			UserAgent: session.UserAgent,
			Current:   session.ID == principal.SessionID,
		})
	}
	response.Success(c, http.StatusOK, views)
}

// PATCH /sessions/current
func (h *SessionHandler) RevokeCurrent(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	if err := h.sessions.RevokeSession(requestContext(c), principal, principal.SessionID); err != nil {
		response.Error(c, err)
		return
	}

	h.cookie.Clear(c)
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// PATCH /sessions/:id
func (h *SessionHandler) RevokeByID(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	targetID := strings.TrimSpace(c.Param("id"))
	if err := h.sessions.RevokeSession(requestContext(c), principal, targetID); err != nil {
		response.Error(c, err)
		return
	}

	if targetID == principal.SessionID {
		h.cookie.Clear(c)
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// PATCH /sessions/
func (h *SessionHandler) RevokeAll(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	revoked, err := h.sessions.RevokeAllSessions(requestContext(c), principal.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.cookie.Clear(c)
	response.Success(c, http.StatusOK, gin.H{"revoked": revoked})
}
