package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/accounts/internal/models"
	apperrors "github.com/charlesng35/accounts/pkg/errors"
	"github.com/charlesng35/accounts/pkg/logger"
	"github.com/charlesng35/accounts/pkg/metrics"
)

// DefaultSessionTTL is the fallback lifetime of a session.
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionManagerConfig describes tunable behaviour for the SessionManager.
type SessionManagerConfig struct {
	SessionTTL time.Duration
	Clock      func() time.Time
}

// LoginInput carries the submitted credentials and client details.
type LoginInput struct {
	Identifier string
	Password   string
	ClientMetadata
}

// ClientMetadata captures contextual information about the client.
type ClientMetadata struct {
	IPAddress string
	UserAgent string
}

// IssuedSession is a persisted session together with its bearer token.
type IssuedSession struct {
	Token   string
	Session *models.Session
}

// Principal identifies the caller of an authenticated request.
type Principal struct {
	UserID    string
	SessionID string
}

// SessionManager runs login, refresh, revocation and request authentication.
// It keeps no state between calls; everything durable lives in the stores.
type SessionManager struct {
	store       SessionStore
	credentials CredentialStore
	codec       *TokenCodec
	ttl         time.Duration
	now         func() time.Time
}

// NewSessionManager wires the session manager to its collaborators.
func NewSessionManager(store SessionStore, credentials CredentialStore, codec *TokenCodec, cfg SessionManagerConfig) (*SessionManager, error) {
	if store == nil {
		return nil, errors.New("session manager: session store is required")
	}
	if credentials == nil {
		return nil, errors.New("session manager: credential store is required")
	}
	if codec == nil {
		return nil, errors.New("session manager: token codec is required")
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionManager{
		store:       store,
		credentials: credentials,
		codec:       codec,
		ttl:         ttl,
		now:         clock,
	}, nil
}

// Login verifies credentials and opens a new session. Unknown users, wrong
// passwords and inactive accounts all yield ErrInvalidCredentials.
func (m *SessionManager) Login(ctx context.Context, in LoginInput) (*IssuedSession, *models.User, error) {
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" || in.Password == "" {
		m.credentials.VerifyPassword(nil, in.Password)
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, nil, apperrors.ErrInvalidCredentials
	}

	user, err := m.credentials.FindByUsername(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			m.credentials.VerifyPassword(nil, in.Password)
			metrics.AuthAttempts.WithLabelValues("failure").Inc()
			return nil, nil, apperrors.ErrInvalidCredentials
		}
		metrics.AuthAttempts.WithLabelValues("error").Inc()
		return nil, nil, internalError("login: find user", err)
	}

	if !m.credentials.VerifyPassword(user, in.Password) || !user.IsActive {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, nil, apperrors.ErrInvalidCredentials
	}

	now := m.now().UTC()
	session := m.newSession(user.ID, now, in.ClientMetadata)
	if err := m.store.Create(ctx, session); err != nil {
		if errors.Is(err, ErrSessionOwnerMissing) {
			metrics.AuthAttempts.WithLabelValues("failure").Inc()
			return nil, nil, apperrors.ErrInvalidCredentials
		}
		metrics.AuthAttempts.WithLabelValues("error").Inc()
		return nil, nil, internalError("login: create session", err)
	}

	// The row is committed; if issuing or delivery fails from here on the
	// session simply stays valid until it expires.
	token, err := m.codec.Issue(session.ID, session.ExpiresAt)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("error").Inc()
		return nil, nil, internalError("login: issue token", err)
	}

	if err := m.credentials.MarkLogin(ctx, user.ID, now); err != nil {
		logger.WithModule("sessions").Warn("record login time failed",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	} else {
		user.LastLoginAt = &now
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	metrics.SessionOperations.WithLabelValues("create", "success").Inc()

	return &IssuedSession{Token: token, Session: session}, user, nil
}

// Refresh rotates the session behind token: the old session is revoked and a
// successor linked to it is created, atomically. The old token stops working.
func (m *SessionManager) Refresh(ctx context.Context, token string, meta ClientMetadata) (*IssuedSession, error) {
	sessionID, err := m.codec.Verify(token)
	if err != nil {
		metrics.SessionOperations.WithLabelValues("refresh", "rejected").Inc()
		return nil, codecError("refresh", err)
	}

	current, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			metrics.SessionOperations.WithLabelValues("refresh", "rejected").Inc()
			return nil, apperrors.ErrSessionInvalid.WithInternal(err)
		}
		metrics.SessionOperations.WithLabelValues("refresh", "error").Inc()
		return nil, internalError("refresh: find session", err)
	}

	now := m.now().UTC()
	if !current.ValidAt(now) {
		metrics.SessionOperations.WithLabelValues("refresh", "rejected").Inc()
		return nil, apperrors.ErrSessionInvalid
	}

	successor := m.newSession(current.UserID, now, meta)
	if err := m.store.Rotate(ctx, current.ID, successor, now); err != nil {
		if errors.Is(err, ErrSessionRotated) || errors.Is(err, ErrSessionOwnerMissing) {
			logger.WithModule("sessions").Warn("refresh lost rotation race or reused a rotated token",
				zap.String("session_id", current.ID),
				zap.String("user_id", current.UserID),
			)
			metrics.SessionOperations.WithLabelValues("refresh", "rejected").Inc()
			return nil, apperrors.ErrSessionInvalid.WithInternal(err)
		}
		metrics.SessionOperations.WithLabelValues("refresh", "error").Inc()
		return nil, internalError("refresh: rotate session", err)
	}

	issued, err := m.codec.Issue(successor.ID, successor.ExpiresAt)
	if err != nil {
		metrics.SessionOperations.WithLabelValues("refresh", "error").Inc()
		return nil, internalError("refresh: issue token", err)
	}

	metrics.SessionOperations.WithLabelValues("refresh", "success").Inc()
	return &IssuedSession{Token: issued, Session: successor}, nil
}

// Logout revokes the session behind token. Repeating it, or logging out with
// a correctly signed token that has already expired, succeeds.
func (m *SessionManager) Logout(ctx context.Context, token string) error {
	sessionID, err := m.codec.Verify(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil
		}
		return codecError("logout", err)
	}

	if _, err := m.store.Revoke(ctx, sessionID, m.now().UTC()); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		metrics.SessionOperations.WithLabelValues("revoke", "error").Inc()
		return internalError("logout: revoke session", err)
	}

	metrics.SessionOperations.WithLabelValues("revoke", "success").Inc()
	return nil
}

// RevokeSession revokes targetID on behalf of actor, who must own the session
// or be an administrator.
func (m *SessionManager) RevokeSession(ctx context.Context, actor Principal, targetID string) error {
	target, err := m.store.FindByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrNoSuchSession
		}
		return internalError("revoke session: find session", err)
	}

	if target.UserID != actor.UserID {
		acting, err := m.credentials.FindByID(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, ErrUnknownUser) {
				return apperrors.ErrForbidden
			}
			return internalError("revoke session: find actor", err)
		}
		if !acting.IsAdmin {
			return apperrors.ErrForbidden
		}
	}

	if _, err := m.store.Revoke(ctx, target.ID, m.now().UTC()); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrNoSuchSession
		}
		metrics.SessionOperations.WithLabelValues("revoke", "error").Inc()
		return internalError("revoke session", err)
	}

	metrics.SessionOperations.WithLabelValues("revoke", "success").Inc()
	return nil
}

// RevokeAllSessions revokes every live session of userID at once and returns
// the number revoked. Sessions created after it returns are unaffected.
func (m *SessionManager) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, apperrors.NewMalformed("User id is required")
	}

	revoked, err := m.store.RevokeAll(ctx, userID, m.now().UTC())
	if err != nil {
		metrics.SessionOperations.WithLabelValues("revoke_all", "error").Inc()
		return 0, internalError("revoke all sessions", err)
	}

	logger.WithModule("sessions").Info("revoked all sessions",
		zap.String("user_id", userID),
		zap.Int64("revoked", revoked),
	)
	metrics.SessionOperations.WithLabelValues("revoke_all", "success").Inc()
	return revoked, nil
}

// Authenticate resolves token to the caller. Any token or session problem is
// ErrUnauthorized; store outages are reported as internal errors.
func (m *SessionManager) Authenticate(ctx context.Context, token string) (Principal, error) {
	sessionID, err := m.codec.Verify(token)
	if err != nil {
		metrics.SessionOperations.WithLabelValues("authenticate", "rejected").Inc()
		return Principal{}, apperrors.ErrUnauthorized.WithInternal(err)
	}

	session, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			metrics.SessionOperations.WithLabelValues("authenticate", "rejected").Inc()
			return Principal{}, apperrors.ErrUnauthorized.WithInternal(err)
		}
		metrics.SessionOperations.WithLabelValues("authenticate", "error").Inc()
		return Principal{}, internalError("authenticate: find session", err)
	}

	if !session.ValidAt(m.now().UTC()) {
		metrics.SessionOperations.WithLabelValues("authenticate", "rejected").Inc()
		return Principal{}, apperrors.ErrUnauthorized
	}

	return Principal{UserID: session.UserID, SessionID: session.ID}, nil
}

// ListSessions returns the user's live sessions, newest first.
func (m *SessionManager) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	sessions, err := m.store.ListActive(ctx, userID, m.now().UTC())
	if err != nil {
		return nil, internalError("list sessions", err)
	}
	return sessions, nil
}

// PurgeExpired deletes sessions that expired more than retention ago.
func (m *SessionManager) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		retention = 0
	}
	return m.store.DeleteExpiredBefore(ctx, m.now().UTC().Add(-retention))
}

func (m *SessionManager) newSession(userID string, now time.Time, meta ClientMetadata) *models.Session {
	// Token expiry has second precision; keep the row in step with it.
	expires := now.Add(m.ttl).Truncate(time.Second)
	return &models.Session{
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: expires,
		IPAddress: truncate(strings.TrimSpace(meta.IPAddress), 64),
		UserAgent: truncate(strings.TrimSpace(meta.UserAgent), 512),
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
