package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/accounts/internal/database"
	"github.com/charlesng35/accounts/internal/models"
)

var (
	// ErrSessionNotFound indicates no session row matches the identifier.
	ErrSessionNotFound = errors.New("session store: not found")
	// ErrSessionRotated is returned by Rotate when the predecessor was already
	// revoked or expired, typically because a concurrent refresh won.
	ErrSessionRotated = errors.New("session store: predecessor no longer valid")
	// ErrSessionOwnerMissing is returned when the owning user row does not exist.
	ErrSessionOwnerMissing = errors.New("session store: owner not found")
)

// SessionStore persists sessions. Every mutation is a conditional update so
// concurrent callers cannot un-revoke a session or rotate it twice.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	RevokeAll(ctx context.Context, userID string, at time.Time) (int64, error)
	Rotate(ctx context.Context, predecessorID string, successor *models.Session, at time.Time) error
	ListActive(ctx context.Context, userID string, at time.Time) ([]models.Session, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// GormSessionStore implements SessionStore on gorm.
//
// Create, Rotate and RevokeAll first take a row lock on the owning user, so
// they serialise per user: a login either commits before a revoke-all (and is
// revoked by it) or after it (and survives). Locks are always taken user row
// first, then session rows.
type GormSessionStore struct {
	db        *gorm.DB
	opTimeout time.Duration
}

// StoreOption customises a GormSessionStore.
type StoreOption func(*GormSessionStore)

// WithOperationTimeout bounds every store call, including the wait for a
// pooled connection.
func WithOperationTimeout(d time.Duration) StoreOption {
	return func(s *GormSessionStore) {
		s.opTimeout = d
	}
}

// NewGormSessionStore constructs a store over db.
func NewGormSessionStore(db *gorm.DB, opts ...StoreOption) (*GormSessionStore, error) {
	if db == nil {
		return nil, errors.New("session store: db is required")
	}
	store := &GormSessionStore{db: db}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *GormSessionStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Create inserts a new session for an existing user.
func (s *GormSessionStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil || strings.TrimSpace(session.UserID) == "" {
		return errors.New("session store: session with user id is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	return database.InTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		if err := lockOwner(tx, session.UserID); err != nil {
			return err
		}
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("session store: create: %w", err)
		}
		return nil
	})
}

// FindByID is a primary key lookup.
func (s *GormSessionStore) FindByID(ctx context.Context, id string) (*models.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrSessionNotFound
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var session models.Session
	err := database.Conn(ctx, s.db).Take(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session store: find session: %w", err)
	}
	return &session, nil
}

// Revoke marks a session revoked. It reports false when the session was
// already revoked and ErrSessionNotFound when it does not exist.
func (s *GormSessionStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	conn := database.Conn(ctx, s.db)
	result := conn.Model(&models.Session{}).
		Where("id = ? AND revoked = ?", id, false).
		Updates(revocation(at))
	if result.Error != nil {
		return false, fmt.Errorf("session store: revoke session: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := conn.Model(&models.Session{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("session store: revoke session: %w", err)
	}
	if count == 0 {
		return false, ErrSessionNotFound
	}
	return false, nil
}

// RevokeAll revokes every live session of userID and returns how many changed.
func (s *GormSessionStore) RevokeAll(ctx context.Context, userID string, at time.Time) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var revoked int64
	err := database.InTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		// A deleted owner has no row to lock; its leftover sessions are still revoked.
		if err := lockOwner(tx, userID); err != nil && !errors.Is(err, ErrSessionOwnerMissing) {
			return err
		}
		result := tx.Model(&models.Session{}).
			Where("user_id = ? AND revoked = ?", userID, false).
			Updates(revocation(at))
		if result.Error != nil {
			return fmt.Errorf("session store: revoke user sessions: %w", result.Error)
		}
		revoked = result.RowsAffected
		return nil
	})
	return revoked, err
}

// Rotate revokes predecessorID and inserts successor in one transaction. Only
// one caller can win for a given predecessor; the rest get ErrSessionRotated.
func (s *GormSessionStore) Rotate(ctx context.Context, predecessorID string, successor *models.Session, at time.Time) error {
	if successor == nil || strings.TrimSpace(successor.UserID) == "" {
		return errors.New("session store: successor with user id is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	return database.InTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		if err := lockOwner(tx, successor.UserID); err != nil {
			return err
		}

		result := tx.Model(&models.Session{}).
			Where("id = ? AND user_id = ? AND revoked = ? AND expires_at > ?", predecessorID, successor.UserID, false, at).
			Updates(revocation(at))
		if result.Error != nil {
			return fmt.Errorf("session store: revoke predecessor: %w", result.Error)
		}
		if result.RowsAffected != 1 {
			return ErrSessionRotated
		}

		pred := predecessorID
		successor.PredecessorID = &pred
		if err := tx.Create(successor).Error; err != nil {
			return fmt.Errorf("session store: create successor: %w", err)
		}
		return nil
	})
}

// ListActive returns the user's valid sessions, newest first.
func (s *GormSessionStore) ListActive(ctx context.Context, userID string, at time.Time) ([]models.Session, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var sessions []models.Session
	err := database.Conn(ctx, s.db).
		Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, at).
		Order("issued_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("session store: list sessions: %w", err)
	}
	return sessions, nil
}

// DeleteExpiredBefore purges sessions whose expiry is older than cutoff.
func (s *GormSessionStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	result := database.Conn(ctx, s.db).
		Where("expires_at < ?", cutoff).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session store: purge expired sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func lockOwner(tx *gorm.DB, userID string) error {
	var owner models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Take(&owner, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSessionOwnerMissing
	}
	if err != nil {
		return fmt.Errorf("session store: lock owner: %w", err)
	}
	return nil
}

func revocation(at time.Time) map[string]any {
	return map[string]any{
		"revoked":    true,
		"revoked_at": at,
	}
}
