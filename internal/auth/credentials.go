package auth

import (
	"context"
	"errors"
	"time"

	"github.com/charlesng35/accounts/internal/models"
)

// ErrUnknownUser is matched (via errors.Is) by the error a CredentialStore
// returns when no user has the requested identifier.
var ErrUnknownUser = errors.New("credentials: unknown user")

// CredentialStore is the user lookup the session manager depends on.
type CredentialStore interface {
	// FindByUsername matches the username or email, case-insensitively.
	FindByUsername(ctx context.Context, identifier string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	// VerifyPassword must spend a full hash comparison even when user is nil.
	VerifyPassword(user *models.User, candidate string) bool
	MarkLogin(ctx context.Context, userID string, at time.Time) error
}
