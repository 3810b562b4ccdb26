package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/charlesng35/accounts/pkg/errors"
)

// ErrNoSuchSession is returned when a session addressed by id does not exist.
var ErrNoSuchSession = apperrors.New("SESSION_NOT_FOUND", "Session not found", http.StatusNotFound)

// internalError surfaces a store failure without retrying it. Deadline and
// cancellation errors keep their identity so they render as timeouts.
func internalError(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.ErrRequestTimeout.WithInternal(wrapped)
	}
	return apperrors.ErrInternalServer.WithInternal(wrapped)
}

// codecError maps token failures for operations that report them precisely.
func codecError(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	switch {
	case errors.Is(err, ErrTokenMalformed):
		return apperrors.NewMalformed("Malformed session token").WithInternal(wrapped)
	case errors.Is(err, ErrTokenExpired):
		return apperrors.ErrSessionInvalid.WithInternal(wrapped)
	default:
		return apperrors.ErrUnauthorized.WithInternal(wrapped)
	}
}
