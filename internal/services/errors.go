package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/charlesng35/accounts/internal/auth"
	apperrors "github.com/charlesng35/accounts/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist. It matches
	// auth.ErrUnknownUser so the session manager can recognise it.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound).WithInternal(auth.ErrUnknownUser)
	// ErrCurrentPasswordRequired is returned when a self-service password
	// change omits the current password.
	ErrCurrentPasswordRequired = apperrors.NewMalformed("Current password is required")
	// ErrCurrentPasswordMismatch is returned when the supplied current password is wrong.
	ErrCurrentPasswordMismatch = apperrors.New("INVALID_CREDENTIALS", "Current password is incorrect", http.StatusUnauthorized)
)

const (
	pgUniqueViolation   = "23505"
	mysqlDuplicateEntry = 1062
	sqliteUniqueFailure = "unique constraint failed"
)

// isUniqueConstraintError detects a username or email collision reported by
// the database rather than by the pre-insert lookup.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	return strings.Contains(strings.ToLower(err.Error()), sqliteUniqueFailure)
}

// writeError maps a failed insert or update of a user row.
func writeError(op string, err error) error {
	if isUniqueConstraintError(err) {
		return apperrors.ErrConflict.WithInternal(err)
	}
	return fmt.Errorf("user service: %s: %w", op, err)
}
