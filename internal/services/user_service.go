package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/accounts/internal/database"
	"github.com/charlesng35/accounts/internal/models"
	"github.com/charlesng35/accounts/pkg/crypto"
	apperrors "github.com/charlesng35/accounts/pkg/errors"
	"github.com/charlesng35/accounts/pkg/logger"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	dummyPassword   = "accounts-timing-equaliser"
)

// SessionRevoker revokes every session a user holds.
type SessionRevoker interface {
	RevokeAllSessions(ctx context.Context, userID string) (int64, error)
}

// CreateUserInput describes the fields accepted when creating a user.
type CreateUserInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	IsAdmin   bool
	IsActive  *bool
}

// UpdateUserInput enumerates mutable user attributes. Nil fields are left untouched.
type UpdateUserInput struct {
	Username  *string
	Email     *string
	FirstName *string
	LastName  *string
	IsAdmin   *bool
	IsActive  *bool

	Password        *string
	CurrentPassword *string
	// RequireCurrentPassword makes a password change verify CurrentPassword first.
	RequireCurrentPassword bool
}

// ListUsersOptions controls pagination for user listing.
type ListUsersOptions struct {
	Page     int
	PageSize int
	Query    string
}

// UserServiceOption customises a UserService.
type UserServiceOption func(*UserService)

// WithQueryTimeout bounds every query issued by the service.
func WithQueryTimeout(d time.Duration) UserServiceOption {
	return func(s *UserService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// UserService manages the user lifecycle and backs credential checks for the
// session manager.
type UserService struct {
	db       *gorm.DB
	hasher   crypto.PasswordHasher
	sessions SessionRevoker
	timeout  time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// NewUserService constructs a UserService. sessions may be nil until the
// session manager exists; see SetSessionRevoker.
func NewUserService(db *gorm.DB, hasher crypto.PasswordHasher, sessions SessionRevoker, opts ...UserServiceOption) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	if hasher == nil {
		return nil, errors.New("user service: password hasher is required")
	}

	svc := &UserService{
		db:       db,
		hasher:   hasher,
		sessions: sessions,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// SetSessionRevoker attaches the component used to revoke sessions on
// password changes, deactivation and deletion.
func (s *UserService) SetSessionRevoker(revoker SessionRevoker) {
	s.sessions = revoker
}

func (s *UserService) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = ensureContext(ctx)
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// FindByUsername looks up a user by username or email, ignoring case.
func (s *UserService) FindByUsername(ctx context.Context, identifier string) (*models.User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	value := strings.ToLower(strings.TrimSpace(identifier))
	if value == "" {
		return nil, ErrUserNotFound
	}

	var user models.User
	err := database.Conn(ctx, s.db).
		Where("LOWER(username) = ? OR LOWER(email) = ?", value, value).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find by username: %w", err)
	}
	return &user, nil
}

// FindByID returns the user with the given id.
func (s *UserService) FindByID(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUserNotFound
	}

	var user models.User
	err := database.Conn(ctx, s.db).Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find by id: %w", err)
	}
	return &user, nil
}

// GetByID is FindByID under the name the HTTP layer uses.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.FindByID(ctx, id)
}

// VerifyPassword checks candidate against the user's stored hash. A nil user
// is compared against a throwaway hash so the call costs the same either way.
func (s *UserService) VerifyPassword(user *models.User, candidate string) bool {
	if user == nil || user.Password == "" {
		_ = s.hasher.Verify(s.timingHash(), candidate)
		return false
	}
	return crypto.VerifyPassword(user.Password, candidate)
}

func (s *UserService) timingHash() string {
	s.dummyOnce.Do(func() {
		hashed, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			logger.WithModule("users").Warn("failed to prepare dummy password hash", zap.Error(err))
			return
		}
		s.dummyHash = hashed
	})
	return s.dummyHash
}

// MarkLogin records the time of the latest successful login.
func (s *UserService) MarkLogin(ctx context.Context, userID string, at time.Time) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	result := database.Conn(ctx, s.db).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_login_at", at.UTC())
	if result.Error != nil {
		return fmt.Errorf("user service: mark login: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// normalizeIdentity lowercases a username or email so the unique indexes
// enforce the same case-insensitive equality the lookups use.
func normalizeIdentity(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// Create registers a new user. Duplicate usernames or emails yield ErrConflict.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	username := normalizeIdentity(input.Username)
	email := normalizeIdentity(input.Email)
	if username == "" || email == "" || input.Password == "" {
		return nil, apperrors.NewMalformed("Username, email and password are required")
	}

	hashed, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Username:  username,
		Email:     email,
		Password:  hashed,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		IsAdmin:   input.IsAdmin,
		IsActive:  true,
	}
	inactive := input.IsActive != nil && !*input.IsActive

	conn := database.Conn(ctx, s.db)
	taken, err := s.identityTaken(conn, username, email, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, apperrors.ErrConflict.WithInternal(fmt.Errorf("username %q or email %q already registered", username, email))
	}

	if err := conn.Create(user).Error; err != nil {
		return nil, writeError("create user", err)
	}
	// gorm skips zero values that have a column default, so an inactive
	// account is inserted active and then switched off.
	if inactive {
		if err := conn.Model(user).Update("is_active", false).Error; err != nil {
			return nil, fmt.Errorf("user service: store active flag: %w", err)
		}
		user.IsActive = false
	}

	logger.WithModule("users").Info("user created",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
	)
	return user, nil
}

// identityTaken reports whether another user already holds username or email,
// ignoring case. excludeID skips the user being updated.
func (s *UserService) identityTaken(conn *gorm.DB, username, email, excludeID string) (bool, error) {
	query := conn.Model(&models.User{})
	switch {
	case username != "" && email != "":
		query = query.Where("LOWER(username) = ? OR LOWER(email) = ?", strings.ToLower(username), strings.ToLower(email))
	case username != "":
		query = query.Where("LOWER(username) = ?", strings.ToLower(username))
	case email != "":
		query = query.Where("LOWER(email) = ?", strings.ToLower(email))
	default:
		return false, nil
	}
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("user service: check identity: %w", err)
	}
	return count > 0, nil
}

// List returns a page of users, newest first, with the total count.
func (s *UserService) List(ctx context.Context, opts ListUsersOptions) ([]models.User, int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 {
		perPage = defaultPageSize
	}
	if perPage > maxPageSize {
		perPage = maxPageSize
	}

	query := database.Conn(ctx, s.db).Model(&models.User{})
	if q := strings.TrimSpace(opts.Query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(username) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	var users []models.User
	if err := query.
		Order("created_at DESC").
		Order("id").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}

	return users, total, nil
}

// Update persists mutable attributes for an existing user. Changing the
// password or deactivating the account revokes every session the user holds,
// in the same transaction as the update.
func (s *UserService) Update(ctx context.Context, id string, input UpdateUserInput) (*models.User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var result *models.User
	err := database.InTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		var user models.User
		err := tx.Take(&user, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("user service: load user: %w", err)
		}

		updates := map[string]any{}
		var newUsername, newEmail string

		if input.Username != nil {
			if name := normalizeIdentity(*input.Username); name != "" && name != user.Username {
				updates["username"] = name
				newUsername = name
			}
		}
		if input.Email != nil {
			if email := normalizeIdentity(*input.Email); email != "" && email != user.Email {
				updates["email"] = email
				newEmail = email
			}
		}
		if input.FirstName != nil {
			updates["first_name"] = strings.TrimSpace(*input.FirstName)
		}
		if input.LastName != nil {
			updates["last_name"] = strings.TrimSpace(*input.LastName)
		}
		if input.IsAdmin != nil {
			updates["is_admin"] = *input.IsAdmin
		}

		revoke := false
		if input.IsActive != nil && *input.IsActive != user.IsActive {
			updates["is_active"] = *input.IsActive
			revoke = !*input.IsActive
		}

		if input.Password != nil {
			if *input.Password == "" {
				return apperrors.NewMalformed("Password must not be empty")
			}
			if input.RequireCurrentPassword {
				if input.CurrentPassword == nil || *input.CurrentPassword == "" {
					return ErrCurrentPasswordRequired
				}
				if !crypto.VerifyPassword(user.Password, *input.CurrentPassword) {
					return ErrCurrentPasswordMismatch
				}
			}
			hashed, err := s.hasher.Hash(*input.Password)
			if err != nil {
				return fmt.Errorf("user service: hash password: %w", err)
			}
			updates["password"] = hashed
			revoke = true
		}

		if newUsername != "" || newEmail != "" {
			taken, err := s.identityTaken(tx, newUsername, newEmail, user.ID)
			if err != nil {
				return err
			}
			if taken {
				return apperrors.ErrConflict
			}
		}

		if len(updates) > 0 {
			if err := tx.Model(&user).Updates(updates).Error; err != nil {
				return writeError("update user", err)
			}
		}

		if revoke {
			if err := s.revokeSessions(ctx, user.ID); err != nil {
				return err
			}
		}

		if err := tx.Take(&user, "id = ?", user.ID).Error; err != nil {
			return fmt.Errorf("user service: reload user: %w", err)
		}
		result = &user
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Delete revokes the user's sessions and removes the account in one transaction.
func (s *UserService) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	err := database.InTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		var user models.User
		err := tx.Take(&user, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("user service: load user: %w", err)
		}

		if err := s.revokeSessions(ctx, user.ID); err != nil {
			return err
		}

		if err := tx.Delete(&user).Error; err != nil {
			return fmt.Errorf("user service: delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.WithModule("users").Info("user deleted", zap.String("user_id", id))
	return nil
}

// EnsureAdmin creates an administrator with the given credentials unless a
// user with that username or email already exists. It reports whether an
// account was created.
func (s *UserService) EnsureAdmin(ctx context.Context, username, email, password string) (*models.User, bool, error) {
	existing, err := s.FindByUsername(ctx, username)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	user, err := s.Create(ctx, CreateUserInput{
		Username: username,
		Email:    email,
		Password: password,
		IsAdmin:  true,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			existing, findErr := s.FindByUsername(ctx, email)
			if findErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	return user, true, nil
}

func (s *UserService) revokeSessions(ctx context.Context, userID string) error {
	if s.sessions == nil {
		return nil
	}
	if _, err := s.sessions.RevokeAllSessions(ctx, userID); err != nil {
		return fmt.Errorf("user service: revoke sessions: %w", err)
	}
	return nil
}
