package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/charlesng35/accounts/internal/auth"
	"github.com/charlesng35/accounts/internal/database/testutil"
	"github.com/charlesng35/accounts/internal/models"
	"github.com/charlesng35/accounts/pkg/crypto"
	apperrors "github.com/charlesng35/accounts/pkg/errors"
)

type userFixture struct {
	db       *gorm.DB
	users    *UserService
	sessions *auth.SessionManager
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	hasher, err := crypto.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)

	users, err := NewUserService(db, hasher, nil)
	require.NoError(t, err)

	store, err := auth.NewGormSessionStore(db)
	require.NoError(t, err)

	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret: "0123456789abcdef0123456789abcdef",
		Issuer: "accounts-test",
	})
	require.NoError(t, err)

	manager, err := auth.NewSessionManager(store, users, codec, auth.SessionManagerConfig{SessionTTL: time.Hour})
	require.NoError(t, err)
	users.SetSessionRevoker(manager)

	return &userFixture{db: db, users: users, sessions: manager}
}

func (f *userFixture) register(t *testing.T, username, password string) *models.User {
	t.Helper()
	user, err := f.users.Create(context.Background(), CreateUserInput{
		Username: username,
		Email:    username + "@example.com",
		Password: password,
	})
	require.NoError(t, err)
	return user
}

func (f *userFixture) login(t *testing.T, identifier, password string) *auth.IssuedSession {
	t.Helper()
	issued, _, err := f.sessions.Login(context.Background(), auth.LoginInput{Identifier: identifier, Password: password})
	require.NoError(t, err)
	return issued
}

func TestUserServiceCreate(t *testing.T) {
	f := newUserFixture(t)

	user := f.register(t, "alice", "s3cret-pass")
	require.NotEmpty(t, user.ID)
	require.True(t, user.IsActive)
	require.Equal(t, "alice@example.com", user.Email)
	require.NotEqual(t, "s3cret-pass", user.Password)
	require.True(t, crypto.VerifyPassword(user.Password, "s3cret-pass"))
}

func TestUserServiceCreateDuplicateConflicts(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	f.register(t, "alice", "s3cret-pass")

	_, err := f.users.Create(ctx, CreateUserInput{Username: "alice", Email: "other@example.com", Password: "x-password"})
	require.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = f.users.Create(ctx, CreateUserInput{Username: "ALICE", Email: "third@example.com", Password: "x-password"})
	require.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = f.users.Create(ctx, CreateUserInput{Username: "bob", Email: "Alice@Example.com", Password: "x-password"})
	require.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestUserServiceCreateInactive(t *testing.T) {
	f := newUserFixture(t)
	inactive := false

	user, err := f.users.Create(context.Background(), CreateUserInput{
		Username: "dormant",
		Email:    "dormant@example.com",
		Password: "s3cret-pass",
		IsActive: &inactive,
	})
	require.NoError(t, err)
	require.False(t, user.IsActive)

	stored, err := f.users.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)

	_, _, err = f.sessions.Login(context.Background(), auth.LoginInput{Identifier: "dormant", Password: "s3cret-pass"})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestUserServiceStoresLowercaseIdentity(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	user, err := f.users.Create(ctx, CreateUserInput{Username: "  Mallory ", Email: "Mallory@Example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	require.Equal(t, "mallory", user.Username)
	require.Equal(t, "mallory@example.com", user.Email)

	other := f.register(t, "nina", "s3cret-pass")
	name := "MALLORY"
	_, err = f.users.Update(ctx, other.ID, UpdateUserInput{Username: &name})
	require.ErrorIs(t, err, apperrors.ErrConflict)

	renamed := "Nina.R"
	updated, err := f.users.Update(ctx, other.ID, UpdateUserInput{Username: &renamed})
	require.NoError(t, err)
	require.Equal(t, "nina.r", updated.Username)
}

func TestUserServiceConcurrentCreateDiffersOnlyByCase(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	names := []string{"Oscar", "oscar", "OSCAR"}
	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			_, errs[i] = f.users.Create(ctx, CreateUserInput{
				Username: name,
				Email:    name + "-" + string(rune('a'+i)) + "@example.com",
				Password: "s3cret-pass",
			})
		}(i, name)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		require.ErrorIs(t, err, apperrors.ErrConflict)
	}
	require.Equal(t, 1, created)

	var count int64
	require.NoError(t, f.db.Model(&models.User{}).Where("username = ?", "oscar").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestUserServiceFindByUsername(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	user := f.register(t, "Carol", "s3cret-pass")

	found, err := f.users.FindByUsername(ctx, "carol")
	require.NoError(t, err)
	require.Equal(t, user.ID, found.ID)

	found, err = f.users.FindByUsername(ctx, "CAROL@example.com")
	require.NoError(t, err)
	require.Equal(t, user.ID, found.ID)

	_, err = f.users.FindByUsername(ctx, "nobody")
	require.ErrorIs(t, err, ErrUserNotFound)
	require.ErrorIs(t, err, auth.ErrUnknownUser)
}

func TestUserServiceVerifyPassword(t *testing.T) {
	f := newUserFixture(t)
	user := f.register(t, "dave", "s3cret-pass")

	require.True(t, f.users.VerifyPassword(user, "s3cret-pass"))
	require.False(t, f.users.VerifyPassword(user, "wrong"))
	require.False(t, f.users.VerifyPassword(nil, "s3cret-pass"))
}

func TestUserServiceMarkLogin(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	user := f.register(t, "erin", "s3cret-pass")

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.users.MarkLogin(ctx, user.ID, at))

	stored, err := f.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)
	require.True(t, stored.LastLoginAt.Equal(at))

	require.ErrorIs(t, f.users.MarkLogin(ctx, "missing", at), ErrUserNotFound)
}

func TestUserServiceList(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	for _, name := range []string{"user-a", "user-b", "user-c"} {
		f.register(t, name, "s3cret-pass")
	}

	users, total, err := f.users.List(ctx, ListUsersOptions{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, users, 2)

	users, _, err = f.users.List(ctx, ListUsersOptions{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, users, 1)

	users, total, err = f.users.List(ctx, ListUsersOptions{Query: "USER-B"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "user-b", users[0].Username)
}

func TestUserServiceUpdateProfile(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	user := f.register(t, "frank", "s3cret-pass")
	issued := f.login(t, "frank", "s3cret-pass")

	first := "Frank"
	email := "Frank.New@Example.com"
	updated, err := f.users.Update(ctx, user.ID, UpdateUserInput{FirstName: &first, Email: &email})
	require.NoError(t, err)
	require.Equal(t, "Frank", updated.FirstName)
	require.Equal(t, "frank.new@example.com", updated.Email)

	// Profile edits leave sessions alone.
	_, err = f.sessions.Authenticate(ctx, issued.Token)
	require.NoError(t, err)
}

func TestUserServiceUpdateRejectsTakenUsername(t *testing.T) {
	f := newUserFixture(t)
	f.register(t, "grace", "s3cret-pass")
	heidi := f.register(t, "heidi", "s3cret-pass")

	name := "grace"
	_, err := f.users.Update(context.Background(), heidi.ID, UpdateUserInput{Username: &name})
	require.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestUserServicePasswordChangeRevokesSessions(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	user := f.register(t, "ivan", "old-password")
	first := f.login(t, "ivan", "old-password")
	second := f.login(t, "ivan", "old-password")

	newPassword := "new-password"
	_, err := f.users.Update(ctx, user.ID, UpdateUserInput{Password: &newPassword})
	require.NoError(t, err)

	for _, issued := range []*auth.IssuedSession{first, second} {
		_, err := f.sessions.Authenticate(ctx, issued.Token)
		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	}

	_, _, err = f.sessions.Login(ctx, auth.LoginInput{Identifier: "ivan", Password: "old-password"})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	f.login(t, "ivan", "new-password")
}

func TestUserServiceSelfPasswordChangeNeedsCurrentPassword(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	user := f.register(t, "judy", "old-password")
	issued := f.login(t, "judy", "old-password")

	newPassword := "new-password"
	_, err := f.users.Update(ctx, user.ID, UpdateUserInput{Password: &newPassword, RequireCurrentPassword: true})
	require.ErrorIs(t, err, ErrCurrentPasswordRequired)

	wrong := "not-it"
	_, err = f.users.Update(ctx, user.ID, UpdateUserInput{Password: &newPassword, CurrentPassword: &wrong, RequireCurrentPassword: true})
	require.ErrorIs(t, err, ErrCurrentPasswordMismatch)

	// Rejected changes keep the session and the old password.
	_, err = f.sessions.Authenticate(ctx, issued.Token)
	require.NoError(t, err)

	current := "old-password"
	_, err = f.users.Update(ctx, user.ID, UpdateUserInput{Password: &newPassword, CurrentPassword: &current, RequireCurrentPassword: true})
	require.NoError(t, err)

	_, err = f.sessions.Authenticate(ctx, issued.Token)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestUserServiceDeactivateRevokesSessions(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	user := f.register(t, "ken", "s3cret-pass")
	issued := f.login(t, "ken", "s3cret-pass")

	inactive := false
	updated, err := f.users.Update(ctx, user.ID, UpdateUserInput{IsActive: &inactive})
	require.NoError(t, err)
	require.False(t, updated.IsActive)

	_, err = f.sessions.Authenticate(ctx, issued.Token)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, _, err = f.sessions.Login(ctx, auth.LoginInput{Identifier: "ken", Password: "s3cret-pass"})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestUserServiceDeleteRevokesSessions(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	user := f.register(t, "leo", "s3cret-pass")
	issued := f.login(t, "leo", "s3cret-pass")

	require.NoError(t, f.users.Delete(ctx, user.ID))

	_, err := f.users.FindByID(ctx, user.ID)
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.sessions.Authenticate(ctx, issued.Token)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	var live int64
	require.NoError(t, f.db.Model(&models.Session{}).Where("user_id = ? AND revoked = ?", user.ID, false).Count(&live).Error)
	require.Zero(t, live)

	require.ErrorIs(t, f.users.Delete(ctx, user.ID), ErrUserNotFound)
}

func TestUserServiceEnsureAdmin(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	admin, created, err := f.users.EnsureAdmin(ctx, "root", "root@example.com", "s3cret-pass")
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, admin.IsAdmin)

	again, created, err := f.users.EnsureAdmin(ctx, "root", "root@example.com", "s3cret-pass")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, admin.ID, again.ID)
}
