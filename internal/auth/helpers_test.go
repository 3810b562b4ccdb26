package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/charlesng35/accounts/internal/database/testutil"
	"github.com/charlesng35/accounts/internal/models"
	"github.com/charlesng35/accounts/pkg/crypto"
)

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

// dbCredentials is a CredentialStore over the users table that counts hash comparisons.
type dbCredentials struct {
	db     *gorm.DB
	dummy  string
	hasher crypto.PasswordHasher
	calls  atomic.Int64
}

func (c *dbCredentials) FindByUsername(ctx context.Context, identifier string) (*models.User, error) {
	var user models.User
	lowered := strings.ToLower(identifier)
	err := c.db.WithContext(ctx).Where("LOWER(username) = ? OR LOWER(email) = ?", lowered, lowered).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownUser
	}
	return &user, err
}

func (c *dbCredentials) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := c.db.WithContext(ctx).Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownUser
	}
	return &user, err
}

func (c *dbCredentials) VerifyPassword(user *models.User, candidate string) bool {
	c.calls.Add(1)
	if user == nil {
		c.hasher.Verify(c.dummy, candidate)
		return false
	}
	return c.hasher.Verify(user.Password, candidate)
}

func (c *dbCredentials) MarkLogin(ctx context.Context, userID string, at time.Time) error {
	return c.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("last_login_at", at).Error
}

type sessionFixture struct {
	db      *gorm.DB
	clock   *testClock
	codec   *TokenCodec
	store   *GormSessionStore
	creds   *dbCredentials
	manager *SessionManager
}

func setupSessionManager(t *testing.T) *sessionFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()

	codec, err := NewTokenCodec(TokenConfig{Secret: testSecret, Issuer: "accounts", Clock: clock.Now})
	require.NoError(t, err)

	store, err := NewGormSessionStore(db, WithOperationTimeout(5*time.Second))
	require.NoError(t, err)

	hasher, err := crypto.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	dummy, err := hasher.Hash("dummy-password")
	require.NoError(t, err)
	creds := &dbCredentials{db: db, dummy: dummy, hasher: hasher}

	manager, err := NewSessionManager(store, creds, codec, SessionManagerConfig{SessionTTL: time.Hour, Clock: clock.Now})
	require.NoError(t, err)

	return &sessionFixture{db: db, clock: clock, codec: codec, store: store, creds: creds, manager: manager}
}

func (f *sessionFixture) createUser(t *testing.T, username, password string, admin bool) *models.User {
	t.Helper()

	hash, err := f.creds.hasher.Hash(password)
	require.NoError(t, err)

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: hash,
		IsAdmin:  admin,
		IsActive: true,
	}
	require.NoError(t, f.db.Create(user).Error)
	return user
}

func (f *sessionFixture) login(t *testing.T, username, password string) *IssuedSession {
	t.Helper()
	issued, _, err := f.manager.Login(context.Background(), LoginInput{Identifier: username, Password: password})
	require.NoError(t, err)
	return issued
}
