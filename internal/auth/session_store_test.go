package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/accounts/internal/database"
	"github.com/charlesng35/accounts/internal/models"
)

func newStoredSession(t *testing.T, f *sessionFixture, userID string, ttl time.Duration) *models.Session {
	t.Helper()
	now := f.clock.Now()
	session := &models.Session{UserID: userID, IssuedAt: now, ExpiresAt: now.Add(ttl)}
	require.NoError(t, f.store.Create(context.Background(), session))
	return session
}

func TestNewGormSessionStoreRequiresDB(t *testing.T) {
	_, err := NewGormSessionStore(nil)
	require.Error(t, err)
}

func TestSessionStoreCreateAndFind(t *testing.T) {
	f := setupSessionManager(t)
	user := f.createUser(t, "alice", "password123", false)

	session := newStoredSession(t, f, user.ID, time.Hour)
	require.NotEmpty(t, session.ID)

	found, err := f.store.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, user.ID, found.UserID)
	require.False(t, found.Revoked)
	require.Nil(t, found.PredecessorID)

	_, err = f.store.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreCreateRequiresOwner(t *testing.T) {
	f := setupSessionManager(t)

	err := f.store.Create(context.Background(), &models.Session{UserID: "ghost", ExpiresAt: f.clock.Now().Add(time.Hour)})
	require.ErrorIs(t, err, ErrSessionOwnerMissing)
}

func TestSessionStoreRevokeIsConditional(t *testing.T) {
	f := setupSessionManager(t)
	user := f.createUser(t, "alice", "password123", false)
	session := newStoredSession(t, f, user.ID, time.Hour)
	ctx := context.Background()

	first := f.clock.Now()
	changed, err := f.store.Revoke(ctx, session.ID, first)
	require.NoError(t, err)
	require.True(t, changed)

	f.clock.Advance(time.Minute)
	changed, err = f.store.Revoke(ctx, session.ID, f.clock.Now())
	require.NoError(t, err)
	require.False(t, changed)

	stored, err := f.store.FindByID(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, stored.Revoked)
	require.NotNil(t, stored.RevokedAt)
	require.True(t, stored.RevokedAt.Equal(first), "second revoke must not move revoked_at")

	_, err = f.store.Revoke(ctx, "missing", f.clock.Now())
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreRevokeAllOnlyTouchesOwner(t *testing.T) {
	f := setupSessionManager(t)
	alice := f.createUser(t, "alice", "password123", false)
	bob := f.createUser(t, "bob", "password123", false)
	ctx := context.Background()

	newStoredSession(t, f, alice.ID, time.Hour)
	newStoredSession(t, f, alice.ID, time.Hour)
	bobs := newStoredSession(t, f, bob.ID, time.Hour)

	revoked, err := f.store.RevokeAll(ctx, alice.ID, f.clock.Now())
	require.NoError(t, err)
	require.EqualValues(t, 2, revoked)

	again, err := f.store.RevokeAll(ctx, alice.ID, f.clock.Now())
	require.NoError(t, err)
	require.Zero(t, again)

	stored, err := f.store.FindByID(ctx, bobs.ID)
	require.NoError(t, err)
	require.False(t, stored.Revoked)
}

func TestSessionStoreRotate(t *testing.T) {
	f := setupSessionManager(t)
	user := f.createUser(t, "alice", "password123", false)
	pred := newStoredSession(t, f, user.ID, time.Hour)
	ctx := context.Background()
	now := f.clock.Now()

	successor := &models.Session{UserID: user.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, f.store.Rotate(ctx, pred.ID, successor, now))
	require.NotNil(t, successor.PredecessorID)
	require.Equal(t, pred.ID, *successor.PredecessorID)

	old, err := f.store.FindByID(ctx, pred.ID)
	require.NoError(t, err)
	require.True(t, old.Revoked)

	second := &models.Session{UserID: user.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.ErrorIs(t, f.store.Rotate(ctx, pred.ID, second, now), ErrSessionRotated)

	var count int64
	require.NoError(t, f.db.Model(&models.Session{}).Count(&count).Error)
	require.EqualValues(t, 2, count, "losing rotation must not insert a successor")
}

func TestSessionStoreRotateRejectsExpiredOrForeign(t *testing.T) {
	f := setupSessionManager(t)
	alice := f.createUser(t, "alice", "password123", false)
	bob := f.createUser(t, "bob", "password123", false)
	ctx := context.Background()

	short := newStoredSession(t, f, alice.ID, time.Minute)
	f.clock.Advance(time.Minute)
	now := f.clock.Now()
	require.ErrorIs(t, f.store.Rotate(ctx, short.ID, &models.Session{UserID: alice.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}, now), ErrSessionRotated)

	live := newStoredSession(t, f, alice.ID, time.Hour)
	require.ErrorIs(t, f.store.Rotate(ctx, live.ID, &models.Session{UserID: bob.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}, now), ErrSessionRotated)
}

func TestSessionStoreListActiveAndPurge(t *testing.T) {
	f := setupSessionManager(t)
	user := f.createUser(t, "alice", "password123", false)
	ctx := context.Background()

	expiring := newStoredSession(t, f, user.ID, time.Minute)
	f.clock.Advance(time.Second)
	revoked := newStoredSession(t, f, user.ID, time.Hour)
	f.clock.Advance(time.Second)
	live := newStoredSession(t, f, user.ID, time.Hour)

	_, err := f.store.Revoke(ctx, revoked.ID, f.clock.Now())
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	active, err := f.store.ListActive(ctx, user.ID, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, live.ID, active[0].ID)

	purged, err := f.store.DeleteExpiredBefore(ctx, f.clock.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	_, err = f.store.FindByID(ctx, expiring.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.store.FindByID(ctx, revoked.ID)
	require.NoError(t, err, "revoked but unexpired sessions are retained")
}

func TestSessionStoreJoinsCarriedTransaction(t *testing.T) {
	f := setupSessionManager(t)
	user := f.createUser(t, "alice", "password123", false)
	session := newStoredSession(t, f, user.ID, time.Hour)

	err := database.InTx(context.Background(), f.db, func(ctx context.Context, _ *gorm.DB) error {
		revoked, err := f.store.RevokeAll(ctx, user.ID, f.clock.Now())
		require.NoError(t, err)
		require.EqualValues(t, 1, revoked)
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	stored, err := f.store.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.False(t, stored.Revoked, "revocation rolls back with the outer transaction")
}
