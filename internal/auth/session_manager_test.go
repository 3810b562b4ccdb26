package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/accounts/internal/models"
	apperrors "github.com/charlesng35/accounts/pkg/errors"
)

func TestNewSessionManagerValidatesDependencies(t *testing.T) {
	f := setupSessionManager(t)

	_, err := NewSessionManager(nil, f.creds, f.codec, SessionManagerConfig{})
	require.Error(t, err)
	_, err = NewSessionManager(f.store, nil, f.codec, SessionManagerConfig{})
	require.Error(t, err)
	_, err = NewSessionManager(f.store, f.creds, nil, SessionManagerConfig{})
	require.Error(t, err)
}

func TestLoginIssuesSession(t *testing.T) {
	f := setupSessionManager(t)
	user := f.createUser(t, "alice", "password123", false)

	issued, loggedIn, err := f.manager.Login(context.Background(), LoginInput{
		Identifier:     "ALICE",
		Password:       "password123",
		ClientMetadata: ClientMetadata{IPAddress: "10.0.0.1", UserAgent: "test-agent"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)
	require.Equal(t, user.ID, loggedIn.ID)
	require.NotNil(t, loggedIn.LastLoginAt)

	session := issued.Session
	require.Equal(t, user.ID, session.UserID)
	require.Equal(t, "10.0.0.1", session.IPAddress)
	require.True(t, session.ExpiresAt.Equal(f.clock.Now().Add(time.Hour)))

	sessionID, err := f.codec.Verify(issued.Token)
	require.NoError(t, err)
	require.Equal(t, session.ID, sessionID)
}

func TestLoginAcceptsEmail(t *testing.T) {
	f := setupSessionManager(t)
	f.createUser(t, "alice", "password123", false)

	_, _, err := f.manager.Login(context.Background(), LoginInput{Identifier: "alice@example.com", Password: "password123"})
	require.NoError(t, err)
}

func TestLoginFailuresCollapseToInvalidCredentials(t *testing.T) {
	f := setupSessionManager(t)
	f.createUser(t, "alice", "password123", false)
	inactive := f.createUser(t, "carol", "password123", false)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", inactive.ID).Update("is_active", false).Error)
	ctx := context.Background()

	cases := []LoginInput{
		{Identifier: "alice", Password: "wrong"},
		{Identifier: "nobody", Password: "password123"},
		{Identifier: "carol", Password: "password123"},
		{Identifier: "", Password: "password123"},
	}
	for _, in := range cases {
		before := f.creds.calls.Load()
		_, _, err := f.manager.Login(ctx, in)
		require.ErrorIs(t, err, apperrors.ErrInvalidCredentials, "identifier %q", in.Identifier)
		require.Equal(t, before+1, f.creds.calls.Load(), "every failure path must pay for one hash comparison")
	}

	var count int64
	require.NoError(t, f.db.Model(&models.Session{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestAuthenticateValidSession(t *testing.T) {
	f := setupSessionManager(t)
	user := f.createUser(t, "alice", "password123", false)
	issued := f.login(t, "alice", "password123")

	principal, err := f.manager.Authenticate(context.Background(), issued.Token)
	require.NoError(t, err)
	require.Equal(t, user.ID, principal.UserID)
	require.Equal(t, issued.Session.ID, principal.SessionID)
}

func TestAuthenticateRejectsExpiredAndRevoked(t *testing.T) {
	f := setupSessionManager(t)
	f.createUser(t, "alice", "password123", false)
	ctx := context.Background()

	revoked := f.login(t, "alice", "password123")
	_, err := f.store.Revoke(ctx, revoked.Session.ID, f.clock.Now())
	require.NoError(t, err)
	_, err = f.manager.Authenticate(ctx, revoked.Token)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	expiring := f.login(t, "alice", "password123")
	f.clock.Advance(time.Hour)
	_, err = f.manager.Authenticate(ctx, expiring.Token)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = f.manager.Authenticate(ctx, "garbage")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestAuthenticateRejectsPurgedSession(t *testing.T) {
	f := setupSessionManager(t)
	f.createUser(t, "alice", "password123", false)
	issued := f.login(t, "alice", "password123")
	require.NoError(t, f.db.Delete(&models.Session{}, "id = ?", issued.Session.ID).Error)

	_, err := f.manager.Authenticate(context.Background(), issued.Token)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestRefreshRotatesSession(t *testing.T) {
	f := setupSessionManager(t)
	user := f.createUser(t, "alice", "password123", false)
	ctx := context.Background()

	t1 := f.login(t, "alice", "password123")
	f.clock.Advance(10 * time.Minute)

	t2, err := f.manager.Refresh(ctx, t1.Token, ClientMetadata{IPAddress: "10.0.0.2"})
	require.NoError(t, err)
	require.NotEqual(t, t1.Token, t2.Token)
	require.NotEqual(t, t1.Session.ID, t2.Session.ID)
	require.NotNil(t, t2.Session.PredecessorID)
	require.Equal(t, t1.Session.ID, *t2.Session.PredecessorID)
	require.True(t, t2.Session.ExpiresAt.After(t1.Session.ExpiresAt), "successor gets a fresh lifetime")

	_, err = f.manager.Authenticate(ctx, t1.Token)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	principal, err := f.manager.Authenticate(ctx, t2.Token)
	require.NoError(t, err)
	require.Equal(t, user.ID, principal.UserID)

	old, err := f.store.FindByID(ctx, t1.Session.ID)
	require.NoError(t, err)
	require.True(t, old.Revoked)
	require.True(t, old.ExpiresAt.Equal(t1.Session.ExpiresAt), "expiry is never extended in place")
}

func TestRefreshIsSingleUse(t *testing.T) {
	f := setupSessionManager(t)
	f.createUser(t, "alice", "password123", false)
	ctx := context.Background()

	t1 := f.login(t, "alice", "password123")
	_, err := f.manager.Refresh(ctx, t1.Token, ClientMetadata{})
	require.NoError(t, err)

	_, err = f.manager.Refresh(ctx, t1.Token, ClientMetadata{})
	require.ErrorIs(t, err, apperrors.ErrSessionInvalid)
}

func TestRefreshErrors(t *testing.T) {
	f := setupSessionManager(t)
	f.createUser(t, "alice", "password123", false)
	ctx := context.Background()

	_, err := f.manager.Refresh(ctx, "not-a-token", ClientMetadata{})
	require.ErrorIs(t, err, apperrors.ErrMalformed)

	foreign, err := NewTokenCodec(TokenConfig{Secret: "ffffffffffffffffffffffffffffffff", Issuer: "accounts", Clock: f.clock.Now})
	require.NoError(t, err)
	forged, err := foreign.Issue("whatever", f.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = f.manager.Refresh(ctx, forged, ClientMetadata{})
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	expired := f.login(t, "alice", "password123")
	f.clock.Advance(2 * time.Hour)
	_, err = f.manager.Refresh(ctx, expired.Token, ClientMetadata{})
	require.ErrorIs(t, err, apperrors.ErrSessionInvalid)

	logged := f.login(t, "alice", "password123")
	require.NoError(t, f.manager.Logout(ctx, logged.Token))
	_, err = f.manager.Refresh(ctx, logged.Token, ClientMetadata{})
	require.ErrorIs(t, err, apperrors.ErrSessionInvalid)
}

func TestConcurrentRefreshHasSingleWinner(t *testing.T) {
	f := setupSessionManager(t)
	f.createUser(t, "alice", "password123", false)
	issued := f.login(t, "alice", "password123")

	const callers = 2
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = f.manager.Refresh(context.Background(), issued.Token, ClientMetadata{})
		}(i)
	}
	close(start)
	wg.Wait()

	var wins, invalid int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case apperrors.ErrSessionInvalid.Is(err):
			invalid++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, invalid)

	var successors int64
	require.NoError(t, f.db.Model(&models.Session{}).Where("predecessor_id = ?", issued.Session.ID).Count(&successors).Error)
	require.EqualValues(t, 1, successors)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := setupSessionManager(t)
	f.createUser(t, "alice", "password123", false)
	ctx := context.Background()
	issued := f.login(t, "alice", "password123")

	require.NoError(t, f.manager.Logout(ctx, issued.Token))
	_, err := f.manager.Authenticate(ctx, issued.Token)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	require.NoError(t, f.manager.Logout(ctx, issued.Token))

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.manager.Logout(ctx, issued.Token), "expired tokens log out quietly")

	require.ErrorIs(t, f.manager.Logout(ctx, "garbage"), apperrors.ErrMalformed)
}

func TestRevokeSessionOwnership(t *testing.T) {
	f := setupSessionManager(t)
	alice := f.createUser(t, "alice", "password123", false)
	bob := f.createUser(t, "bob", "password123", false)
	admin := f.createUser(t, "root", "password123", true)
	ctx := context.Background()

	aliceSession := f.login(t, "alice", "password123")
	bobSession := f.login(t, "bob", "password123")

	err := f.manager.RevokeSession(ctx, Principal{UserID: bob.ID, SessionID: bobSession.Session.ID}, aliceSession.Session.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = f.manager.Authenticate(ctx, aliceSession.Token)
	require.NoError(t, err, "forbidden revoke must leave the session intact")

	require.NoError(t, f.manager.RevokeSession(ctx, Principal{UserID: alice.ID}, aliceSession.Session.ID))
	require.NoError(t, f.manager.RevokeSession(ctx, Principal{UserID: alice.ID}, aliceSession.Session.ID), "revoking twice succeeds")

	require.NoError(t, f.manager.RevokeSession(ctx, Principal{UserID: admin.ID}, bobSession.Session.ID))
	_, err = f.manager.Authenticate(ctx, bobSession.Token)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	err = f.manager.RevokeSession(ctx, Principal{UserID: alice.ID}, "missing")
	require.ErrorIs(t, err, ErrNoSuchSession)
}

func TestRevokeAllSessions(t *testing.T) {
	f := setupSessionManager(t)
	alice := f.createUser(t, "alice", "password123", false)
	f.createUser(t, "bob", "password123", false)
	ctx := context.Background()

	first := f.login(t, "alice", "password123")
	second := f.login(t, "alice", "password123")
	bobs := f.login(t, "bob", "password123")

	revoked, err := f.manager.RevokeAllSessions(ctx, alice.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, revoked)

	for _, issued := range []*IssuedSession{first, second} {
		_, err := f.manager.Authenticate(ctx, issued.Token)
		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	}
	_, err = f.manager.Authenticate(ctx, bobs.Token)
	require.NoError(t, err)

	after := f.login(t, "alice", "password123")
	_, err = f.manager.Authenticate(ctx, after.Token)
	require.NoError(t, err, "sessions created after revoke-all stay valid")

	_, err = f.manager.RevokeAllSessions(ctx, " ")
	require.ErrorIs(t, err, apperrors.ErrMalformed)
}

func TestRevokeAllSessionsUnderConcurrentLogins(t *testing.T) {
	f := setupSessionManager(t)
	alice := f.createUser(t, "alice", "password123", false)
	ctx := context.Background()

	const logins = 4
	errs := make(chan error, logins+1)
	var wg sync.WaitGroup
	for i := 0; i < logins; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.manager.Login(ctx, LoginInput{Identifier: "alice", Password: "password123"})
			errs <- err
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.manager.RevokeAllSessions(ctx, alice.ID)
		errs <- err
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var total int64
	require.NoError(t, f.db.Model(&models.Session{}).Where("user_id = ?", alice.ID).Count(&total).Error)
	require.EqualValues(t, logins, total)

	_, err := f.manager.RevokeAllSessions(ctx, alice.ID)
	require.NoError(t, err)
	live, err := f.manager.ListSessions(ctx, alice.ID)
	require.NoError(t, err)
	require.Empty(t, live)
}

func TestListSessionsAndPurge(t *testing.T) {
	f := setupSessionManager(t)
	alice := f.createUser(t, "alice", "password123", false)
	ctx := context.Background()

	old := f.login(t, "alice", "password123")
	f.clock.Advance(time.Minute)
	newer := f.login(t, "alice", "password123")

	sessions, err := f.manager.ListSessions(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, newer.Session.ID, sessions[0].ID)

	f.clock.Advance(3 * time.Hour)
	purged, err := f.manager.PurgeExpired(ctx, time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 2, purged)

	_, err = f.store.FindByID(ctx, old.Session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}
