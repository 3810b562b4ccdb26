package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/accounts/internal/database"
	"github.com/charlesng35/accounts/internal/models"
)

// TestDBOption customises the behaviour of MustOpenTestDB.
type TestDBOption func(*testDBConfig)

type testDBConfig struct {
	autoMigrate bool
	onDisk      bool
}

// WithAutoMigrate creates the users, sessions and cache_entries tables.
func WithAutoMigrate() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
	}
}

// WithOnDisk stores the database in a file under t.TempDir instead of memory.
func WithOnDisk() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.onDisk = true
	}
}

// MustOpenTestDB opens a private SQLite database for tests, in memory unless
// WithOnDisk is given. The handle is closed via t.Cleanup.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	var cfg testDBConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	dbCfg := database.Config{Driver: "sqlite", Path: ":memory:"}
	if cfg.onDisk {
		dbCfg.Path = filepath.Join(t.TempDir(), "accounts.sqlite")
	}

	db, err := database.Open(dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.Close(db)
	})

	if cfg.autoMigrate {
		require.NoError(t, database.AutoMigrate(db))
	}
	return db
}

// SeedUser inserts an active user whose password hash matches nothing.
func SeedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "!",
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// SeedSession inserts a non-revoked session for userID, issued an hour
// before expiresAt.
func SeedSession(t *testing.T, db *gorm.DB, userID string, expiresAt time.Time) *models.Session {
	t.Helper()

	session := &models.Session{
		UserID:    userID,
		IssuedAt:  expiresAt.Add(-time.Hour),
		ExpiresAt: expiresAt,
	}
	require.NoError(t, db.Create(session).Error)
	return session
}
