package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/accounts/internal/models"
)

// DatabaseStore implements Store on the primary SQL database. It is the
// fallback used when Redis is not configured.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// DatabaseOption customises a DatabaseStore.
type DatabaseOption func(*DatabaseStore)

// WithClock overrides the time source used for expiry.
func WithClock(clock func() time.Time) DatabaseOption {
	return func(s *DatabaseStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB, opts ...DatabaseOption) *DatabaseStore {
	if db == nil {
		return nil
	}
	store := &DatabaseStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// keyColumn quotes "key", which is reserved in MySQL.
var keyColumn = clause.Column{Name: "key"}

func keyEquals(key string) clause.Eq {
	return clause.Eq{Column: keyColumn, Value: key}
}

// IncrementWithTTL increments the counter for key inside a fixed window that
// starts with the first increment. It returns the count and the time left.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, errors.New("cache: database store not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.now().UTC()

	var (
		count  int64
		expiry time.Time
	)

	// A concurrent first increment can win the insert; the second pass then
	// finds and locks its row.
	for attempt := 0; attempt < 2; attempt++ {
		inserted := true
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var entry models.CacheEntry
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where(keyEquals(key)).
				Take(&entry).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				count = 1
				expiry = now.Add(window)
				result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.CacheEntry{
					Key:       key,
					Value:     []byte("1"),
					ExpiresAt: expiry,
				})
				if result.Error != nil {
					return result.Error
				}
				inserted = result.RowsAffected == 1
				return nil
			}
			if err != nil {
				return err
			}

			if !entry.ExpiresAt.After(now) {
				count = 1
				expiry = now.Add(window)
			} else {
				current, _ := strconv.ParseInt(string(entry.Value), 10, 64)
				count = current + 1
				expiry = entry.ExpiresAt
			}

			return tx.Model(&models.CacheEntry{}).
				Where(keyEquals(key)).
				Updates(map[string]any{
					"value":      []byte(strconv.FormatInt(count, 10)),
					"expires_at": expiry,
				}).Error
		})
		if err != nil {
			return 0, 0, fmt.Errorf("cache: increment %q: %w", key, err)
		}
		if inserted {
			return count, expiry.Sub(now), nil
		}
	}

	return 0, 0, fmt.Errorf("cache: increment %q: lost insert race twice", key)
}

// Set upserts the value for a given key with expiry. ttl <= 0 never expires.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return errors.New("cache: database store not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	expiry := time.Time{}
	if ttl > 0 {
		expiry = s.now().UTC().Add(ttl)
	}

	entry := models.CacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: expiry,
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{keyColumn},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).Create(&entry).Error
}

// Get retrieves a value by key, respecting expiry.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, errors.New("cache: database store not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Where(keyEquals(key)).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if entry.ExpiredAt(s.now()) {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Delete removes keys from the store.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil {
		return errors.New("cache: database store not initialised")
	}
	if len(keys) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	values := make([]any, len(keys))
	for i, key := range keys {
		values[i] = key
	}
	return s.db.WithContext(ctx).
		Where(clause.IN{Column: keyColumn, Values: values}).
		Delete(&models.CacheEntry{}).Error
}

// PurgeExpired deletes entries whose expiry has passed and returns how many
// were removed. Entries without expiry are kept.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, errors.New("cache: database store not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := s.db.WithContext(ctx).
		Where("expires_at > ? AND expires_at <= ?", time.Time{}, s.now().UTC()).
		Delete(&models.CacheEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("cache: purge expired entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}
