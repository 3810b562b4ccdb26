package models

import "time"

// CacheEntry backs cache.DatabaseStore when Redis is not configured. A zero
// ExpiresAt never expires.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the table name shared with the maintenance purge.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// ExpiredAt reports whether the entry is no longer readable at now.
func (e *CacheEntry) ExpiredAt(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Remaining returns the time left before expiry, or zero for entries without
// expiry or already expired.
func (e *CacheEntry) Remaining(now time.Time) time.Duration {
	if e.ExpiresAt.IsZero() || !now.Before(e.ExpiresAt) {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}
