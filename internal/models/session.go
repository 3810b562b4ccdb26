package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is one authenticated login instance. Rows are immutable apart from
// the single revoked false->true transition.
type Session struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	UserID        string     `gorm:"size:36;not null;index:idx_sessions_user_revoked,priority:1" json:"user_id"`
	IssuedAt      time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt     time.Time  `gorm:"not null;index" json:"expires_at"`
	Revoked       bool       `gorm:"not null;default:false;index:idx_sessions_user_revoked,priority:2" json:"revoked"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	PredecessorID *string    `gorm:"size:36;index" json:"predecessor_id,omitempty"`
	IPAddress     string     `gorm:"size:64" json:"ip_address"`
	UserAgent     string     `gorm:"size:512" json:"user_agent"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// ValidAt reports whether the session is usable at the given instant.
func (s *Session) ValidAt(now time.Time) bool {
	return s != nil && !s.Revoked && now.Before(s.ExpiresAt)
}
