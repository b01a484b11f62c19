package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is a server-side login session.
// Only the session ID is stored in the cookie, everything else lives in the store.
type Session struct {
	SessionID  uuid.UUID // UUIDv7
	IdentityID uuid.UUID // identity issued by the hosted auth provider
	Email      string

	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time

	// Optional audit metadata
	UserAgent string
	IPAddress string
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Remaining returns how long the session stays valid after now.
func (s *Session) Remaining(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}
