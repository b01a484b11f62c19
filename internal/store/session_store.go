package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/famblog/internal/models"
)

// Sentinel errors for session store operations
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// SessionStore defines the interface for server-side session storage.
type SessionStore interface {
	// Create stores a new session.
	Create(ctx context.Context, session *models.Session) error

	// Get retrieves a session by ID.
	// Returns ErrSessionNotFound if it doesn't exist and ErrSessionExpired if it has expired.
	Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)

	// Extend moves the session expiry to expiresAt and records the session as used now.
	// Returns ErrSessionNotFound if the session doesn't exist.
	Extend(ctx context.Context, sessionID uuid.UUID, expiresAt time.Time) error

	// Delete deletes a session by ID (logout).
	Delete(ctx context.Context, sessionID uuid.UUID) error

	// DeleteByIdentity deletes all sessions for an identity (logout everywhere).
	DeleteByIdentity(ctx context.Context, identityID uuid.UUID) (int, error)

	// DeleteExpired deletes all expired sessions (cleanup job).
	DeleteExpired(ctx context.Context) (int, error)
}
