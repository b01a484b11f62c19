package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/famblog/internal/models"
)

// Sentinel errors for profile store operations
var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrProfileInvalid  = errors.New("profile invalid")
)

// ProfileStore reads application profiles keyed by identity ID.
type ProfileStore interface {
	// GetProfile retrieves the profile for an identity.
	// Returns ErrProfileNotFound if no row exists and ErrProfileInvalid if the
	// row is missing fields the authorization policy requires.
	GetProfile(ctx context.Context, identityID uuid.UUID) (*models.Profile, error)
}

// ProfileWriter is implemented by stores that can also persist profiles.
// The hosted REST backend is read-only and does not implement it.
type ProfileWriter interface {
	// PutProfile creates or replaces a profile.
	PutProfile(ctx context.Context, profile *models.Profile) error
}
