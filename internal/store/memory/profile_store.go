package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/wolfeidau/famblog/internal/models"
	"github.com/wolfeidau/famblog/internal/store"
)

var (
	_ store.ProfileStore  = (*ProfileStore)(nil)
	_ store.ProfileWriter = (*ProfileStore)(nil)
)

// ProfileStore implements store.ProfileStore in memory.
// It is seeded from the config file in development.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]*models.Profile
}

// NewProfileStore creates an empty in-memory profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles: make(map[uuid.UUID]*models.Profile),
	}
}

// GetProfile returns a copy of the stored profile.
func (s *ProfileStore) GetProfile(ctx context.Context, identityID uuid.UUID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[identityID]
	if !ok {
		return nil, store.ErrProfileNotFound
	}

	clone := *profile
	if err := clone.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrProfileInvalid, err)
	}

	return &clone, nil
}

// PutProfile creates or replaces a profile. Invalid profiles are stored as-is
// so that tests can exercise the malformed row path.
func (s *ProfileStore) PutProfile(ctx context.Context, profile *models.Profile) error {
	if profile.ID == uuid.Nil {
		return fmt.Errorf("profile id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *profile
	s.profiles[profile.ID] = &clone
	return nil
}
