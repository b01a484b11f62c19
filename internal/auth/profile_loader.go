package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/famblog/internal/models"
	"github.com/wolfeidau/famblog/internal/store"
)

// ProfileLoader fetches the profile of an identity on every request.
type ProfileLoader struct {
	profiles store.ProfileStore
	timeout  time.Duration
}

// NewProfileLoader wraps profiles with a bounded timeout.
func NewProfileLoader(profiles store.ProfileStore, timeout time.Duration) *ProfileLoader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ProfileLoader{profiles: profiles, timeout: timeout}
}

// Load returns the profile for identityID, or nil when there is no usable
// profile. A missing row, a malformed row and a backend failure all collapse
// to nil so the policy treats the identity as unprivileged.
func (l *ProfileLoader) Load(ctx context.Context, identityID uuid.UUID) *models.Profile {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	profile, err := l.profiles.GetProfile(ctx, identityID)

	switch {
	case err == nil:
		recordBackendCall(ctx, "profile", start, nil)
		return profile
	case errors.Is(err, store.ErrProfileNotFound):
		recordBackendCall(ctx, "profile", start, nil)
		log.Ctx(ctx).Debug().Str("identity_id", identityID.String()).Msg("No profile for identity")
	case errors.Is(err, store.ErrProfileInvalid):
		recordBackendCall(ctx, "profile", start, nil)
		log.Ctx(ctx).Warn().Err(err).Str("identity_id", identityID.String()).Msg("Ignoring malformed profile")
	default:
		recordBackendCall(ctx, "profile", start, err)
		log.Ctx(ctx).Warn().Err(err).Str("identity_id", identityID.String()).Msg("Profile lookup failed")
	}

	return nil
}
