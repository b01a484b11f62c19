package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/famblog/internal/models"
	"github.com/wolfeidau/famblog/internal/store"
)

var (
	_ store.ProfileStore  = (*ProfileStore)(nil)
	_ store.ProfileWriter = (*ProfileStore)(nil)
)

// ProfileStore implements store.ProfileStore using PostgreSQL.
type ProfileStore struct {
	pool *pgxpool.Pool
}

// NewProfileStore creates a new PostgreSQL-backed profile store.
// It shares the connection pool with the session store.
func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{
		pool: pool,
	}
}

// GetProfile retrieves the profile row for an identity. Columns are read as
// nullable text so hosted schemas with nullable or uuid columns map NULLs to
// store.ErrProfileInvalid instead of a scan failure.
func (s *ProfileStore) GetProfile(ctx context.Context, identityID uuid.UUID) (*models.Profile, error) {
	query := `
		SELECT role::text, family_id::text, name::text
		FROM profiles
		WHERE id = $1
	`

	var role, familyID, name pgtype.Text
	err := s.pool.QueryRow(ctx, query, identityID).Scan(&role, &familyID, &name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", mapPostgresError(err))
	}

	return profileFromRow(identityID, role, familyID, name)
}

func profileFromRow(identityID uuid.UUID, role, familyID, name pgtype.Text) (*models.Profile, error) {
	if !role.Valid || !familyID.Valid {
		return nil, fmt.Errorf("%w: role or family_id is null", store.ErrProfileInvalid)
	}

	profile := &models.Profile{
		ID:       identityID,
		Role:     role.String,
		FamilyID: familyID.String,
		Name:     name.String,
	}

	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrProfileInvalid, err)
	}

	return profile, nil
}

// PutProfile inserts or updates a profile row.
func (s *ProfileStore) PutProfile(ctx context.Context, profile *models.Profile) error {
	query := `
		INSERT INTO profiles (id, role, family_id, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			role = EXCLUDED.role,
			family_id = EXCLUDED.family_id,
			name = EXCLUDED.name,
			updated_at = NOW()
	`

	_, err := s.pool.Exec(ctx, query,
		profile.ID,
		profile.Role,
		profile.FamilyID,
		profile.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to put profile: %w", mapPostgresError(err))
	}

	return nil
}
