package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/famblog/internal/models"
	"github.com/wolfeidau/famblog/internal/store"
)

var _ store.SessionStore = (*SessionStore)(nil)

// SessionStore implements store.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{
		pool: pool,
	}
}

// Create creates a new session in the database.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (
			session_id, identity_id, email,
			created_at, expires_at, last_used_at,
			user_agent, ip_address
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	// Unparseable or empty addresses are stored as NULL
	var ipAddress *netip.Addr
	if addr, err := netip.ParseAddr(session.IPAddress); err == nil {
		ipAddress = &addr
	}

	_, err := s.pool.Exec(ctx, query,
		session.SessionID,
		session.IdentityID,
		session.Email,
		session.CreatedAt,
		session.ExpiresAt,
		session.LastUsedAt,
		session.UserAgent,
		ipAddress,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("session_id", session.SessionID.String()).
		Str("identity_id", session.IdentityID.String()).
		Msg("Created session")

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	query := `
		SELECT
			session_id, identity_id, email,
			created_at, expires_at, last_used_at,
			user_agent, ip_address
		FROM sessions
		WHERE session_id = $1
	`

	var session models.Session
	var ipAddress *netip.Addr
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&session.SessionID,
		&session.IdentityID,
		&session.Email,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.LastUsedAt,
		&session.UserAgent,
		&ipAddress,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", mapPostgresError(err))
	}

	if ipAddress != nil {
		session.IPAddress = ipAddress.String()
	}

	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	return &session, nil
}

// Extend moves expires_at forward and bumps last_used_at.
func (s *SessionStore) Extend(ctx context.Context, sessionID uuid.UUID, expiresAt time.Time) error {
	query := `
		UPDATE sessions
		SET expires_at = $2, last_used_at = $3
		WHERE session_id = $1
	`

	result, err := s.pool.Exec(ctx, query, sessionID, expiresAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to extend session: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}

	return nil
}

// Delete deletes a session by ID (logout).
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}

	log.Debug().
		Str("session_id", sessionID.String()).
		Msg("Deleted session")

	return nil
}

// DeleteByIdentity deletes all sessions for an identity (logout everywhere).
func (s *SessionStore) DeleteByIdentity(ctx context.Context, identityID uuid.UUID) (int, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE identity_id = $1`, identityID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions by identity: %w", mapPostgresError(err))
	}

	count := int(result.RowsAffected())

	log.Info().
		Str("identity_id", identityID.String()).
		Int("count", count).
		Msg("Deleted all sessions for identity")

	return count, nil
}

// DeleteExpired deletes all expired sessions (cleanup job).
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", mapPostgresError(err))
	}

	return int(result.RowsAffected()), nil
}
