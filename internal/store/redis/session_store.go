package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/wolfeidau/famblog/internal/models"
	"github.com/wolfeidau/famblog/internal/store"
)

var _ store.SessionStore = (*SessionStore)(nil)

// SessionStore implements store.SessionStore on Redis. Each session is a JSON
// value whose key TTL matches the session expiry, and each identity has a set
// of its session IDs for logout-everywhere.
type SessionStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client goredis.UniversalClient) *SessionStore {
	return &SessionStore{
		client: client,
		prefix: "famblog:",
	}
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect creates a client and pings it.
func Connect(ctx context.Context, opts Options) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

type sessionRecord struct {
	SessionID  uuid.UUID `json:"session_id"`
	IdentityID uuid.UUID `json:"identity_id"`
	Email      string    `json:"email"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	UserAgent  string    `json:"user_agent,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
}

func (s *SessionStore) sessionKey(sessionID uuid.UUID) string {
	return s.prefix + "session:" + sessionID.String()
}

func (s *SessionStore) identityKey(identityID uuid.UUID) string {
	return s.prefix + "identity_sessions:" + identityID.String()
}

// Create stores a new session with a TTL matching its expiry.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session: expires_at must be in the future")
	}

	data, err := json.Marshal(toRecord(session))
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	idxKey := s.identityKey(session.IdentityID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(session.SessionID), data, ttl)
	pipe.SAdd(ctx, idxKey, session.SessionID.String())
	pipe.ExpireGT(ctx, idxKey, ttl)
	pipe.ExpireNX(ctx, idxKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	record, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session := record.toModel()
	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	return session, nil
}

// Extend rewrites the session with a new expiry and TTL.
func (s *SessionStore) Extend(ctx context.Context, sessionID uuid.UUID, expiresAt time.Time) error {
	record, err := s.load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("failed to extend session: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return s.Delete(ctx, sessionID)
	}

	record.ExpiresAt = expiresAt
	record.LastUsedAt = time.Now()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	ok, err := s.client.SetXX(ctx, s.sessionKey(sessionID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to extend session: %w", err)
	}
	if !ok {
		return store.ErrSessionNotFound
	}

	idxKey := s.identityKey(record.IdentityID)
	if err := s.client.ExpireGT(ctx, idxKey, ttl).Err(); err != nil {
		return fmt.Errorf("failed to extend session index: %w", err)
	}

	return nil
}

// Delete deletes a session by ID.
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	record, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(sessionID))
	pipe.SRem(ctx, s.identityKey(record.IdentityID), sessionID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// DeleteByIdentity deletes every session in the identity's index.
func (s *SessionStore) DeleteByIdentity(ctx context.Context, identityID uuid.UUID) (int, error) {
	idxKey := s.identityKey(identityID)

	members, err := s.client.SMembers(ctx, idxKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list identity sessions: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		keys = append(keys, s.sessionKey(id))
	}

	pipe := s.client.TxPipeline()
	deleted := pipe.Del(ctx, keys...)
	pipe.Del(ctx, idxKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete identity sessions: %w", err)
	}

	return int(deleted.Val()), nil
}

// DeleteExpired is a no-op, Redis evicts expired sessions through key TTLs.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	return 0, nil
}

func (s *SessionStore) load(ctx context.Context, sessionID uuid.UUID) (*sessionRecord, error) {
	val, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal(val, &record); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}

	return &record, nil
}

func toRecord(s *models.Session) sessionRecord {
	return sessionRecord{
		SessionID:  s.SessionID,
		IdentityID: s.IdentityID,
		Email:      s.Email,
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
		LastUsedAt: s.LastUsedAt,
		UserAgent:  s.UserAgent,
		IPAddress:  s.IPAddress,
	}
}

func (r *sessionRecord) toModel() *models.Session {
	return &models.Session{
		SessionID:  r.SessionID,
		IdentityID: r.IdentityID,
		Email:      r.Email,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
		LastUsedAt: r.LastUsedAt,
		UserAgent:  r.UserAgent,
		IPAddress:  r.IPAddress,
	}
}
