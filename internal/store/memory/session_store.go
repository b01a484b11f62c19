package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/famblog/internal/models"
	"github.com/wolfeidau/famblog/internal/store"
)

var _ store.SessionStore = (*SessionStore)(nil)

// SessionStore implements store.SessionStore using in-memory storage.
// Data is lost on restart, so this is for development and tests.
type SessionStore struct {
	mu sync.RWMutex

	sessions           map[uuid.UUID]*models.Session // session_id -> Session
	sessionsByIdentity map[uuid.UUID][]uuid.UUID     // identity_id -> []session_id
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:           make(map[uuid.UUID]*models.Session),
		sessionsByIdentity: make(map[uuid.UUID][]uuid.UUID),
	}
}

// Create creates a new session in memory.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *session
	s.sessions[session.SessionID] = &clone

	s.sessionsByIdentity[session.IdentityID] = append(
		s.sessionsByIdentity[session.IdentityID],
		session.SessionID,
	)

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, store.ErrSessionNotFound
	}

	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	clone := *session
	return &clone, nil
}

// Extend pushes out the expiry of a session and marks it as used.
func (s *SessionStore) Extend(ctx context.Context, sessionID uuid.UUID, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return store.ErrSessionNotFound
	}

	session.ExpiresAt = expiresAt
	session.LastUsedAt = time.Now()
	return nil
}

// Delete deletes a session by ID.
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return store.ErrSessionNotFound
	}

	s.removeFromIdentityIndex(session.IdentityID, sessionID)
	delete(s.sessions, sessionID)

	return nil
}

// DeleteByIdentity deletes all sessions for an identity.
func (s *SessionStore) DeleteByIdentity(ctx context.Context, identityID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionIDs, exists := s.sessionsByIdentity[identityID]
	if !exists {
		return 0, nil
	}

	for _, sessionID := range sessionIDs {
		delete(s.sessions, sessionID)
	}
	delete(s.sessionsByIdentity, identityID)

	return len(sessionIDs), nil
}

// DeleteExpired deletes all expired sessions.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []uuid.UUID
	now := time.Now()

	for id, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			toDelete = append(toDelete, id)
		}
	}

	for _, sessionID := range toDelete {
		session := s.sessions[sessionID]
		s.removeFromIdentityIndex(session.IdentityID, sessionID)
		delete(s.sessions, sessionID)
	}

	return len(toDelete), nil
}

func (s *SessionStore) removeFromIdentityIndex(identityID, sessionID uuid.UUID) {
	sessionIDs := s.sessionsByIdentity[identityID]
	for i, id := range sessionIDs {
		if id == sessionID {
			s.sessionsByIdentity[identityID] = append(sessionIDs[:i], sessionIDs[i+1:]...)
			break
		}
	}
	if len(s.sessionsByIdentity[identityID]) == 0 {
		delete(s.sessionsByIdentity, identityID)
	}
}
