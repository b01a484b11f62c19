package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	httpmiddleware "github.com/wolfeidau/famblog/internal/http"
	"github.com/wolfeidau/famblog/internal/models"
	"github.com/wolfeidau/famblog/internal/store"
	"github.com/wolfeidau/famblog/internal/telemetry"
)

const (
	// SessionCookie holds the base58 encoded session ID.
	SessionCookie = "famblog_session"

	DefaultSessionTTL = 7 * 24 * time.Hour
)

var (
	_ Provider = (*StoredSessionProvider)(nil)
	_ Issuer   = (*StoredSessionProvider)(nil)
)

// StoredSessionProvider identifies requests by an opaque session cookie
// backed by a SessionStore. Sessions slide: once less than half the TTL
// remains the expiry is pushed out and the cookie reissued.
type StoredSessionProvider struct {
	sessions store.SessionStore
	cookies  CookieOptions
	ttl      time.Duration
	now      func() time.Time
}

// NewStoredSessionProvider returns a provider over sessions.
func NewStoredSessionProvider(sessions store.SessionStore, cookies CookieOptions, ttl time.Duration) *StoredSessionProvider {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &StoredSessionProvider{
		sessions: sessions,
		cookies:  cookies,
		ttl:      ttl,
		now:      time.Now,
	}
}

// EncodeSessionID renders a session ID as a cookie value.
func EncodeSessionID(id uuid.UUID) string {
	return base58.Encode(id[:])
}

// DecodeSessionID parses a cookie value produced by EncodeSessionID.
func DecodeSessionID(value string) (uuid.UUID, error) {
	raw, err := base58.Decode(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid session cookie: %w", err)
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid session cookie: %w", err)
	}
	return id, nil
}

// Identify implements Provider.
func (p *StoredSessionProvider) Identify(ctx context.Context, r *http.Request) (*models.Identity, []*http.Cookie, error) {
	value := cookieValue(r, SessionCookie)
	if value == "" {
		return nil, nil, nil
	}

	sessionID, err := DecodeSessionID(value)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("Clearing malformed session cookie")
		return nil, []*http.Cookie{p.cookies.clearCookie(SessionCookie)}, nil
	}

	session, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) || errors.Is(err, store.ErrSessionExpired) {
			log.Ctx(ctx).Debug().Err(err).Str("session_id", sessionID.String()).Msg("Clearing stale session cookie")
			return nil, []*http.Cookie{p.cookies.clearCookie(SessionCookie)}, nil
		}
		return nil, nil, fmt.Errorf("failed to load session: %w", err)
	}

	identity := &models.Identity{ID: session.IdentityID, Email: session.Email}

	now := p.now()
	if session.Remaining(now) >= p.ttl/2 {
		return identity, nil, nil
	}

	expiresAt := now.Add(p.ttl)
	if err := p.sessions.Extend(ctx, sessionID, expiresAt); err != nil {
		// the session is still valid, only the extension failed
		log.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to extend session")
		return identity, nil, nil
	}

	telemetry.GetMetrics().SessionRefreshesTotal.Add(context.WithoutCancel(ctx), 1)

	return identity, []*http.Cookie{p.cookies.newCookie(SessionCookie, value, expiresAt)}, nil
}

// Issue implements Issuer by creating a session for login.Identity.
// The hosted tokens are not kept, the session owns the login from here on.
func (p *StoredSessionProvider) Issue(ctx context.Context, w http.ResponseWriter, r *http.Request, login *Login) error {
	if login == nil || login.Identity == nil {
		return fmt.Errorf("login is missing an identity")
	}

	sessionID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate session id: %w", err)
	}

	now := p.now()
	session := &models.Session{
		SessionID:  sessionID,
		IdentityID: login.Identity.ID,
		Email:      login.Identity.Email,
		CreatedAt:  now,
		ExpiresAt:  now.Add(p.ttl),
		LastUsedAt: now,
		UserAgent:  r.UserAgent(),
		IPAddress:  httpmiddleware.ClientIPFromContext(r.Context()),
	}

	if err := p.sessions.Create(ctx, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	http.SetCookie(w, p.cookies.newCookie(SessionCookie, EncodeSessionID(sessionID), session.ExpiresAt))

	log.Ctx(ctx).Info().
		Str("session_id", sessionID.String()).
		Str("identity_id", session.IdentityID.String()).
		Msg("Session created")

	return nil
}

// Revoke implements Issuer by deleting the current session.
func (p *StoredSessionProvider) Revoke(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, p.cookies.clearCookie(SessionCookie))

	value := cookieValue(r, SessionCookie)
	if value == "" {
		return nil
	}

	sessionID, err := DecodeSessionID(value)
	if err != nil {
		return nil
	}

	if err := p.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// RevokeAll implements Issuer by deleting every session of the identity
// behind the current session cookie.
func (p *StoredSessionProvider) RevokeAll(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, p.cookies.clearCookie(SessionCookie))

	value := cookieValue(r, SessionCookie)
	if value == "" {
		return nil
	}

	sessionID, err := DecodeSessionID(value)
	if err != nil {
		return nil
	}

	session, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) || errors.Is(err, store.ErrSessionExpired) {
			return nil
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	n, err := p.sessions.DeleteByIdentity(ctx, session.IdentityID)
	if err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("identity_id", session.IdentityID.String()).
		Int("count", n).
		Msg("Sessions revoked")

	return nil
}
