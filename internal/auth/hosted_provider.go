package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/famblog/internal/models"
	"github.com/wolfeidau/famblog/internal/telemetry"
)

// Cookie names used by the hosted backend's browser SDK.
const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"
)

// DefaultHostedCookieTTL keeps token cookies around long enough for an
// expired access token to be refreshed.
const DefaultHostedCookieTTL = 7 * 24 * time.Hour

var (
	_ Provider = (*HostedProvider)(nil)
	_ Issuer   = (*HostedProvider)(nil)
)

// HostedProviderConfig configures the hosted token provider.
type HostedProviderConfig struct {
	Client *HostedClient
	// JWTSecret enables local HS256 verification of access tokens.
	// When empty every request asks the auth API who owns the token.
	JWTSecret []byte
	Cookies   CookieOptions
	CookieTTL time.Duration
}

// HostedProvider identifies requests by the access and refresh token cookies
// issued by the hosted auth API, refreshing expired access tokens.
type HostedProvider struct {
	client    *HostedClient
	jwtSecret []byte
	cookies   CookieOptions
	cookieTTL time.Duration
}

// NewHostedProvider returns a provider backed by cfg.Client.
func NewHostedProvider(cfg HostedProviderConfig) (*HostedProvider, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("hosted auth client is required")
	}
	if cfg.CookieTTL <= 0 {
		cfg.CookieTTL = DefaultHostedCookieTTL
	}

	return &HostedProvider{
		client:    cfg.Client,
		jwtSecret: cfg.JWTSecret,
		cookies:   cfg.Cookies,
		cookieTTL: cfg.CookieTTL,
	}, nil
}

// accessClaims are the claims the hosted backend puts in access tokens.
type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (c *accessClaims) identity() (*models.Identity, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid subject: %w", ErrUnauthenticated, err)
	}
	return &models.Identity{ID: id, Email: c.Email}, nil
}

// Identify implements Provider.
func (p *HostedProvider) Identify(ctx context.Context, r *http.Request) (*models.Identity, []*http.Cookie, error) {
	accessToken := cookieValue(r, AccessTokenCookie)
	refreshToken := cookieValue(r, RefreshTokenCookie)

	if accessToken == "" && refreshToken == "" {
		return nil, nil, nil
	}

	if accessToken != "" {
		identity, err := p.verifyAccessToken(ctx, accessToken)
		if err == nil {
			return identity, nil, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return nil, nil, err
		}
		log.Ctx(ctx).Debug().Err(err).Msg("Access token rejected")
	}

	if refreshToken == "" {
		return nil, p.clearCookies(), nil
	}

	login, err := p.client.RefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			log.Ctx(ctx).Debug().Err(err).Msg("Refresh token rejected, clearing cookies")
			return nil, p.clearCookies(), nil
		}
		return nil, nil, err
	}

	telemetry.GetMetrics().SessionRefreshesTotal.Add(context.WithoutCancel(ctx), 1)
	log.Ctx(ctx).Debug().Str("identity_id", login.Identity.ID.String()).Msg("Access token refreshed")

	return login.Identity, p.tokenCookies(login), nil
}

// verifyAccessToken returns ErrUnauthenticated for expired or rejected tokens.
func (p *HostedProvider) verifyAccessToken(ctx context.Context, accessToken string) (*models.Identity, error) {
	claims := &accessClaims{}

	if len(p.jwtSecret) > 0 {
		_, err := jwt.ParseWithClaims(accessToken, claims, func(t *jwt.Token) (any, error) {
			return p.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		return claims.identity()
	}

	// Skip the round trip for tokens that are already expired.
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err == nil {
		if claims.ExpiresAt != nil && !claims.ExpiresAt.After(time.Now()) {
			return nil, fmt.Errorf("%w: access token expired", ErrUnauthenticated)
		}
	}

	return p.client.User(ctx, accessToken)
}

// Issue implements Issuer by writing both token cookies.
func (p *HostedProvider) Issue(ctx context.Context, w http.ResponseWriter, r *http.Request, login *Login) error {
	if login == nil || login.Token == nil || login.Identity == nil {
		return fmt.Errorf("login is missing a token or identity")
	}

	SetCookies(w, p.tokenCookies(login))
	log.Ctx(ctx).Info().Str("identity_id", login.Identity.ID.String()).Msg("Hosted login issued")
	return nil
}

// Revoke implements Issuer. The backend logout is best effort, the cookies
// are always cleared.
func (p *HostedProvider) Revoke(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	p.logout(ctx, r, LogoutScopeLocal)
	SetCookies(w, p.clearCookies())
	return nil
}

// RevokeAll implements Issuer by asking the auth API to end every session
// of the user. Cookies are always cleared.
func (p *HostedProvider) RevokeAll(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	p.logout(ctx, r, LogoutScopeGlobal)
	SetCookies(w, p.clearCookies())
	return nil
}

func (p *HostedProvider) logout(ctx context.Context, r *http.Request, scope string) {
	accessToken := cookieValue(r, AccessTokenCookie)
	if accessToken == "" {
		return
	}
	if err := p.client.Logout(ctx, accessToken, scope); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("scope", scope).Msg("Hosted logout failed, clearing cookies anyway")
	}
}

func (p *HostedProvider) tokenCookies(login *Login) []*http.Cookie {
	expiresAt := time.Now().Add(p.cookieTTL)
	return []*http.Cookie{
		p.cookies.newCookie(AccessTokenCookie, login.Token.AccessToken, expiresAt),
		p.cookies.newCookie(RefreshTokenCookie, login.Token.RefreshToken, expiresAt),
	}
}

func (p *HostedProvider) clearCookies() []*http.Cookie {
	return []*http.Cookie{
		p.cookies.clearCookie(AccessTokenCookie),
		p.cookies.clearCookie(RefreshTokenCookie),
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
