package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/famblog/internal/models"
	"golang.org/x/oauth2"
)

var testJWTSecret = []byte("super-secret-jwt-token-with-at-least-32-characters")

func signAccessToken(t *testing.T, secret []byte, sub uuid.UUID, exp time.Time) string {
	t.Helper()

	claims := &accessClaims{
		Email: "mum@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.String(),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func newTestHostedProvider(t *testing.T, api http.Handler, secret []byte) *HostedProvider {
	t.Helper()

	p, err := NewHostedProvider(HostedProviderConfig{
		Client:    newTestHostedClient(t, api),
		JWTSecret: secret,
	})
	require.NoError(t, err)
	return p
}

func requestWithCookies(cookies map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	for name, value := range cookies {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return r
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHostedProvider_Identify(t *testing.T) {
	ctx := context.Background()

	t.Run("no cookies is anonymous", func(t *testing.T) {
		api := newFakeAuthAPI()
		p := newTestHostedProvider(t, api, nil)

		identity, cookies, err := p.Identify(ctx, requestWithCookies(nil))
		require.NoError(t, err)
		require.Nil(t, identity)
		require.Empty(t, cookies)
		require.Zero(t, api.userCalls.Load())
	})

	t.Run("locally verified token skips the API", func(t *testing.T) {
		api := newFakeAuthAPI()
		p := newTestHostedProvider(t, api, testJWTSecret)

		token := signAccessToken(t, testJWTSecret, testIdentityID, time.Now().Add(time.Hour))
		identity, cookies, err := p.Identify(ctx, requestWithCookies(map[string]string{AccessTokenCookie: token}))
		require.NoError(t, err)
		require.Equal(t, testIdentityID, identity.ID)
		require.Equal(t, "mum@example.com", identity.Email)
		require.Empty(t, cookies)
		require.Zero(t, api.userCalls.Load())
	})

	t.Run("token signed with another secret is refreshed", func(t *testing.T) {
		api := newFakeAuthAPI()
		p := newTestHostedProvider(t, api, testJWTSecret)

		token := signAccessToken(t, []byte("some-other-secret-that-is-also-long-enough"), testIdentityID, time.Now().Add(time.Hour))
		identity, cookies, err := p.Identify(ctx, requestWithCookies(map[string]string{
			AccessTokenCookie:  token,
			RefreshTokenCookie: "refresh-1",
		}))
		require.NoError(t, err)
		require.Equal(t, testIdentityID, identity.ID)
		require.Len(t, cookies, 2)
		require.Equal(t, int32(1), api.refreshCalls.Load())
	})

	t.Run("expired token is refreshed and cookies rewritten", func(t *testing.T) {
		api := newFakeAuthAPI()
		p := newTestHostedProvider(t, api, testJWTSecret)

		token := signAccessToken(t, testJWTSecret, testIdentityID, time.Now().Add(-time.Minute))
		identity, cookies, err := p.Identify(ctx, requestWithCookies(map[string]string{
			AccessTokenCookie:  token,
			RefreshTokenCookie: "refresh-1",
		}))
		require.NoError(t, err)
		require.Equal(t, testIdentityID, identity.ID)

		access := cookieByName(cookies, AccessTokenCookie)
		require.NotNil(t, access)
		require.Equal(t, "access-2", access.Value)
		require.True(t, access.HttpOnly)

		refresh := cookieByName(cookies, RefreshTokenCookie)
		require.NotNil(t, refresh)
		require.Equal(t, "refresh-2", refresh.Value)
	})

	t.Run("rejected refresh clears cookies", func(t *testing.T) {
		api := newFakeAuthAPI()
		p := newTestHostedProvider(t, api, testJWTSecret)

		token := signAccessToken(t, testJWTSecret, testIdentityID, time.Now().Add(-time.Minute))
		identity, cookies, err := p.Identify(ctx, requestWithCookies(map[string]string{
			AccessTokenCookie:  token,
			RefreshTokenCookie: "revoked",
		}))
		require.NoError(t, err)
		require.Nil(t, identity)
		require.Len(t, cookies, 2)
		for _, c := range cookies {
			require.Equal(t, -1, c.MaxAge)
			require.Empty(t, c.Value)
		}
	})

	t.Run("expired token without refresh token clears cookies", func(t *testing.T) {
		p := newTestHostedProvider(t, newFakeAuthAPI(), testJWTSecret)

		token := signAccessToken(t, testJWTSecret, testIdentityID, time.Now().Add(-time.Minute))
		identity, cookies, err := p.Identify(ctx, requestWithCookies(map[string]string{AccessTokenCookie: token}))
		require.NoError(t, err)
		require.Nil(t, identity)
		require.Len(t, cookies, 2)
	})

	t.Run("without a secret the API is asked", func(t *testing.T) {
		api := newFakeAuthAPI()
		p := newTestHostedProvider(t, api, nil)

		identity, cookies, err := p.Identify(ctx, requestWithCookies(map[string]string{AccessTokenCookie: "access-1"}))
		require.NoError(t, err)
		require.Equal(t, testIdentityID, identity.ID)
		require.Empty(t, cookies)
		require.Equal(t, int32(1), api.userCalls.Load())
	})

	t.Run("without a secret an expired jwt goes straight to refresh", func(t *testing.T) {
		api := newFakeAuthAPI()
		p := newTestHostedProvider(t, api, nil)

		token := signAccessToken(t, testJWTSecret, testIdentityID, time.Now().Add(-time.Minute))
		identity, _, err := p.Identify(ctx, requestWithCookies(map[string]string{
			AccessTokenCookie:  token,
			RefreshTokenCookie: "refresh-1",
		}))
		require.NoError(t, err)
		require.Equal(t, testIdentityID, identity.ID)
		require.Zero(t, api.userCalls.Load())
		require.Equal(t, int32(1), api.refreshCalls.Load())
	})

	t.Run("backend outage is an error without cookie rewrites", func(t *testing.T) {
		api := newFakeAuthAPI()
		api.userStatus = http.StatusInternalServerError
		p := newTestHostedProvider(t, api, nil)

		identity, cookies, err := p.Identify(ctx, requestWithCookies(map[string]string{
			AccessTokenCookie:  "access-1",
			RefreshTokenCookie: "refresh-1",
		}))
		require.Error(t, err)
		require.Nil(t, identity)
		require.Empty(t, cookies)
		require.Zero(t, api.refreshCalls.Load())
	})
}

func TestHostedProvider_IssueAndRevoke(t *testing.T) {
	ctx := context.Background()
	api := newFakeAuthAPI()
	p := newTestHostedProvider(t, api, nil)

	login := &Login{
		Identity: &models.Identity{ID: testIdentityID, Email: "mum@example.com"},
		Token:    &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: time.Now().Add(time.Hour)},
	}

	rec := httptest.NewRecorder()
	require.NoError(t, p.Issue(ctx, rec, httptest.NewRequest(http.MethodPost, "/login", nil), login))

	issued := rec.Result().Cookies()
	require.Equal(t, "access-1", cookieByName(issued, AccessTokenCookie).Value)
	require.Equal(t, "refresh-1", cookieByName(issued, RefreshTokenCookie).Value)

	rec = httptest.NewRecorder()
	require.NoError(t, p.Revoke(ctx, rec, requestWithCookies(map[string]string{AccessTokenCookie: "access-1"})))
	require.Equal(t, int32(1), api.logoutCalls.Load())
	require.Equal(t, LogoutScopeLocal, api.logoutScope.Load())

	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 2)
	for _, c := range cleared {
		require.Empty(t, c.Value)
	}

	require.Error(t, p.Issue(ctx, httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/login", nil), &Login{}))
}

func TestHostedProvider_RevokeAll(t *testing.T) {
	ctx := context.Background()
	api := newFakeAuthAPI()
	p := newTestHostedProvider(t, api, nil)

	rec := httptest.NewRecorder()
	require.NoError(t, p.RevokeAll(ctx, rec, requestWithCookies(map[string]string{AccessTokenCookie: "access-1"})))
	require.Equal(t, int32(1), api.logoutCalls.Load())
	require.Equal(t, LogoutScopeGlobal, api.logoutScope.Load())

	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 2)
	for _, c := range cleared {
		require.Equal(t, -1, c.MaxAge)
	}

	// without an access token there is nothing to revoke upstream
	rec = httptest.NewRecorder()
	require.NoError(t, p.RevokeAll(ctx, rec, requestWithCookies(nil)))
	require.Equal(t, int32(1), api.logoutCalls.Load())
	require.Len(t, rec.Result().Cookies(), 2)
}
