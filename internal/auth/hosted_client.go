package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/wolfeidau/famblog/internal/models"
	"golang.org/x/oauth2"
)

// ErrInvalidCredentials is returned by PasswordGrant for a wrong email or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

const maxAuthResponseBytes = 64 * 1024

// Login is the result of a successful token grant.
type Login struct {
	Identity *models.Identity
	Token    *oauth2.Token
}

// HostedClientConfig configures the hosted auth API client.
type HostedClientConfig struct {
	// BaseURL is the auth API root, e.g. https://xyz.example.co/auth/v1
	BaseURL string
	// APIKey is the public (anon) key sent as the apikey header.
	APIKey string
	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
	// MaxTries bounds attempts for transient failures, default 3.
	MaxTries uint
	// InitialInterval is the first retry delay, default 100ms.
	InitialInterval time.Duration
}

// HostedClient talks to a GoTrue-compatible auth API.
type HostedClient struct {
	baseURL         string
	apiKey          string
	client          *http.Client
	maxTries        uint
	initialInterval time.Duration
}

// NewHostedClient validates the config and returns a client.
func NewHostedClient(cfg HostedClientConfig) (*HostedClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("auth base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid auth base URL: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}

	return &HostedClient{
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		client:          cfg.HTTPClient,
		maxTries:        cfg.MaxTries,
		initialInterval: cfg.InitialInterval,
	}, nil
}

// StatusError is a non-2xx response from the auth API.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth API returned HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("auth API returned HTTP %d", e.StatusCode)
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (u *userResponse) toIdentity() (*models.Identity, error) {
	id, err := uuid.Parse(u.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", u.ID, err)
	}
	return &models.Identity{ID: id, Email: u.Email}, nil
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

func (t *tokenResponse) toLogin() (*Login, error) {
	if t.AccessToken == "" || t.RefreshToken == "" {
		return nil, fmt.Errorf("token response is missing tokens")
	}

	identity, err := t.User.toIdentity()
	if err != nil {
		return nil, err
	}

	expiry := time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	if t.ExpiresAt > 0 {
		expiry = time.Unix(t.ExpiresAt, 0)
	}

	return &Login{
		Identity: identity,
		Token: &oauth2.Token{
			AccessToken:  t.AccessToken,
			TokenType:    t.TokenType,
			RefreshToken: t.RefreshToken,
			Expiry:       expiry,
		},
	}, nil
}

// User returns the identity owning accessToken.
// Returns ErrUnauthenticated if the token is rejected.
func (c *HostedClient) User(ctx context.Context, accessToken string) (*models.Identity, error) {
	var user userResponse
	err := c.do(ctx, http.MethodGet, "/user", nil, accessToken, nil, &user)
	if err != nil {
		if isRejected(err, http.StatusUnauthorized, http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}

	return user.toIdentity()
}

// RefreshToken exchanges a refresh token for a new token pair.
// Returns ErrUnauthenticated if the refresh token is rejected.
func (c *HostedClient) RefreshToken(ctx context.Context, refreshToken string) (*Login, error) {
	q := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": refreshToken}

	var tok tokenResponse
	err := c.do(ctx, http.MethodPost, "/token", q, "", body, &tok)
	if err != nil {
		if isRejected(err, http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	return tok.toLogin()
}

// PasswordGrant signs in with email and password.
// Returns ErrInvalidCredentials if the backend rejects them.
func (c *HostedClient) PasswordGrant(ctx context.Context, email, password string) (*Login, error) {
	q := url.Values{"grant_type": {"password"}}
	body := map[string]string{"email": email, "password": password}

	var tok tokenResponse
	err := c.do(ctx, http.MethodPost, "/token", q, "", body, &tok)
	if err != nil {
		if isRejected(err, http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}

	return tok.toLogin()
}

// Logout scopes accepted by the auth API.
const (
	LogoutScopeLocal  = "local"
	LogoutScopeGlobal = "global"
)

// Logout revokes refresh tokens for the user behind accessToken. The local
// scope ends only this session, the global scope ends all of them.
func (c *HostedClient) Logout(ctx context.Context, accessToken, scope string) error {
	if err := c.do(ctx, http.MethodPost, "/logout", url.Values{"scope": {scope}}, accessToken, nil, nil); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

// do performs one API call, retrying network errors, 5xx and 429 with
// exponential backoff. Other statuses are returned as *StatusError.
func (c *HostedClient) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	operation := func() (struct{}, error) {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("apikey", c.apiKey)
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil {
				return struct{}{}, nil
			}
			if err := json.NewDecoder(io.LimitReader(resp.Body, maxAuthResponseBytes)).Decode(out); err != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
			}
			return struct{}{}, nil
		}

		statusErr := readStatusError(resp)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				return struct{}{}, backoff.RetryAfter(secs)
			}
			return struct{}{}, statusErr
		case resp.StatusCode >= 500:
			return struct{}{}, statusErr
		default:
			return struct{}{}, backoff.Permanent(statusErr)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = 10 * c.initialInterval

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
	)
	return err
}

func readStatusError(resp *http.Response) *StatusError {
	statusErr := &StatusError{StatusCode: resp.StatusCode}

	var body struct {
		Error            string `json:"error"`
		ErrorCode        string `json:"error_code"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAuthResponseBytes)).Decode(&body); err != nil {
		return statusErr
	}

	statusErr.Code = body.ErrorCode
	if statusErr.Code == "" {
		statusErr.Code = body.Error
	}
	statusErr.Message = body.Msg
	if statusErr.Message == "" {
		statusErr.Message = body.ErrorDescription
	}
	return statusErr
}

func isRejected(err error, statuses ...int) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	for _, s := range statuses {
		if statusErr.StatusCode == s {
			return true
		}
	}
	return false
}
