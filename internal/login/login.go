// Package login handles the password sign in form and sign out.
package login

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/famblog/internal/auth"
	httpmiddleware "github.com/wolfeidau/famblog/internal/http"
)

// Error codes passed back to the login page.
const (
	ErrorCodeMissing     = "missing"
	ErrorCodeInvalid     = "invalid"
	ErrorCodeUnavailable = "unavailable"
)

// LogoutScopeAll, posted as scope, signs the identity out of every device.
const LogoutScopeAll = "all"

// Authenticator checks an email and password with the auth backend.
type Authenticator interface {
	PasswordGrant(ctx context.Context, email, password string) (*auth.Login, error)
}

// Config holds the paths the handlers redirect to.
type Config struct {
	LoginPath  string
	LogoutPath string
	HomePath   string
}

// Handler serves POST login and POST logout.
type Handler struct {
	authn  Authenticator
	issuer auth.Issuer
	cfg    Config
}

// NewHandler returns a handler that signs in with authn and records logins with issuer.
func NewHandler(authn Authenticator, issuer auth.Issuer, cfg Config) *Handler {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.LogoutPath == "" {
		cfg.LogoutPath = "/logout"
	}
	if cfg.HomePath == "" {
		cfg.HomePath = "/"
	}
	return &Handler{authn: authn, issuer: issuer, cfg: cfg}
}

// RegisterRoutes mounts the handlers on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+h.cfg.LoginPath, h.Login)
	mux.HandleFunc("POST "+h.cfg.LogoutPath, h.Logout)
}

// Login signs in with the posted email and password and redirects to the
// posted next path, or back to the login page with an error_code.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		h.loginFailed(w, r, ErrorCodeMissing, "")
		return
	}

	email := strings.TrimSpace(r.PostForm.Get("email"))
	password := r.PostForm.Get("password")
	next := h.safeNext(r.PostForm.Get("next"))

	if email == "" || password == "" {
		h.loginFailed(w, r, ErrorCodeMissing, next)
		return
	}

	login, err := h.authn.PasswordGrant(ctx, email, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.Ctx(ctx).Info().Str("email", email).Msg("Login rejected")
			h.loginFailed(w, r, ErrorCodeInvalid, next)
			return
		}
		log.Ctx(ctx).Error().Err(err).Msg("Login backend failed")
		h.loginFailed(w, r, ErrorCodeUnavailable, next)
		return
	}

	if err := h.issuer.Issue(ctx, w, r, login); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to issue login")
		h.loginFailed(w, r, ErrorCodeUnavailable, next)
		return
	}

	target := next
	if target == "" {
		target = h.cfg.HomePath
	}

	log.Ctx(ctx).Info().Str("identity_id", login.Identity.ID.String()).Msg("User logged in")
	redirect(w, r, target)
}

// Logout ends the current login, or every login of the identity when scope
// is "all", and returns to the login page.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	revoke := h.issuer.Revoke
	if r.FormValue("scope") == LogoutScopeAll {
		revoke = h.issuer.RevokeAll
	}

	if err := revoke(ctx, w, r); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to revoke login")
	}

	redirect(w, r, h.cfg.LoginPath)
}

// safeNext returns next when it is a same-origin path other than the login
// page itself, otherwise "".
func (h *Handler) safeNext(next string) string {
	target := httpmiddleware.SafeRedirectPath(next, "")
	if target == "" {
		return ""
	}
	p, _, _ := strings.Cut(target, "?")
	if path.Clean(p) == h.cfg.LoginPath {
		return ""
	}
	return target
}

func (h *Handler) loginFailed(w http.ResponseWriter, r *http.Request, code, next string) {
	q := url.Values{"error_code": {code}}
	if next != "" {
		q.Set("next", next)
	}
	redirect(w, r, h.cfg.LoginPath+"?"+q.Encode())
}

// redirect uses 303 so the browser follows a form POST with a GET.
func redirect(w http.ResponseWriter, r *http.Request, target string) {
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusSeeOther)
}
