// Package gate intercepts every inbound request, resolves who is asking and
// either forwards the request or redirects it.
package gate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/famblog/internal/authz"
	httpmiddleware "github.com/wolfeidau/famblog/internal/http"
	"github.com/wolfeidau/famblog/internal/models"
	"github.com/wolfeidau/famblog/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Default paths.
const (
	DefaultLoginPath    = "/login"
	DefaultFallbackPath = "/dashboard"
	DefaultHomePath     = "/"

	// NextParam carries the original destination through the login page.
	NextParam = "next"
)

// IdentityResolver resolves the identity behind a request. It never fails:
// errors are reported as a nil identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, r *http.Request) (*models.Identity, []*http.Cookie)
}

// ProfileLoader loads the profile of an identity, nil when there is none.
type ProfileLoader interface {
	Load(ctx context.Context, identityID uuid.UUID) *models.Profile
}

// Config holds the redirect targets of the gate.
type Config struct {
	// LoginPath receives unauthenticated requests for protected paths.
	LoginPath string
	// FallbackPath receives authenticated requests lacking privilege.
	FallbackPath string
	// HomePath is where an authenticated visitor of LoginPath lands when
	// there is no usable next parameter.
	HomePath string
}

func (c Config) withDefaults() Config {
	if c.LoginPath == "" {
		c.LoginPath = DefaultLoginPath
	}
	if c.FallbackPath == "" {
		c.FallbackPath = DefaultFallbackPath
	}
	if c.HomePath == "" {
		c.HomePath = DefaultHomePath
	}
	return c
}

// LoginURL returns the login path carrying next as the original destination.
// next is dropped when empty or when it points at the login page itself.
func (c Config) LoginURL(next string) string {
	if next == "" || path.Clean(targetPath(next)) == c.LoginPath {
		return c.LoginPath
	}
	return c.LoginPath + "?" + url.Values{NextParam: {next}}.Encode()
}

// Location returns where a request for target is redirected under d, or ""
// when the request is forwarded.
func (c Config) Location(d authz.Decision, target string) string {
	switch d.Outcome {
	case authz.OutcomeForward:
		return ""
	case authz.OutcomeLogin:
		return c.LoginURL(target)
	default:
		return c.FallbackPath
	}
}

// Gate is the route gate middleware.
type Gate struct {
	resolver IdentityResolver
	loader   ProfileLoader
	policy   *authz.Policy
	cfg      Config
}

// New validates cfg against the policy so that no redirect target can
// bounce back to itself.
func New(resolver IdentityResolver, loader ProfileLoader, policy *authz.Policy, cfg Config) (*Gate, error) {
	if resolver == nil || loader == nil || policy == nil {
		return nil, fmt.Errorf("resolver, loader and policy are required")
	}

	cfg = cfg.withDefaults()
	for name, p := range map[string]string{"login": cfg.LoginPath, "fallback": cfg.FallbackPath, "home": cfg.HomePath} {
		if !strings.HasPrefix(p, "/") || path.Clean(p) != p {
			return nil, fmt.Errorf("%s path %q must be a clean absolute path", name, p)
		}
	}

	rules := policy.Rules()
	if priv := rules.PrivilegeFor(cfg.LoginPath); priv != authz.PrivilegeNone {
		return nil, fmt.Errorf("login path %q must be public, rules require %s", cfg.LoginPath, priv)
	}
	if priv := rules.PrivilegeFor(cfg.FallbackPath); priv == authz.PrivilegeSuperAdmin {
		return nil, fmt.Errorf("fallback path %q must not require %s", cfg.FallbackPath, priv)
	}
	if priv := rules.PrivilegeFor(cfg.HomePath); priv == authz.PrivilegeSuperAdmin {
		return nil, fmt.Errorf("home path %q must not require %s", cfg.HomePath, priv)
	}

	return &Gate{resolver: resolver, loader: loader, policy: policy, cfg: cfg}, nil
}

// Config returns the effective configuration.
func (g *Gate) Config() Config {
	return g.cfg
}

// Middleware resolves the subject of each request and applies the policy.
// Cookie rewrites from the resolver are written before any redirect.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, cookies := g.resolver.Resolve(ctx, r)
		for _, c := range cookies {
			http.SetCookie(w, c)
		}

		subject := authz.Subject{Identity: identity}
		if identity != nil {
			subject.Profile = g.loader.Load(ctx, identity.ID)
		}

		if subject.Authenticated() && g.isLoginPage(r) {
			if target, ok := g.loginDestination(subject, r); ok {
				g.redirect(w, r, target)
				return
			}
		}

		decision := g.policy.Evaluate(subject, r.URL.Path)
		g.record(ctx, r, subject, decision)

		if location := g.cfg.Location(decision, httpmiddleware.RequestTarget(r)); location != "" {
			g.redirect(w, r, location)
			return
		}

		ctx = withSubject(ctx, subject)
		ctx = withDecision(ctx, decision)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoginURL returns the login path carrying next as the original destination.
func (g *Gate) LoginURL(next string) string {
	return g.cfg.LoginURL(next)
}

// Destination returns where subject should land after logging in: next when
// it is a safe same-origin path the policy lets subject reach, otherwise
// HomePath when reachable. ok is false when neither is reachable.
func (g *Gate) Destination(subject authz.Subject, next string) (string, bool) {
	if target := httpmiddleware.SafeRedirectPath(next, ""); target != "" && !g.isLoginTarget(target) {
		if g.policy.Evaluate(subject, targetPath(target)).Allowed {
			return target, true
		}
	}
	if g.policy.Evaluate(subject, g.cfg.HomePath).Allowed && g.cfg.HomePath != g.cfg.LoginPath {
		return g.cfg.HomePath, true
	}
	return "", false
}

func (g *Gate) loginDestination(subject authz.Subject, r *http.Request) (string, bool) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return "", false
	}
	return g.Destination(subject, r.URL.Query().Get(NextParam))
}

func (g *Gate) isLoginPage(r *http.Request) bool {
	return path.Clean(r.URL.Path) == g.cfg.LoginPath
}

func (g *Gate) isLoginTarget(target string) bool {
	return path.Clean(targetPath(target)) == g.cfg.LoginPath
}

func (g *Gate) redirect(w http.ResponseWriter, r *http.Request, target string) {
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}

func (g *Gate) record(ctx context.Context, r *http.Request, subject authz.Subject, d authz.Decision) {
	telemetry.GetMetrics().GateDecisionsTotal.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("outcome", d.Outcome.String()),
		attribute.String("privilege", d.Required.String()),
	))

	evt := log.Ctx(ctx).Debug().
		Str("path", r.URL.Path).
		Stringer("required", d.Required).
		Stringer("outcome", d.Outcome).
		Bool("super_admin", d.IsSuperAdmin).
		Bool("has_profile", subject.Profile != nil)
	if d.Matched {
		evt = evt.Str("rule", d.Rule.PathPrefix)
	}
	if subject.Identity != nil {
		evt = evt.Str("identity_id", subject.Identity.ID.String())
	}
	evt.Msg("Gate decision")
}

// targetPath strips the query from a redirect target.
func targetPath(target string) string {
	p, _, _ := strings.Cut(target, "?")
	return p
}
