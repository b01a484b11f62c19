package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/famblog/internal/models"
	"github.com/wolfeidau/famblog/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrUnauthenticated is returned when credentials are missing or rejected.
var ErrUnauthenticated = errors.New("unauthenticated")

// DefaultTimeout bounds a single identity or profile lookup.
const DefaultTimeout = 3 * time.Second

// Provider identifies the caller of a request from its cookies.
//
// A request without usable credentials returns a nil identity and a nil
// error. The returned cookies are rewrites (refreshed tokens, extended or
// cleared sessions) that must reach the client whatever the gate decides.
// A non-nil error means the backend could not answer.
type Provider interface {
	Identify(ctx context.Context, r *http.Request) (*models.Identity, []*http.Cookie, error)
}

// Issuer establishes and tears down a login on the client.
type Issuer interface {
	// Issue records a successful login for identity and writes the cookies.
	Issue(ctx context.Context, w http.ResponseWriter, r *http.Request, login *Login) error
	// Revoke ends the current login and clears the cookies.
	Revoke(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	// RevokeAll ends every login of the current identity and clears the cookies.
	RevokeAll(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// Resolver resolves the identity of a request and fails open: any backend
// error or timeout yields "no identity".
type Resolver struct {
	provider Provider
	timeout  time.Duration
}

// NewResolver wraps provider with a bounded timeout.
func NewResolver(provider Provider, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{provider: provider, timeout: timeout}
}

// Resolve returns the identity for r, or nil, plus any cookie rewrites.
func (rs *Resolver) Resolve(ctx context.Context, r *http.Request) (*models.Identity, []*http.Cookie) {
	ctx, cancel := context.WithTimeout(ctx, rs.timeout)
	defer cancel()

	start := time.Now()
	identity, cookies, err := rs.provider.Identify(ctx, r)
	recordBackendCall(ctx, "session", start, err)

	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Session resolution failed, treating request as unauthenticated")
		return nil, nil
	}

	return identity, cookies
}

// recordBackendCall counts one backend call and its latency.
func recordBackendCall(ctx context.Context, component string, start time.Time, err error) {
	result := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result = "timeout"
	case err != nil:
		result = "error"
	}

	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("result", result),
	)
	// a cancelled request context must not drop the data point
	ctx = context.WithoutCancel(ctx)
	m.BackendCallsTotal.Add(ctx, 1, attrs)
	m.BackendCallDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
}
