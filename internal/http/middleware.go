package http

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
)

type contextKey string

const clientIPContextKey contextKey = "client_ip"

// ExtractClientIP extracts the client IP address from the request.
// Checks X-Forwarded-For first (for proxied requests), then X-Real-IP, finally RemoteAddr.
// The headers are client controlled, only use this behind a proxy that sets them.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	return RemoteIP(r)
}

// RemoteIP returns the host part of RemoteAddr, ignoring forwarding headers.
func RemoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ClientIPFromContext extracts the client IP stored by ClientIPMiddleware.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPContextKey).(string)
	return ip
}

// ClientIPMiddleware stores the client IP in the request context so that
// session creation and the access log can record it. Forwarding headers are
// only honoured when trustProxy is set.
func ClientIPMiddleware(trustProxy bool) func(http.Handler) http.Handler {
	extract := RemoteIP
	if trustProxy {
		extract = ExtractClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPContextKey, extract(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SafeRedirectPath returns target when it is a same-origin absolute path
// (e.g. "/dashboard?tab=posts"), otherwise fallback. It rejects schemes,
// hosts, protocol-relative "//" paths and backslash tricks.
func SafeRedirectPath(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") {
		return fallback
	}
	if strings.HasPrefix(target, "//") || strings.ContainsAny(target, "\\\r\n\t") {
		return fallback
	}

	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return fallback
	}

	return u.RequestURI()
}

// RequestTarget returns the path and query of r for use as a redirect target.
func RequestTarget(r *http.Request) string {
	return r.URL.RequestURI()
}
