package gate

import (
	"context"

	"github.com/wolfeidau/famblog/internal/authz"
)

type contextKey int

const (
	subjectContextKey contextKey = iota
	decisionContextKey
)

func withSubject(ctx context.Context, subject authz.Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey, subject)
}

func withDecision(ctx context.Context, decision authz.Decision) context.Context {
	return context.WithValue(ctx, decisionContextKey, decision)
}

// SubjectFromContext returns the subject attached by the gate to a forwarded request.
func SubjectFromContext(ctx context.Context) (authz.Subject, bool) {
	subject, ok := ctx.Value(subjectContextKey).(authz.Subject)
	return subject, ok
}

// DecisionFromContext returns the decision that let the request through.
func DecisionFromContext(ctx context.Context) (authz.Decision, bool) {
	decision, ok := ctx.Value(decisionContextKey).(authz.Decision)
	return decision, ok
}
