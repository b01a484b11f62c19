package authz

import (
	"fmt"
	"slices"
	"strings"

	"github.com/wolfeidau/famblog/internal/models"
)

// Outcome is what the route gate should do with a request.
type Outcome int

const (
	// OutcomeForward passes the request on.
	OutcomeForward Outcome = iota
	// OutcomeLogin redirects to the login path.
	OutcomeLogin
	// OutcomeInsufficient redirects an authenticated requester to the fallback path.
	OutcomeInsufficient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeForward:
		return "forward"
	case OutcomeLogin:
		return "login"
	case OutcomeInsufficient:
		return "insufficient_privilege"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Subject is who is asking. Identity is nil for anonymous requests, Profile is
// nil when the identity has no (valid) profile row.
type Subject struct {
	Identity *models.Identity
	Profile  *models.Profile
}

// Authenticated reports whether an identity is present.
func (s Subject) Authenticated() bool {
	return s.Identity != nil
}

// Decision is the result of evaluating a Subject against a path.
type Decision struct {
	IsSuperAdmin bool
	Allowed      bool
	Outcome      Outcome
	Required     Privilege
	// Rule is the matched rule; Matched is false when the default applied.
	Rule    RouteRule
	Matched bool
}

// Config is the externally supplied policy configuration.
type Config struct {
	Rules            []RouteRule
	DefaultPrivilege Privilege
	// SuperAdminFamilyIDs lists the families whose admins are super admins.
	SuperAdminFamilyIDs []string
}

// Policy decides whether a subject may reach a path. It performs no I/O and
// holds no mutable state.
type Policy struct {
	rules              *RuleTable
	superAdminFamilies []string
}

// NewPolicy builds a policy from cfg.
func NewPolicy(cfg Config) (*Policy, error) {
	rules, err := NewRuleTable(cfg.Rules, cfg.DefaultPrivilege)
	if err != nil {
		return nil, err
	}

	families := make([]string, 0, len(cfg.SuperAdminFamilyIDs))
	for _, id := range cfg.SuperAdminFamilyIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("super admin family id must not be blank")
		}
		families = append(families, id)
	}

	return &Policy{rules: rules, superAdminFamilies: families}, nil
}

// Rules exposes the rule table, mainly for validation of gate paths.
func (p *Policy) Rules() *RuleTable {
	return p.rules
}

// IsSuperAdmin is true only for an admin whose family is a super admin family.
func (p *Policy) IsSuperAdmin(profile *models.Profile) bool {
	if profile == nil {
		return false
	}
	return profile.IsAdmin() && slices.Contains(p.superAdminFamilies, profile.FamilyID)
}

// Evaluate applies the policy to a request path.
func (p *Policy) Evaluate(subject Subject, requestPath string) Decision {
	rule, matched := p.rules.Match(requestPath)
	required := p.rules.Default()
	if matched {
		required = rule.Privilege
	}

	d := Decision{
		Required: required,
		Rule:     rule,
		Matched:  matched,
	}

	if subject.Authenticated() {
		d.IsSuperAdmin = p.IsSuperAdmin(subject.Profile)
	}

	switch required {
	case PrivilegeNone:
		d.Allowed = true
	case PrivilegeAuthenticated:
		d.Allowed = subject.Authenticated()
	case PrivilegeSuperAdmin:
		d.Allowed = d.IsSuperAdmin
	}

	switch {
	case d.Allowed:
		d.Outcome = OutcomeForward
	case !subject.Authenticated():
		d.Outcome = OutcomeLogin
	case subject.Profile == nil:
		// an identity without a profile is an inconsistent account, send it back to login
		d.Outcome = OutcomeLogin
	default:
		d.Outcome = OutcomeInsufficient
	}

	return d
}
