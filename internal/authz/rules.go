package authz

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// RouteRule binds a path prefix to the privilege it requires.
type RouteRule struct {
	PathPrefix string    `yaml:"path"`
	Privilege  Privilege `yaml:"privilege"`
}

// RuleTable resolves a request path to the most specific RouteRule.
// It is immutable after construction and safe for concurrent use.
type RuleTable struct {
	rules    []RouteRule // sorted longest prefix first
	fallback Privilege
}

// NewRuleTable validates and normalizes rules. Paths that match no rule
// resolve to defaultPrivilege.
func NewRuleTable(rules []RouteRule, defaultPrivilege Privilege) (*RuleTable, error) {
	seen := make(map[string]struct{}, len(rules))
	normalized := make([]RouteRule, 0, len(rules))

	for _, r := range rules {
		if !strings.HasPrefix(r.PathPrefix, "/") {
			return nil, fmt.Errorf("rule path %q must start with /", r.PathPrefix)
		}
		if r.Privilege < PrivilegeNone || r.Privilege > PrivilegeSuperAdmin {
			return nil, fmt.Errorf("rule %q has invalid privilege %d", r.PathPrefix, int(r.Privilege))
		}

		prefix := normalizePath(r.PathPrefix)
		if _, dup := seen[prefix]; dup {
			return nil, fmt.Errorf("duplicate rule for %q", prefix)
		}
		seen[prefix] = struct{}{}

		normalized = append(normalized, RouteRule{PathPrefix: prefix, Privilege: r.Privilege})
	}

	sort.SliceStable(normalized, func(i, j int) bool {
		return len(normalized[i].PathPrefix) > len(normalized[j].PathPrefix)
	})

	return &RuleTable{rules: normalized, fallback: defaultPrivilege}, nil
}

// Match returns the longest rule whose prefix covers p on a segment boundary,
// so "/dashboard" covers "/dashboard" and "/dashboard/users" but not "/dashboards".
func (t *RuleTable) Match(p string) (RouteRule, bool) {
	p = normalizePath(p)

	for _, r := range t.rules {
		if covers(r.PathPrefix, p) {
			return r, true
		}
	}

	return RouteRule{}, false
}

// PrivilegeFor returns the privilege required for p, falling back to the
// table default when no rule matches.
func (t *RuleTable) PrivilegeFor(p string) Privilege {
	if r, ok := t.Match(p); ok {
		return r.Privilege
	}
	return t.fallback
}

// Rules returns a copy of the normalized rules, longest prefix first.
func (t *RuleTable) Rules() []RouteRule {
	return append([]RouteRule(nil), t.rules...)
}

// Default returns the privilege applied to unmatched paths.
func (t *RuleTable) Default() Privilege {
	return t.fallback
}

func covers(prefix, p string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == '/'
}

// normalizePath cleans dot segments and trailing slashes so "/a/../b/" and "/b"
// resolve to the same rule.
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
