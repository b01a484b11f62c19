package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRuleTable_Match(t *testing.T) {
	table, err := NewRuleTable([]RouteRule{
		{PathPrefix: "/dashboard/", Privilege: PrivilegeAuthenticated},
		{PathPrefix: "/dashboard/users", Privilege: PrivilegeSuperAdmin},
		{PathPrefix: "/blog", Privilege: PrivilegeNone},
	}, PrivilegeNone)
	require.NoError(t, err)

	tests := []struct {
		name     string
		path     string
		prefix   string
		matched  bool
		required Privilege
	}{
		{name: "exact", path: "/dashboard", prefix: "/dashboard", matched: true, required: PrivilegeAuthenticated},
		{name: "trailing slash", path: "/dashboard/", prefix: "/dashboard", matched: true, required: PrivilegeAuthenticated},
		{name: "nested wins", path: "/dashboard/users/5", prefix: "/dashboard/users", matched: true, required: PrivilegeSuperAdmin},
		{name: "segment boundary", path: "/dashboards", matched: false, required: PrivilegeNone},
		{name: "dot segments", path: "/blog/../dashboard/users", prefix: "/dashboard/users", matched: true, required: PrivilegeSuperAdmin},
		{name: "double slash", path: "//dashboard//users", prefix: "/dashboard/users", matched: true, required: PrivilegeSuperAdmin},
		{name: "unmatched", path: "/about", matched: false, required: PrivilegeNone},
		{name: "empty path", path: "", matched: false, required: PrivilegeNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := table.Match(tt.path)
			require.Equal(t, tt.matched, ok)
			require.Equal(t, tt.prefix, rule.PathPrefix)
			require.Equal(t, tt.required, table.PrivilegeFor(tt.path))
		})
	}
}

func TestRuleTable_rootRule(t *testing.T) {
	table, err := NewRuleTable([]RouteRule{
		{PathPrefix: "/", Privilege: PrivilegeAuthenticated},
		{PathPrefix: "/blog", Privilege: PrivilegeNone},
	}, PrivilegeNone)
	require.NoError(t, err)

	require.Equal(t, PrivilegeAuthenticated, table.PrivilegeFor("/anything"))
	require.Equal(t, PrivilegeNone, table.PrivilegeFor("/blog/x"))
}

func TestNewRuleTable_errors(t *testing.T) {
	_, err := NewRuleTable([]RouteRule{{PathPrefix: "relative"}}, PrivilegeNone)
	require.Error(t, err)

	_, err = NewRuleTable([]RouteRule{
		{PathPrefix: "/a"},
		{PathPrefix: "/a/"},
	}, PrivilegeNone)
	require.ErrorContains(t, err, "duplicate")

	_, err = NewRuleTable([]RouteRule{{PathPrefix: "/a", Privilege: Privilege(9)}}, PrivilegeNone)
	require.Error(t, err)
}

func TestParsePrivilege(t *testing.T) {
	for in, want := range map[string]Privilege{
		"none":          PrivilegeNone,
		"public":        PrivilegeNone,
		"Authenticated": PrivilegeAuthenticated,
		"superAdmin":    PrivilegeSuperAdmin,
		"super_admin":   PrivilegeSuperAdmin,
		" super-admin ": PrivilegeSuperAdmin,
	} {
		got, err := ParsePrivilege(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParsePrivilege("root")
	require.Error(t, err)
}

func TestRouteRule_yaml(t *testing.T) {
	var rules []RouteRule
	err := yaml.Unmarshal([]byte(`
- path: /dashboard
  privilege: authenticated
- path: /dashboard/users
  privilege: superAdmin
`), &rules)
	require.NoError(t, err)
	require.Equal(t, []RouteRule{
		{PathPrefix: "/dashboard", Privilege: PrivilegeAuthenticated},
		{PathPrefix: "/dashboard/users", Privilege: PrivilegeSuperAdmin},
	}, rules)

	err = yaml.Unmarshal([]byte(`[{path: /x, privilege: wizard}]`), &rules)
	require.Error(t, err)
}
