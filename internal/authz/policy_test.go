package authz

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/famblog/internal/models"
)

const superFamily = "79ed05a1-e0e5-4d8c-9a79-d8756c488171"

func testPolicy(t *testing.T) *Policy {
	t.Helper()

	p, err := NewPolicy(Config{
		Rules: []RouteRule{
			{PathPrefix: "/", Privilege: PrivilegeNone},
			{PathPrefix: "/dashboard", Privilege: PrivilegeAuthenticated},
			{PathPrefix: "/dashboard/users", Privilege: PrivilegeSuperAdmin},
			{PathPrefix: "/dashboard/categories", Privilege: PrivilegeSuperAdmin},
		},
		DefaultPrivilege:    PrivilegeNone,
		SuperAdminFamilyIDs: []string{superFamily},
	})
	require.NoError(t, err)
	return p
}

func subject(role, family string) Subject {
	id := uuid.New()
	return Subject{
		Identity: &models.Identity{ID: id, Email: "someone@example.com"},
		Profile:  &models.Profile{ID: id, Role: role, FamilyID: family},
	}
}

func TestPolicy_IsSuperAdmin(t *testing.T) {
	p := testPolicy(t)

	tests := []struct {
		name     string
		profile  *models.Profile
		expected bool
	}{
		{name: "admin of the super admin family", profile: &models.Profile{Role: "admin", FamilyID: superFamily}, expected: true},
		{name: "admin of another family", profile: &models.Profile{Role: "admin", FamilyID: "other-tenant"}, expected: false},
		{name: "member of the super admin family", profile: &models.Profile{Role: "member", FamilyID: superFamily}, expected: false},
		{name: "role compare is exact", profile: &models.Profile{Role: "Admin", FamilyID: superFamily}, expected: false},
		{name: "empty role", profile: &models.Profile{FamilyID: superFamily}, expected: false},
		{name: "no profile", profile: nil, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, p.IsSuperAdmin(tt.profile))
		})
	}
}

func TestPolicy_Evaluate_anonymous(t *testing.T) {
	p := testPolicy(t)

	tests := []struct {
		path     string
		allowed  bool
		outcome  Outcome
		required Privilege
	}{
		{path: "/", allowed: true, outcome: OutcomeForward, required: PrivilegeNone},
		{path: "/blog/hello-world", allowed: true, outcome: OutcomeForward, required: PrivilegeNone},
		{path: "/dashboard", allowed: false, outcome: OutcomeLogin, required: PrivilegeAuthenticated},
		{path: "/dashboard/posts/3", allowed: false, outcome: OutcomeLogin, required: PrivilegeAuthenticated},
		{path: "/dashboard/users", allowed: false, outcome: OutcomeLogin, required: PrivilegeSuperAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			d := p.Evaluate(Subject{}, tt.path)
			require.Equal(t, tt.allowed, d.Allowed)
			require.Equal(t, tt.outcome, d.Outcome)
			require.Equal(t, tt.required, d.Required)
			require.False(t, d.IsSuperAdmin)
			// anonymous requests are allowed exactly when the path is public
			require.Equal(t, d.Required == PrivilegeNone, d.Allowed)
		})
	}
}

func TestPolicy_Evaluate_longestPrefix(t *testing.T) {
	p := testPolicy(t)

	d := p.Evaluate(subject("member", "fam-1"), "/dashboard/users/5")
	require.True(t, d.Matched)
	require.Equal(t, "/dashboard/users", d.Rule.PathPrefix)
	require.Equal(t, PrivilegeSuperAdmin, d.Required)

	d = p.Evaluate(subject("member", "fam-1"), "/dashboard/usersettings")
	require.Equal(t, "/dashboard", d.Rule.PathPrefix)
	require.True(t, d.Allowed)
}

func TestPolicy_Evaluate_scenarios(t *testing.T) {
	p := testPolicy(t)

	t.Run("super admin reaches user admin", func(t *testing.T) {
		d := p.Evaluate(subject("admin", superFamily), "/dashboard/users")
		require.True(t, d.IsSuperAdmin)
		require.True(t, d.Allowed)
		require.Equal(t, OutcomeForward, d.Outcome)
	})

	t.Run("admin of other tenant is redirected to fallback", func(t *testing.T) {
		d := p.Evaluate(subject("admin", "other-tenant"), "/dashboard/users")
		require.False(t, d.IsSuperAdmin)
		require.False(t, d.Allowed)
		require.Equal(t, OutcomeInsufficient, d.Outcome)
	})

	t.Run("authenticated member reaches dashboard", func(t *testing.T) {
		d := p.Evaluate(subject("member", "fam-1"), "/dashboard")
		require.True(t, d.Allowed)
	})

	t.Run("identity without profile reaches dashboard", func(t *testing.T) {
		s := Subject{Identity: &models.Identity{ID: uuid.New()}}
		d := p.Evaluate(s, "/dashboard/posts")
		require.True(t, d.Allowed)
	})

	t.Run("identity without profile is sent to login for privileged paths", func(t *testing.T) {
		s := Subject{Identity: &models.Identity{ID: uuid.New()}}
		d := p.Evaluate(s, "/dashboard/categories/new")
		require.False(t, d.Allowed)
		require.Equal(t, OutcomeLogin, d.Outcome)
	})
}

func TestPolicy_Evaluate_idempotent(t *testing.T) {
	p := testPolicy(t)
	s := subject("admin", "other-tenant")

	for _, path := range []string{"/", "/dashboard", "/dashboard/users/9", "/unknown"} {
		first := p.Evaluate(s, path)
		second := p.Evaluate(s, path)
		require.Equal(t, first, second, path)
	}
}

func TestPolicy_Evaluate_defaultPrivilege(t *testing.T) {
	t.Run("default allow for unmatched paths", func(t *testing.T) {
		p, err := NewPolicy(Config{
			Rules: []RouteRule{{PathPrefix: "/dashboard", Privilege: PrivilegeAuthenticated}},
		})
		require.NoError(t, err)

		d := p.Evaluate(Subject{}, "/about")
		require.False(t, d.Matched)
		require.True(t, d.Allowed)
		require.Equal(t, PrivilegeNone, d.Required)
	})

	t.Run("default deny for unmatched paths", func(t *testing.T) {
		p, err := NewPolicy(Config{
			Rules:            []RouteRule{{PathPrefix: "/blog", Privilege: PrivilegeNone}},
			DefaultPrivilege: PrivilegeAuthenticated,
		})
		require.NoError(t, err)

		d := p.Evaluate(Subject{}, "/about")
		require.False(t, d.Matched)
		require.False(t, d.Allowed)
		require.Equal(t, OutcomeLogin, d.Outcome)

		d = p.Evaluate(Subject{}, "/blog/post")
		require.True(t, d.Allowed)
	})
}

func TestPolicy_Evaluate_noSuperAdminFamilies(t *testing.T) {
	p, err := NewPolicy(Config{
		Rules: []RouteRule{{PathPrefix: "/dashboard/users", Privilege: PrivilegeSuperAdmin}},
	})
	require.NoError(t, err)

	d := p.Evaluate(subject("admin", superFamily), "/dashboard/users")
	require.False(t, d.Allowed)
	require.Equal(t, OutcomeInsufficient, d.Outcome)
}

func TestNewPolicy_invalid(t *testing.T) {
	_, err := NewPolicy(Config{SuperAdminFamilyIDs: []string{" "}})
	require.Error(t, err)

	_, err = NewPolicy(Config{Rules: []RouteRule{{PathPrefix: "dashboard"}}})
	require.Error(t, err)
}

func TestOutcome_String(t *testing.T) {
	require.Equal(t, "forward", OutcomeForward.String())
	require.Equal(t, "login", OutcomeLogin.String())
	require.Equal(t, "insufficient_privilege", OutcomeInsufficient.String())
}
