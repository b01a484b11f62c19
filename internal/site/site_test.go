package site

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/famblog/internal/auth"
	"github.com/wolfeidau/famblog/internal/authz"
	"github.com/wolfeidau/famblog/internal/gate"
	"github.com/wolfeidau/famblog/internal/models"
	"github.com/wolfeidau/famblog/internal/store/memory"
)

var adminID = uuid.MustParse("0b7f1e2a-56a4-4c5f-9f6e-1f7d7f2f1a11")

type staticProvider struct {
	identity *models.Identity
}

func (p staticProvider) Identify(ctx context.Context, r *http.Request) (*models.Identity, []*http.Cookie, error) {
	return p.identity, nil, nil
}

func newTestHandler(t *testing.T, identity *models.Identity) http.Handler {
	t.Helper()

	profiles := memory.NewProfileStore()
	require.NoError(t, profiles.PutProfile(context.Background(), &models.Profile{
		ID: adminID, Role: models.RoleAdmin, FamilyID: "fam-1", Name: "Mum",
	}))

	policy, err := authz.NewPolicy(authz.Config{
		Rules: []authz.RouteRule{
			{PathPrefix: "/dashboard", Privilege: authz.PrivilegeAuthenticated},
			{PathPrefix: "/api", Privilege: authz.PrivilegeAuthenticated},
		},
		SuperAdminFamilyIDs: []string{"fam-1"},
	})
	require.NoError(t, err)

	g, err := gate.New(
		auth.NewResolver(staticProvider{identity: identity}, time.Second),
		auth.NewProfileLoader(profiles, time.Second),
		policy,
		gate.Config{},
	)
	require.NoError(t, err)

	mux := http.NewServeMux()
	New(Config{}).RegisterRoutes(mux)
	return g.Middleware(mux)
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestSite_Pages(t *testing.T) {
	h := newTestHandler(t, &models.Identity{ID: adminID, Email: "mum@example.com"})

	rec := get(h, "/dashboard/points")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Signed in as mum@example.com (super admin)")
	require.Contains(t, rec.Body.String(), `name="scope" value="all"`)

	rec = get(h, "/blog/hello-world")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Blog /blog/hello-world")

	rec = get(h, "/healthz")
	require.Equal(t, "ok\n", rec.Body.String())

	rec = get(h, "/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSite_LoginPage(t *testing.T) {
	h := newTestHandler(t, nil)

	rec := get(h, "/login?next=%2Fdashboard&error_code=invalid")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `name="next" value="/dashboard"`)
	require.Contains(t, body, "Sign in failed: invalid")

	rec = get(h, "/login?next=%22%3E%3Cscript%3E")
	require.NotContains(t, rec.Body.String(), "<script>")
}

func TestSite_Me(t *testing.T) {
	h := newTestHandler(t, &models.Identity{ID: adminID, Email: "mum@example.com"})

	rec := get(h, "/api/me")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp meResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, adminID.String(), resp.IdentityID)
	require.Equal(t, "admin", resp.Role)
	require.True(t, resp.SuperAdmin)

	anonymous := newTestHandler(t, nil)
	rec = get(anonymous, "/api/me")
	require.Equal(t, http.StatusFound, rec.Code)
}
