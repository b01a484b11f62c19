package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/famblog/internal/store"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *ProfileStore {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st, err := NewProfileStore(Config{BaseURL: srv.URL + "/rest/v1", ServiceKey: "service-key"})
	require.NoError(t, err)
	return st
}

func TestProfileStore_GetProfile(t *testing.T) {
	id := uuid.MustParse("0b7f1e2a-56a4-4c5f-9f6e-1f7d7f2f1a11")

	t.Run("returns the profile row", func(t *testing.T) {
		st := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/rest/v1/profiles", r.URL.Path)
			require.Equal(t, "eq."+id.String(), r.URL.Query().Get("id"))
			require.Equal(t, "id,role,family_id,name", r.URL.Query().Get("select"))
			require.Equal(t, "service-key", r.Header.Get("apikey"))
			require.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

			_, _ = w.Write([]byte(`[{"id":"` + id.String() + `","role":"admin","family_id":"fam-1","name":"Mum"}]`))
		})

		profile, err := st.GetProfile(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, id, profile.ID)
		require.Equal(t, "admin", profile.Role)
		require.Equal(t, "fam-1", profile.FamilyID)
		require.Equal(t, "Mum", profile.Name)
	})

	t.Run("no rows", func(t *testing.T) {
		st := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		})

		_, err := st.GetProfile(context.Background(), id)
		require.ErrorIs(t, err, store.ErrProfileNotFound)
	})

	t.Run("malformed rows are invalid", func(t *testing.T) {
		bodies := map[string]string{
			"null family":    `[{"id":"` + id.String() + `","role":"admin","family_id":null}]`,
			"missing role":   `[{"id":"` + id.String() + `","family_id":"fam-1"}]`,
			"blank role":     `[{"id":"` + id.String() + `","role":" ","family_id":"fam-1"}]`,
			"wrong id":       `[{"id":"` + uuid.NewString() + `","role":"admin","family_id":"fam-1"}]`,
			"not an array":   `{"id":"` + id.String() + `"}`,
			"role is number": `[{"id":"` + id.String() + `","role":7,"family_id":"fam-1"}]`,
			"two rows":       `[{"id":"` + id.String() + `","role":"admin","family_id":"a"},{"id":"` + id.String() + `","role":"admin","family_id":"b"}]`,
		}

		for name, body := range bodies {
			t.Run(name, func(t *testing.T) {
				st := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
					_, _ = w.Write([]byte(body))
				})

				_, err := st.GetProfile(context.Background(), id)
				require.ErrorIs(t, err, store.ErrProfileInvalid)
			})
		}
	})

	t.Run("server error", func(t *testing.T) {
		st := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		_, err := st.GetProfile(context.Background(), id)
		require.Error(t, err)
		require.NotErrorIs(t, err, store.ErrProfileNotFound)
	})
}

func TestNewProfileStore(t *testing.T) {
	_, err := NewProfileStore(Config{})
	require.Error(t, err)

	st, err := NewProfileStore(Config{BaseURL: "https://db.example.com/rest/v1/"})
	require.NoError(t, err)
	require.Equal(t, "https://db.example.com/rest/v1", st.baseURL)
	require.Equal(t, "profiles", st.table)
}
