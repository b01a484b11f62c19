// Package site mounts placeholder pages behind the route gate. Rendering the
// real blog and dashboard happens elsewhere.
package site

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/famblog/internal/gate"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
{{if .Email}}<p>Signed in as {{.Email}}{{if .SuperAdmin}} (super admin){{end}}</p>
<form method="post" action="{{.LogoutPath}}"><button type="submit">Sign out</button></form>
<form method="post" action="{{.LogoutPath}}"><input type="hidden" name="scope" value="all"><button type="submit">Sign out everywhere</button></form>{{end}}
{{if .ShowLogin}}{{if .ErrorCode}}<p role="alert">Sign in failed: {{.ErrorCode}}</p>{{end}}
<form method="post" action="{{.LoginPath}}">
<input type="hidden" name="next" value="{{.Next}}">
<label>Email <input type="email" name="email" autocomplete="username" required></label>
<label>Password <input type="password" name="password" autocomplete="current-password" required></label>
<button type="submit">Sign in</button>
</form>{{end}}
</body>
</html>
`))

type page struct {
	Title      string
	Email      string
	SuperAdmin bool
	ShowLogin  bool
	ErrorCode  string
	Next       string
	LoginPath  string
	LogoutPath string
}

// Config holds the paths the pages link to.
type Config struct {
	LoginPath  string
	LogoutPath string
}

// Site serves the placeholder pages.
type Site struct {
	cfg Config
}

// New returns a Site.
func New(cfg Config) *Site {
	if cfg.LoginPath == "" {
		cfg.LoginPath = gate.DefaultLoginPath
	}
	if cfg.LogoutPath == "" {
		cfg.LogoutPath = "/logout"
	}
	return &Site{cfg: cfg}
}

// RegisterRoutes mounts the pages on mux.
func (s *Site) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.page("Home"))
	mux.HandleFunc("GET /blog/", s.page("Blog"))
	mux.HandleFunc("GET /dashboard", s.page("Dashboard"))
	mux.HandleFunc("GET /dashboard/", s.page("Dashboard"))
	mux.HandleFunc("GET "+s.cfg.LoginPath, s.login)
	mux.HandleFunc("GET /api/me", s.me)
	mux.HandleFunc("GET /healthz", healthz)
}

func (s *Site) page(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := s.newPage(r, title+" "+r.URL.Path)
		s.render(w, r, p)
	}
}

func (s *Site) login(w http.ResponseWriter, r *http.Request) {
	p := s.newPage(r, "Sign in")
	p.ShowLogin = true
	p.ErrorCode = r.URL.Query().Get("error_code")
	p.Next = r.URL.Query().Get(gate.NextParam)
	s.render(w, r, p)
}

func (s *Site) newPage(r *http.Request, title string) page {
	p := page{Title: title, LoginPath: s.cfg.LoginPath, LogoutPath: s.cfg.LogoutPath}
	if subject, ok := gate.SubjectFromContext(r.Context()); ok && subject.Identity != nil {
		p.Email = subject.Identity.Email
	}
	if decision, ok := gate.DecisionFromContext(r.Context()); ok {
		p.SuperAdmin = decision.IsSuperAdmin
	}
	return p
}

func (s *Site) render(w http.ResponseWriter, r *http.Request, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, p); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to render page")
	}
}

// meResponse describes the caller to the PWA shell.
type meResponse struct {
	IdentityID string `json:"identity_id"`
	Email      string `json:"email"`
	Role       string `json:"role,omitempty"`
	FamilyID   string `json:"family_id,omitempty"`
	Name       string `json:"name,omitempty"`
	SuperAdmin bool   `json:"super_admin"`
}

func (s *Site) me(w http.ResponseWriter, r *http.Request) {
	subject, ok := gate.SubjectFromContext(r.Context())
	if !ok || subject.Identity == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	resp := meResponse{
		IdentityID: subject.Identity.ID.String(),
		Email:      subject.Identity.Email,
	}
	if subject.Profile != nil {
		resp.Role = subject.Profile.Role
		resp.FamilyID = subject.Profile.FamilyID
		resp.Name = subject.Profile.Name
	}
	if decision, ok := gate.DecisionFromContext(r.Context()); ok {
		resp.SuperAdmin = decision.IsSuperAdmin
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode response")
	}
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}
