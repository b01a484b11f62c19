package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"filippo.io/csrf"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/famblog/internal/auth"
	"github.com/wolfeidau/famblog/internal/config"
	"github.com/wolfeidau/famblog/internal/gate"
	httpmiddleware "github.com/wolfeidau/famblog/internal/http"
	"github.com/wolfeidau/famblog/internal/logger"
	"github.com/wolfeidau/famblog/internal/login"
	"github.com/wolfeidau/famblog/internal/site"
	"github.com/wolfeidau/famblog/internal/store"
	memorystore "github.com/wolfeidau/famblog/internal/store/memory"
	postgresstore "github.com/wolfeidau/famblog/internal/store/postgres"
	redisstore "github.com/wolfeidau/famblog/internal/store/redis"
	reststore "github.com/wolfeidau/famblog/internal/store/rest"
	"github.com/wolfeidau/famblog/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"
)

const logoutPath = "/logout"

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"FAMBLOG_LISTEN"`
	Cert   string `help:"path to TLS cert file, serves plain HTTP when empty" default:"" env:"FAMBLOG_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"FAMBLOG_TLS_KEY"`
	Config string `help:"path to the route policy file" default:"config/famblog.yaml" env:"FAMBLOG_CONFIG"`

	MaxConns   int  `help:"maximum concurrent client connections, 0 for no limit" default:"0" env:"FAMBLOG_MAX_CONNS"`
	TrustProxy bool `help:"take client IPs from X-Forwarded-For/X-Real-IP, only set behind a proxy that overwrites them" default:"false" env:"FAMBLOG_TRUST_PROXY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:8080" env:"FAMBLOG_CORS_ORIGINS"`

	// Auth configuration
	AuthTimeout     time.Duration `help:"timeout for each identity or profile lookup" default:"3s" env:"FAMBLOG_AUTH_TIMEOUT"`
	SessionMode     string        `help:"how logins are kept (hosted tokens or stored sessions)" default:"hosted" enum:"hosted,stored" env:"FAMBLOG_SESSION_MODE"`
	SessionTTL      time.Duration `help:"lifetime of auth cookies and stored sessions" default:"168h" env:"FAMBLOG_SESSION_TTL"`
	CookieDomain    string        `help:"domain attribute for auth cookies" default:"" env:"FAMBLOG_COOKIE_DOMAIN"`
	InsecureCookies bool          `help:"issue cookies without the Secure attribute (development only)" default:"false" env:"FAMBLOG_INSECURE_COOKIES"`
	Hosted          HostedFlags   `embed:"" prefix:"hosted-"`

	// Store configuration
	ProfileStore    string        `help:"profile store (memory, postgres or rest)" default:"memory" enum:"memory,postgres,rest" env:"FAMBLOG_PROFILE_STORE"`
	SessionStore    string        `help:"session store for --session-mode=stored (memory, postgres or redis)" default:"memory" enum:"memory,postgres,redis" env:"FAMBLOG_SESSION_STORE"`
	JanitorInterval time.Duration `help:"how often expired stored sessions are deleted" default:"10m" env:"FAMBLOG_JANITOR_INTERVAL"`
	Postgres        PostgresFlags `embed:"" prefix:"postgres-"`
	Redis           RedisFlags    `embed:"" prefix:"redis-"`
	Rest            RestFlags     `embed:"" prefix:"rest-"`

	// Operational modes
	Tracing bool `help:"enable tracing and metrics export" default:"false" env:"FAMBLOG_TRACING"`

	pool *pgxpool.Pool `kong:"-"`
}

type HostedFlags struct {
	URL       string `help:"hosted auth API base URL, e.g. https://xyz.example.co/auth/v1" env:"FAMBLOG_HOSTED_URL"`
	APIKey    string `help:"hosted public API key" env:"FAMBLOG_HOSTED_API_KEY"`
	JWTSecret string `help:"HS256 secret for verifying access tokens locally, asks the auth API when empty" env:"FAMBLOG_HOSTED_JWT_SECRET"`
}

func (h *HostedFlags) Validate() error {
	if h.URL == "" {
		return errors.New("hosted auth URL is required (--hosted-url or FAMBLOG_HOSTED_URL)")
	}
	if h.JWTSecret != "" && len(h.JWTSecret) < 32 {
		return errors.New("hosted JWT secret must be at least 32 bytes")
	}
	return nil
}

type PostgresFlags struct {
	ConnString      string        `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`
	MaxConns        int32         `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`
	AutoMigrate     bool          `help:"run database migrations on startup" default:"false" env:"FAMBLOG_POSTGRES_AUTO_MIGRATE"`
}

func (p *PostgresFlags) Validate() error {
	if p.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

type RedisFlags struct {
	Addr     string `help:"Redis address" default:"localhost:6379" env:"FAMBLOG_REDIS_ADDR"`
	Password string `help:"Redis password" default:"" env:"FAMBLOG_REDIS_PASSWORD"`
	DB       int    `help:"Redis database number" default:"0" env:"FAMBLOG_REDIS_DB"`
}

type RestFlags struct {
	URL        string `help:"hosted data API base URL, e.g. https://xyz.example.co/rest/v1" env:"FAMBLOG_REST_URL"`
	ServiceKey string `help:"service key for reading profiles" env:"FAMBLOG_REST_SERVICE_KEY"`
	Table      string `help:"profiles table" default:"profiles" env:"FAMBLOG_REST_TABLE"`
}

func (r *RestFlags) Validate() error {
	if r.URL == "" {
		return errors.New("REST URL is required (--rest-url or FAMBLOG_REST_URL)")
	}
	return nil
}

func (c *ServeCmd) Validate() error {
	if c.MaxConns < 0 {
		return errors.New("--max-conns must not be negative")
	}
	if c.AuthTimeout <= 0 {
		return errors.New("--auth-timeout must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("--session-ttl must be positive")
	}
	if c.SessionMode == "stored" && c.JanitorInterval <= 0 {
		return errors.New("--janitor-interval must be positive")
	}
	return nil
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if err := c.Validate(); err != nil {
		return err
	}
	if err := c.Hosted.Validate(); err != nil {
		return err
	}

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName:    "famblog",
			ServiceVersion: globals.Version,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	policyFile, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	policy, err := policyFile.Policy()
	if err != nil {
		return err
	}

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	profileStore, err := c.createProfileStore(ctx, policyFile, &closers)
	if err != nil {
		return err
	}

	hostedClient, err := auth.NewHostedClient(auth.HostedClientConfig{
		BaseURL: c.Hosted.URL,
		APIKey:  c.Hosted.APIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create hosted auth client: %w", err)
	}

	cookies := auth.CookieOptions{Domain: c.CookieDomain, Secure: !c.InsecureCookies}

	var (
		provider auth.Provider
		issuer   auth.Issuer
	)
	switch c.SessionMode {
	case "stored":
		sessionStore, err := c.createSessionStore(ctx, &closers)
		if err != nil {
			return err
		}
		stored := auth.NewStoredSessionProvider(sessionStore, cookies, c.SessionTTL)
		provider, issuer = stored, stored

		janitor := auth.NewSessionJanitor(ctx, sessionStore, c.JanitorInterval)
		closers = append(closers, janitor.Stop)
		log.Info().Str("store", c.SessionStore).Msg("Using stored sessions")

	default:
		hosted, err := auth.NewHostedProvider(auth.HostedProviderConfig{
			Client:    hostedClient,
			JWTSecret: []byte(c.Hosted.JWTSecret),
			Cookies:   cookies,
			CookieTTL: c.SessionTTL,
		})
		if err != nil {
			return err
		}
		provider, issuer = hosted, hosted
		log.Info().Bool("local_jwt_verification", c.Hosted.JWTSecret != "").Msg("Using hosted token sessions")
	}

	g, err := gate.New(
		auth.NewResolver(provider, c.AuthTimeout),
		auth.NewProfileLoader(profileStore, c.AuthTimeout),
		policy,
		policyFile.Gate(),
	)
	if err != nil {
		return fmt.Errorf("invalid gate configuration: %w", err)
	}

	mux := http.NewServeMux()
	site.New(site.Config{LoginPath: g.Config().LoginPath, LogoutPath: logoutPath}).RegisterRoutes(mux)
	login.NewHandler(hostedClient, issuer, login.Config{
		LoginPath:  g.Config().LoginPath,
		LogoutPath: logoutPath,
		HomePath:   g.Config().HomePath,
	}).RegisterRoutes(mux)

	log.Info().
		Int("rules", len(policy.Rules().Rules())).
		Stringer("default_privilege", policy.Rules().Default()).
		Str("profile_store", c.ProfileStore).
		Msg("Route gate configured")

	srv := configureHTTPServer(c.Listen, c.buildHandler(log, g.Middleware(mux)))

	ln, err := net.Listen("tcp", c.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.Listen, err)
	}
	if c.MaxConns > 0 {
		ln = netutil.LimitListener(ln, c.MaxConns)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Int("max_conns", c.MaxConns).Msg("Starting HTTP server")
		if c.Cert != "" {
			errCh <- srv.ServeTLS(ln, c.Cert, c.Key)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// buildHandler wraps the gated mux: API routes get CORS, HTML routes get
// CSRF protection and gzip.
func (c *ServeCmd) buildHandler(log zerolog.Logger, gated http.Handler) http.Handler {
	gated = httpmiddleware.ClientIPMiddleware(c.TrustProxy)(gated)

	api := withCORS(c.CORSOrigins, gated)
	pages := csrf.New().Handler(gzhttp.GzipHandler(gated))

	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAPIRoute(r.URL.Path) {
			api.ServeHTTP(w, r)
			return
		}
		pages.ServeHTTP(w, r)
	})

	if c.Tracing {
		handler = otelhttp.NewHandler(handler, "famblog",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}

	return logger.HTTPRequests(log)(handler)
}

func (c *ServeCmd) createProfileStore(ctx context.Context, policyFile *config.File, closers *[]func()) (store.ProfileStore, error) {
	switch c.ProfileStore {
	case "postgres":
		pool, err := c.postgresPool(ctx, closers)
		if err != nil {
			return nil, err
		}
		return postgresstore.NewProfileStore(pool), nil

	case "rest":
		if err := c.Rest.Validate(); err != nil {
			return nil, err
		}
		return reststore.NewProfileStore(reststore.Config{
			BaseURL:    c.Rest.URL,
			ServiceKey: c.Rest.ServiceKey,
			Table:      c.Rest.Table,
		})

	default:
		seeds, err := policyFile.SeedProfiles()
		if err != nil {
			return nil, err
		}
		profiles := memorystore.NewProfileStore()
		for _, p := range seeds {
			if err := profiles.PutProfile(ctx, p); err != nil {
				return nil, fmt.Errorf("failed to seed profile %s: %w", p.ID, err)
			}
		}
		return profiles, nil
	}
}

func (c *ServeCmd) createSessionStore(ctx context.Context, closers *[]func()) (store.SessionStore, error) {
	switch c.SessionStore {
	case "postgres":
		pool, err := c.postgresPool(ctx, closers)
		if err != nil {
			return nil, err
		}
		return postgresstore.NewSessionStore(pool), nil

	case "redis":
		client, err := redisstore.Connect(ctx, redisstore.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { _ = client.Close() })
		return redisstore.NewSessionStore(client), nil

	default:
		return memorystore.NewSessionStore(), nil
	}
}

// postgresPool is shared by the profile and session stores.
func (c *ServeCmd) postgresPool(ctx context.Context, closers *[]func()) (*pgxpool.Pool, error) {
	if c.pool != nil {
		return c.pool, nil
	}
	if err := c.Postgres.Validate(); err != nil {
		return nil, err
	}

	pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
		ConnString:      c.Postgres.ConnString,
		MaxConns:        c.Postgres.MaxConns,
		MinConns:        c.Postgres.MinConns,
		MaxConnLifetime: c.Postgres.MaxConnLifetime,
		MaxConnIdleTime: c.Postgres.MaxConnIdleTime,
		AutoMigrate:     c.Postgres.AutoMigrate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	*closers = append(*closers, pool.Close)
	c.pool = pool
	return pool, nil
}

// isAPIRoute returns true if the path is an API route that needs CORS instead of CSRF
func isAPIRoute(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

// withCORS adds CORS support for the PWA shell calling the JSON API.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true, // Required for cookie-based authentication
		MaxAge:           600,
	})
	return middleware.Handler(h)
}
