package api

import (
	"log/slog"

	"github.com/laventecare/corebac/internal/account"
	customMiddleware "github.com/laventecare/corebac/internal/api/middleware"
	"github.com/laventecare/corebac/internal/apikey"
	"github.com/laventecare/corebac/internal/audit"
	"github.com/laventecare/corebac/internal/checksvc"
	"github.com/laventecare/corebac/internal/introspection"
	"github.com/laventecare/corebac/internal/keystore"
	"github.com/laventecare/corebac/internal/notify"
	"github.com/laventecare/corebac/internal/rebac"
	"github.com/laventecare/corebac/internal/tenant"
	"github.com/laventecare/corebac/internal/userinfo"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"
)

// Server holds every collaborator an HTTP handler needs, constructed
// once in NewServer and never mutated afterward.
type Server struct {
	Router *chi.Mux
	Pool   *pgxpool.Pool
	Logger *slog.Logger

	IssuerURL string

	Introspection *introspection.Engine
	UserInfo      *userinfo.Engine
	Check         *checksvc.Service
	Accounts      *account.Store
	Clients       *tenant.ClientRegistry
	Keys          *keystore.KeyStore
	APIKeys       *apikey.Validator
	Verifier      customMiddleware.TokenVerifier

	Rebac         *rebac.Evaluator
	RebacStore    *rebac.PgStore
	RebacMaxDepth int

	Notify       notify.Publisher
	CheckLimiter *customMiddleware.TieredLimiter
	Audit        audit.AuditLogger
}

// Config bundles NewServer's collaborators so the constructor's
// signature doesn't grow a parameter per subsystem.
type Config struct {
	Pool      *pgxpool.Pool
	Logger    *slog.Logger
	IssuerURL string

	Introspection *introspection.Engine
	UserInfo      *userinfo.Engine
	Check         *checksvc.Service
	Accounts      *account.Store
	Clients       *tenant.ClientRegistry
	Keys          *keystore.KeyStore
	APIKeys       *apikey.Validator
	Verifier      customMiddleware.TokenVerifier

	Rebac         *rebac.Evaluator
	RebacStore    *rebac.PgStore
	RebacMaxDepth int

	Notify       notify.Publisher
	CheckLimiter *customMiddleware.TieredLimiter
	Audit        audit.AuditLogger

	// CheckAPIEnabled gates whether /api/check and /api/check/batch are
	// mounted at all, per CHECK_API_ENABLED.
	CheckAPIEnabled bool

	AllowedOrigins  []string
	PublicRateRPS   rate.Limit
	PublicRateBurst int
}

// NewServer builds the chi router and mounts every route this server
// exposes: health, OIDC discovery and JWKS, token introspection,
// UserInfo, the unified check surface, and ReBAC tuple administration.
func NewServer(cfg Config) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)

	r.Use(customMiddleware.RequestLogger)
	r.Use(customMiddleware.PanicRecovery)

	r.Use(customMiddleware.NewCORS(cfg.AllowedOrigins))

	ipLimiter := customMiddleware.NewIPRateLimiter(cfg.PublicRateRPS, cfg.PublicRateBurst)
	r.Use(ipLimiter.Middleware)

	r.Use(customMiddleware.TenantContext)

	requireAuth := customMiddleware.AuthMiddleware(cfg.Verifier)

	server := &Server{
		Router:        r,
		Pool:          cfg.Pool,
		Logger:        cfg.Logger,
		IssuerURL:     cfg.IssuerURL,
		Introspection: cfg.Introspection,
		UserInfo:      cfg.UserInfo,
		Check:         cfg.Check,
		Accounts:      cfg.Accounts,
		Clients:       cfg.Clients,
		Keys:          cfg.Keys,
		APIKeys:       cfg.APIKeys,
		Verifier:      cfg.Verifier,
		Rebac:         cfg.Rebac,
		RebacStore:    cfg.RebacStore,
		RebacMaxDepth: cfg.RebacMaxDepth,
		Notify:        cfg.Notify,
		CheckLimiter:  cfg.CheckLimiter,
		Audit:         cfg.Audit,
	}
	if server.RebacMaxDepth == 0 {
		server.RebacMaxDepth = 5
	}
	if server.Audit == nil {
		server.Audit = audit.NewJSONAuditLogger()
	}

	r.Get("/health", server.HealthHandler())

	r.Get("/.well-known/openid-configuration", server.OpenIDConfigurationHandler)
	r.Get("/.well-known/jwks.json", server.JWKSHandler)

	r.Post("/api/introspect", server.IntrospectHandler)

	if cfg.CheckAPIEnabled {
		r.Post("/api/check", server.CheckHandler)
		r.Post("/api/check/batch", server.BatchCheckHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/userinfo", server.UserInfoHandler)
	})

	r.Route("/api/rebac", func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/write", server.WriteTupleHandler)
		r.Delete("/tuples", server.DeleteTupleHandler)
		r.Post("/check", server.RebacCheckHandler)
		r.Post("/list-objects", server.ListObjectsHandler)
		r.Post("/list-users", server.ListUsersHandler)
	})

	return server
}
