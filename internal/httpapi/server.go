// Package httpapi is the JSON-over-HTTP surface of authd. Every route is
// served both at the root and under /auth.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/deusexmachina/authcore"
	"github.com/deusexmachina/authcore/jwt"
	"github.com/deusexmachina/authcore/middleware"
	"github.com/deusexmachina/authcore/permission"
	"github.com/deusexmachina/authcore/session"
)

// Service is the engine surface the handlers call. *authcore.Engine
// satisfies it.
type Service interface {
	Register(ctx context.Context, req authcore.RegisterRequest) (*authcore.AuthResponse, error)
	Login(ctx context.Context, req authcore.LoginRequest) (*authcore.AuthResponse, error)
	GoogleLogin(ctx context.Context, req authcore.GoogleLoginRequest) (*authcore.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*authcore.TokenResponse, error)
	Logout(ctx context.Context, refreshToken string, all bool) error
	VerifyEmail(ctx context.Context, token string) error
	ResendVerificationEmail(ctx context.Context, email string) error
	InitiatePasswordReset(ctx context.Context, email string) error
	CompletePasswordReset(ctx context.Context, token, newPassword string) error
	ValidateAccessToken(ctx context.Context, token string) (*jwt.AccessClaims, error)
	ActiveSessions(ctx context.Context, userID string) ([]session.Session, error)
	Ping(ctx context.Context) (time.Duration, error)

	CheckPermission(ctx context.Context, userID, resourceID, action string) (bool, error)
	EffectiveLevel(ctx context.Context, userID, resourceID string) (permission.Level, bool, error)
	ResourcePermissions(ctx context.Context, resourceID string) ([]permission.Permission, error)
	UserPermissions(ctx context.Context, userID string) ([]permission.Permission, error)
	GrantPermission(ctx context.Context, req authcore.GrantRequest) (string, error)
	RevokePermission(ctx context.Context, permissionID, revokedBy string) (bool, error)
	RevokeAllPermissions(ctx context.Context, userID, resourceID, requestedBy string) (int, error)
	TransferOwnership(ctx context.Context, resourceID, from, to string) error
	ClaimResource(ctx context.Context, resourceID string, resourceType permission.ResourceType, ownerID string) (string, error)
	DeleteResource(ctx context.Context, resourceID, requestedBy string) (int, error)
}

var _ Service = (*authcore.Engine)(nil)

// Options tunes the transport. Zero values fall back to the defaults in New.
type Options struct {
	Logger         zerolog.Logger
	Version        string
	AllowedOrigins []string
	// TrustProxyHeaders takes the client IP from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool
	RatePerSecond     float64
	RateBurst         int
	MaxBodyBytes      int64
	RequestTimeout    time.Duration
	// Registry receives the HTTP metrics and backs GET /metrics. A private
	// registry is used when nil.
	Registry *prometheus.Registry
}

// Server wires handlers, middleware and metrics.
type Server struct {
	svc     Service
	opts    Options
	logger  zerolog.Logger
	limiter *ipLimiter
	metrics *httpMetrics
}

func New(svc Service, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 40
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	return &Server{
		svc:     svc,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "http").Logger(),
		limiter: newIPLimiter(opts.RatePerSecond, opts.RateBurst, 10*time.Minute),
		metrics: newHTTPMetrics(opts.Registry),
	}
}

// Routes returns the full router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recoverer)
	r.Use(s.requestLogger)
	r.Use(s.metrics.instrument)
	r.Use(securityHeaders)
	r.Use(corsHandler(s.opts.AllowedOrigins))
	r.Use(s.clientInfo)
	r.Use(s.rateLimit)
	r.Use(maxBody(s.opts.MaxBodyBytes))
	r.Use(chimiddleware.Timeout(s.opts.RequestTimeout))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{}))

	s.mount(r)
	r.Route("/auth", s.mount)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "endpoint not found: "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

func (s *Server) mount(r chi.Router) {
	r.Post("/register", s.register)
	r.Post("/login", s.login)
	r.Post("/google", s.google)
	r.Post("/refresh", s.refresh)
	r.Post("/logout", s.logout)
	r.Post("/verify-email", s.verifyEmail)
	r.Post("/resend-verification", s.resendVerification)
	r.Post("/reset-password", s.resetPassword)
	r.Post("/confirm-reset", s.confirmReset)
	r.Get("/validate", s.validate)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(s.svc))

		r.With(middleware.RequireAction(s.svc, "read", urlParam("resourceID"))).
			Get("/permissions/{resourceID}", s.listResourcePermissions)
		r.Post("/permissions", s.grantPermission)
		r.Delete("/permissions/{permissionID}", s.revokePermission)

		r.Post("/resources/{resourceID}/claim", s.claimResource)
		r.Post("/resources/{resourceID}/transfer", s.transferOwnership)
		r.Get("/resources/{resourceID}/access", s.checkAccess)
		r.Delete("/resources/{resourceID}/members/{userID}", s.revokeMember)
		r.Delete("/resources/{resourceID}", s.deleteResource)

		r.Get("/me/permissions", s.myPermissions)
		r.Get("/me/sessions", s.mySessions)
	})
}

func urlParam(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return chi.URLParam(r, name)
	}
}
