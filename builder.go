package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/deusexmachina/authcore/account"
	"github.com/deusexmachina/authcore/internal/rate"
	"github.com/deusexmachina/authcore/internal/stores"
	"github.com/deusexmachina/authcore/jwt"
	"github.com/deusexmachina/authcore/notify"
	"github.com/deusexmachina/authcore/oauth"
	"github.com/deusexmachina/authcore/password"
	"github.com/deusexmachina/authcore/permission"
	"github.com/deusexmachina/authcore/secrets"
	"github.com/deusexmachina/authcore/session"
)

// Builder assembles an Engine. It is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users       account.Store
	permissions permission.Store

	secret   secrets.Provider
	notifier EmailNotifier
	google   oauth.Verifier
	breach   password.BreachChecker

	logger    zerolog.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client for sessions, single-use tokens and throttling.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(s account.Store) *Builder {
	b.users = s
	return b
}

func (b *Builder) WithPermissionStore(s permission.Store) *Builder {
	b.permissions = s
	return b
}

// WithSecretProvider sets where the signing key is loaded from.
func (b *Builder) WithSecretProvider(p secrets.Provider) *Builder {
	b.secret = p
	return b
}

// WithNotifier replaces the default notifier, which only logs.
func (b *Builder) WithNotifier(n EmailNotifier) *Builder {
	b.notifier = n
	return b
}

// WithGoogleVerifier enables GoogleLogin.
func (b *Builder) WithGoogleVerifier(v oauth.Verifier) *Builder {
	b.google = v
	return b
}

// WithBreachChecker replaces the built-in common-password list.
func (b *Builder) WithBreachChecker(c password.BreachChecker) *Builder {
	b.breach = c
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for every component the engine builds.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, loads the signing key once, and starts
// the notification and audit workers. Call Engine.Close to stop them.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.permissions == nil {
		return nil, errors.New("permission store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- SIGNING KEY --------
	key, err := secrets.Load(context.Background(), b.secret)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}

	jm, err := jwt.NewManager(jwt.Config{
		Secret:     key,
		KeyID:      cfg.JWT.KeyID,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Leeway:     cfg.JWT.Leeway,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	breach := b.breach
	if breach == nil {
		breach = password.NewCommonList()
	}

	logger := b.logger.With().Str("component", "authcore").Logger()

	notifier := b.notifier
	if notifier == nil {
		notifier = notify.New(notify.NewLogPublisher(b.logger))
	}

	engine := &Engine{
		config:      cfg,
		logger:      logger,
		now:         now,
		users:       b.users,
		permissions: b.permissions,
		sessions:    session.NewStore(b.redis, cfg.Session.RedisPrefix, now),
		tokens:      stores.NewTokenStore(b.redis, cfg.Tokens.RedisPrefix, now),
		hasher:      hasher,
		policy:      password.Policy{MinLength: cfg.Password.MinLength, Specials: password.SpecialCharacters},
		breach:      breach,
		jwt:         jm,
		google:      b.google,
		notifier:    notifier,
		metrics:     NewMetrics(cfg.Metrics),
		stop:        make(chan struct{}),
	}

	if cfg.RateLimit.Enabled {
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			Prefix:                cfg.RateLimit.RedisPrefix,
			EnableIPThrottle:      cfg.RateLimit.EnableIPThrottle,
			EnableRefreshThrottle: cfg.RateLimit.EnableRefreshThrottle,
			MaxLoginAttempts:      cfg.RateLimit.MaxLoginAttempts,
			LoginWindow:           cfg.RateLimit.LoginWindow,
			MaxRefreshAttempts:    cfg.RateLimit.MaxRefreshAttempts,
			RefreshWindow:         cfg.RateLimit.RefreshWindow,
		})
	}

	engine.notify = newNotifyDispatcher(cfg.Notify, b.logger, engine.metrics)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)

	b.built = true

	return engine, nil
}
