package authcore

import (
	"errors"
	"fmt"
	"time"
)

// Config tunes every flow of the Engine. Start from DefaultConfig and
// override fields; Builder.Build validates the result.
type Config struct {
	Password  PasswordConfig
	JWT       JWTConfig
	Session   SessionConfig
	Lockout   LockoutConfig
	Tokens    TokensConfig
	RateLimit RateLimitConfig
	Notify    NotifyConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Sweep     SweepConfig

	// ProductionMode turns Lint advisories that matter in production into
	// Validate errors.
	ProductionMode bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id cost and the strength policy.
type PasswordConfig struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	// CheckBreached consults the configured BreachChecker on register and
	// reset.
	CheckBreached bool
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures token minting. The signing secret comes from the
// Builder's secret provider, not from Config.
type JWTConfig struct {
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
	KeyID      string
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	RedisPrefix   string
	DefaultTTL    time.Duration
	RememberMeTTL time.Duration
	// NewDeviceAlerts sends a notice when a login comes from a device no
	// active session was created on.
	NewDeviceAlerts bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

type LockoutConfig struct {
	MaxFailedAttempts int
	Duration          time.Duration
	NotifyOnLock      bool
}

/*
====================================
TOKENS CONFIG
====================================
*/

// TokensConfig covers the single-use email verification and reset tokens.
type TokensConfig struct {
	RedisPrefix     string
	VerificationTTL time.Duration
	ResetTTL        time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig throttles login failures per email (and optionally per IP)
// and refreshes per session. Disabled by default.
type RateLimitConfig struct {
	Enabled               bool
	RedisPrefix           string
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginWindow           time.Duration
	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshWindow         time.Duration
}

/*
====================================
NOTIFY CONFIG
====================================
*/

// NotifyConfig sizes the background email worker pool.
type NotifyConfig struct {
	Workers    int
	QueueSize  int
	DropIfFull bool
	Timeout    time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SWEEP CONFIG
====================================
*/

// SweepConfig drives the background janitor. A zero Interval disables it.
type SweepConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the standard settings of the service.
func DefaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Memory:        64 * 1024,
			Time:          3,
			Parallelism:   4,
			SaltLength:    16,
			KeyLength:     32,
			MinLength:     8,
			CheckBreached: true,
		},
		JWT: JWTConfig{
			Issuer:     "deusexmachina-auth",
			Audience:   "deusexmachina-client",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
		},
		Session: SessionConfig{
			RedisPrefix:     "sess",
			DefaultTTL:      24 * time.Hour,
			RememberMeTTL:   30 * 24 * time.Hour,
			NewDeviceAlerts: true,
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: 5,
			Duration:          15 * time.Minute,
			NotifyOnLock:      true,
		},
		Tokens: TokensConfig{
			RedisPrefix:     "tok",
			VerificationTTL: 24 * time.Hour,
			ResetTTL:        time.Hour,
		},
		RateLimit: RateLimitConfig{
			RedisPrefix:           "rl",
			MaxLoginAttempts:      20,
			LoginWindow:           15 * time.Minute,
			EnableRefreshThrottle: true,
			MaxRefreshAttempts:    60,
			RefreshWindow:         time.Minute,
		},
		Notify: NotifyConfig{
			Workers:    4,
			QueueSize:  256,
			DropIfFull: true,
			Timeout:    10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Sweep: SweepConfig{
			Interval: time.Hour,
			Timeout:  time.Minute,
		},
	}
}

// HighSecurityConfig tightens DefaultConfig for exposed deployments: shorter
// refresh lifetime, IP throttling, and ProductionMode.
func HighSecurityConfig() Config {
	cfg := DefaultConfig()
	cfg.ProductionMode = true
	cfg.JWT.AccessTTL = 5 * time.Minute
	cfg.JWT.RefreshTTL = 7 * 24 * time.Hour
	cfg.Session.RememberMeTTL = 7 * 24 * time.Hour
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.EnableIPThrottle = true
	cfg.RateLimit.MaxLoginAttempts = 10
	cfg.Lockout.MaxFailedAttempts = 5
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	// Password
	if c.Password.Memory < 64*1024 {
		return errors.New("Password Memory must be >= 65536 KiB")
	}
	if c.Password.Time == 0 || c.Password.Parallelism == 0 {
		return errors.New("Password Time and Parallelism must be > 0")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	// JWT
	if c.JWT.Issuer == "" || c.JWT.Audience == "" {
		return errors.New("JWT Issuer and Audience are required")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix is required")
	}
	if c.Session.DefaultTTL <= 0 || c.Session.RememberMeTTL <= 0 {
		return errors.New("Session TTLs must be > 0")
	}
	if c.Session.RememberMeTTL < c.Session.DefaultTTL {
		return errors.New("Session RememberMeTTL must be >= DefaultTTL")
	}

	// Lockout
	if c.Lockout.MaxFailedAttempts <= 0 {
		return errors.New("Lockout MaxFailedAttempts must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// Tokens
	if c.Tokens.RedisPrefix == "" {
		return errors.New("Tokens RedisPrefix is required")
	}
	if c.Tokens.RedisPrefix == c.Session.RedisPrefix {
		return errors.New("Tokens and Session must use different Redis prefixes")
	}
	if c.Tokens.VerificationTTL <= 0 || c.Tokens.ResetTTL <= 0 {
		return errors.New("Tokens TTLs must be > 0")
	}

	// Rate limiting
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts <= 0 || c.RateLimit.LoginWindow <= 0 {
			return errors.New("RateLimit login budget must be > 0 when enabled")
		}
		if c.RateLimit.EnableRefreshThrottle && (c.RateLimit.MaxRefreshAttempts <= 0 || c.RateLimit.RefreshWindow <= 0) {
			return errors.New("RateLimit refresh budget must be > 0 when the refresh throttle is enabled")
		}
	}

	// Notify
	if c.Notify.Workers <= 0 || c.Notify.QueueSize <= 0 {
		return errors.New("Notify Workers and QueueSize must be > 0")
	}
	if c.Notify.Timeout <= 0 {
		return errors.New("Notify Timeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Sweep
	if c.Sweep.Interval < 0 {
		return errors.New("Sweep Interval must be >= 0")
	}
	if c.Sweep.Interval > 0 && c.Sweep.Timeout <= 0 {
		return errors.New("Sweep Timeout must be > 0 when the janitor is enabled")
	}

	if c.ProductionMode {
		for _, w := range c.Lint() {
			if w.Severity == LintHigh {
				return fmt.Errorf("ProductionMode rejects %s: %s", w.Code, w.Message)
			}
		}
	}

	return nil
}
