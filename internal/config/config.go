// Package config loads the authd service settings from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/deusexmachina/authcore"
)

// Config is the full service configuration. Auth is handed to the engine
// builder as is.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Secret    SecretConfig
	Google    GoogleConfig
	Notify    NotifyConfig
	CORS      CORSConfig
	HTTPLimit HTTPLimitConfig
	Sentry    SentryConfig
	Breach    BreachConfig
	Auth      authcore.Config
}

type ServerConfig struct {
	Port            string
	Environment     string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

type LogConfig struct {
	Level  string
	Format string // console or json
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// DatabaseConfig selects Postgres when URL is set and in-memory stores
// otherwise.
type DatabaseConfig struct {
	URL     string
	Migrate bool
}

// SecretConfig locates the signing key. KeyFile wins over the environment
// variables, which are tried in order.
type SecretConfig struct {
	KeyFile string
	EnvVars []string
}

// GoogleConfig is optional; without a client ID Google sign-in is disabled.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// NotifyConfig picks the email transport: "redis" publishes to a stream for
// the mail worker, "log" only logs the messages.
type NotifyConfig struct {
	Mode      string
	Stream    string
	StreamMax int64
}

type CORSConfig struct {
	AllowedOrigins []string
}

// HTTPLimitConfig is the per-IP token bucket in front of every route.
type HTTPLimitConfig struct {
	PerSecond float64
	Burst     int
}

type SentryConfig struct {
	DSN         string
	Environment string
	SampleRate  float64
}

// BreachConfig points the breached-password check at a k-anonymity range
// API. An empty RangeURL leaves only the built-in common-password list.
type BreachConfig struct {
	RangeURL string
}

const (
	NotifyRedis = "redis"
	NotifyLog   = "log"
)

// Load reads .env (if any) and the environment, then validates.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	auth := authcore.DefaultConfig()
	if env == "production" {
		auth = authcore.HighSecurityConfig()
	}
	auth.JWT.Issuer = getEnv("JWT_ISSUER", auth.JWT.Issuer)
	auth.JWT.Audience = getEnv("JWT_AUDIENCE", auth.JWT.Audience)
	auth.JWT.AccessTTL = getEnvAsDuration("JWT_ACCESS_TTL", auth.JWT.AccessTTL)
	auth.JWT.RefreshTTL = getEnvAsDuration("JWT_REFRESH_TTL", auth.JWT.RefreshTTL)
	auth.Session.DefaultTTL = getEnvAsDuration("SESSION_TTL", auth.Session.DefaultTTL)
	auth.Session.RememberMeTTL = getEnvAsDuration("SESSION_REMEMBER_ME_TTL", auth.Session.RememberMeTTL)
	auth.Lockout.MaxFailedAttempts = getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", auth.Lockout.MaxFailedAttempts)
	auth.Lockout.Duration = getEnvAsDuration("LOCKOUT_DURATION", auth.Lockout.Duration)
	auth.RateLimit.Enabled = getEnvAsBool("LOGIN_RATE_LIMIT", auth.RateLimit.Enabled)
	auth.RateLimit.EnableIPThrottle = getEnvAsBool("LOGIN_IP_THROTTLE", auth.RateLimit.EnableIPThrottle)
	auth.Password.CheckBreached = getEnvAsBool("PASSWORD_BREACH_CHECK", auth.Password.CheckBreached)
	auth.Sweep.Interval = getEnvAsDuration("SWEEP_INTERVAL", auth.Sweep.Interval)
	auth.Metrics.EnableLatencyHistograms = getEnvAsBool("METRICS_LATENCY", true)
	auth.ProductionMode = getEnvAsBool("PRODUCTION_MODE", auth.ProductionMode)

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Environment:     env,
			RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodyBytes:    int64(getEnvAsInt("MAX_BODY_BYTES", 1<<20)),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 50),
		},
		Database: DatabaseConfig{
			URL:     getEnv("DATABASE_URL", ""),
			Migrate: getEnvAsBool("DATABASE_MIGRATE", true),
		},
		Secret: SecretConfig{
			KeyFile: getEnv("JWT_SECRET_FILE", ""),
			EnvVars: getEnvAsSlice("JWT_SECRET_ENV", []string{"AUTHCORE_JWT_SECRET", "JWT_SECRET"}),
		},
		Google: GoogleConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		},
		Notify: NotifyConfig{
			Mode:      getEnv("NOTIFY_MODE", NotifyRedis),
			Stream:    getEnv("NOTIFY_STREAM", "authcore:emails"),
			StreamMax: int64(getEnvAsInt("NOTIFY_STREAM_MAXLEN", 100000)),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		HTTPLimit: HTTPLimitConfig{
			PerSecond: getEnvAsFloat("HTTP_RATE_PER_SECOND", 20),
			Burst:     getEnvAsInt("HTTP_RATE_BURST", 40),
		},
		Sentry: SentryConfig{
			DSN:         getEnv("SENTRY_DSN", ""),
			Environment: env,
			SampleRate:  getEnvAsFloat("SENTRY_SAMPLE_RATE", 1),
		},
		Breach: BreachConfig{
			RangeURL: getEnv("PWNED_RANGE_URL", "https://api.pwnedpasswords.com/range/"),
		},
		Auth: auth,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server port must be a valid integer: %w", err)
	}
	if c.Server.RequestTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return errors.New("request and shutdown timeouts must be > 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be > 0")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be console or json, got %q", c.Log.Format)
	}
	if c.Redis.Addr == "" {
		return errors.New("redis address is required")
	}
	if c.Secret.KeyFile == "" && len(c.Secret.EnvVars) == 0 {
		return errors.New("a signing key file or env var is required")
	}
	if c.Google.ClientID != "" && c.Google.ClientSecret == "" {
		return errors.New("google client secret is required with a client id")
	}
	switch c.Notify.Mode {
	case NotifyRedis:
		if c.Notify.Stream == "" {
			return errors.New("notify stream is required in redis mode")
		}
	case NotifyLog:
	default:
		return fmt.Errorf("notify mode must be %s or %s, got %q", NotifyRedis, NotifyLog, c.Notify.Mode)
	}
	if c.HTTPLimit.PerSecond <= 0 || c.HTTPLimit.Burst <= 0 {
		return errors.New("http rate limit must be > 0")
	}
	if c.Sentry.SampleRate < 0 || c.Sentry.SampleRate > 1 {
		return errors.New("sentry sample rate must be within [0, 1]")
	}
	return c.Auth.Validate()
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration syntax such as "15m" or "720h".
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma-separated value, dropping empty items.
func getEnvAsSlice(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
