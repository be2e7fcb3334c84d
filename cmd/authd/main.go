// Command authd serves the authcore engine over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/deusexmachina/authcore"
	"github.com/deusexmachina/authcore/internal/config"
	"github.com/deusexmachina/authcore/internal/httpapi"
	promexport "github.com/deusexmachina/authcore/metrics/export/prometheus"
	"github.com/deusexmachina/authcore/notify"
	"github.com/deusexmachina/authcore/oauth/google"
	"github.com/deusexmachina/authcore/password"
	"github.com/deusexmachina/authcore/secrets"
	"github.com/deusexmachina/authcore/store/memory"
	"github.com/deusexmachina/authcore/store/postgres"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := newLogger(cfg.Log)
	log.Logger = logger

	logger.Info().
		Str("env", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Str("version", version).
		Msg("Starting authd")

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			Release:          version,
			SampleRate:       cfg.Sentry.SampleRate,
			AttachStacktrace: true,
		}); err != nil {
			logger.Warn().Err(err).Msg("Sentry disabled")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	builder := authcore.New().
		WithConfig(cfg.Auth).
		WithRedis(rdb).
		WithLogger(logger).
		WithAuditSink(authcore.NewZerologSink(logger)).
		WithSecretProvider(secretProvider(cfg.Secret)).
		WithNotifier(notify.New(publisher(cfg, rdb, logger))).
		WithMetricsEnabled(true).
		WithLatencyHistograms(cfg.Auth.Metrics.EnableLatencyHistograms)

	db, err := openStores(ctx, cfg.Database, builder, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open stores")
	}
	if db != nil {
		defer db.Close()
	}

	if cfg.Auth.Password.CheckBreached {
		checkers := []password.BreachChecker{password.NewCommonList()}
		if cfg.Breach.RangeURL != "" {
			checkers = append(checkers, password.NewPwnedRange(cfg.Breach.RangeURL))
		}
		builder.WithBreachChecker(password.AnyOf(checkers...))
	}

	if cfg.Google.ClientID != "" {
		verifier, err := google.New(ctx, google.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to set up Google sign-in")
		}
		builder.WithGoogleVerifier(verifier)
	}

	engine, err := builder.Build()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build auth engine")
	}

	for _, w := range cfg.Auth.Lint() {
		logger.Warn().Str("code", w.Code).Str("severity", w.Severity.String()).Msg(w.Message)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		promexport.NewCollector(engine),
	)

	api := httpapi.New(engine, httpapi.Options{
		Logger:            logger,
		Version:           version,
		AllowedOrigins:    cfg.CORS.AllowedOrigins,
		TrustProxyHeaders: cfg.IsProduction(),
		RatePerSecond:     cfg.HTTPLimit.PerSecond,
		RateBurst:         cfg.HTTPLimit.Burst,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		RequestTimeout:    cfg.Server.RequestTimeout,
		Registry:          registry,
	})

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	engine.StartJanitor(janitorCtx)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("Server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	stopJanitor()
	engine.Close()
	logger.Info().Msg("Server stopped")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		return zerolog.New(os.Stdout).With().Timestamp().Str("service", "authd").Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", "authd").Logger()
}

// secretProvider prefers the key file and falls back to the environment.
func secretProvider(cfg config.SecretConfig) secrets.Provider {
	var chain secrets.Chain
	if cfg.KeyFile != "" {
		chain = append(chain, secrets.File(cfg.KeyFile))
	}
	if len(cfg.EnvVars) > 0 {
		chain = append(chain, secrets.Env(cfg.EnvVars))
	}
	return chain
}

func publisher(cfg *config.Config, rdb redis.UniversalClient, logger zerolog.Logger) notify.Publisher {
	if cfg.Notify.Mode == config.NotifyLog {
		return notify.NewLogPublisher(logger)
	}
	return notify.NewRedisStream(rdb, cfg.Notify.Stream, cfg.Notify.StreamMax)
}

// openStores wires Postgres when a URL is configured and in-memory stores
// otherwise. The returned DB is nil in memory mode.
func openStores(ctx context.Context, cfg config.DatabaseConfig, b *authcore.Builder, logger zerolog.Logger) (*sql.DB, error) {
	if cfg.URL == "" {
		logger.Warn().Msg("DATABASE_URL not set; users and permissions are kept in memory")
		b.WithUserStore(memory.NewUserStore(time.Now)).
			WithPermissionStore(memory.NewPermissionStore(time.Now))
		return nil, nil
	}

	db, err := postgres.Open(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	b.WithUserStore(postgres.NewUserStore(db, time.Now)).
		WithPermissionStore(postgres.NewPermissionStore(db, time.Now))
	return db, nil
}
