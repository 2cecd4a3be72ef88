// Package main is the entry point for the Quill blog server.
// Quill is a key-value-backed blog engine with cross-instance view-count
// synchronization.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prn-tf/quill/internal/backup"
	"github.com/prn-tf/quill/internal/config"
	"github.com/prn-tf/quill/internal/handler"
	"github.com/prn-tf/quill/internal/kvstore"
	"github.com/prn-tf/quill/internal/lock"
	"github.com/prn-tf/quill/internal/repository"
	"github.com/prn-tf/quill/internal/service"
	"github.com/prn-tf/quill/internal/store"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	logger := newLogger(cfg.Logging)

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("store_driver", cfg.Store.Driver).
		Msg("starting quill server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Startup pipeline. Each stage depends on the previous; a failed
	// storage stage degrades rather than aborts, a failed identity stage
	// clears the session and serves the logged-out surface.
	backend, backendErr := openBackend(ctx, cfg, logger)
	if backendErr != nil {
		logger.Error().Err(backendErr).Msg("storage backend unavailable, continuing in-memory")
		backend = kvstore.NewMemoryStore()
	}
	defer backend.Close()

	adapter := store.NewAdapter(backend, logger)
	repo := repository.NewRepository(adapter, logger)
	locker := newLocker(cfg, backend)

	hub := handler.NewHub(logger)
	sessions := service.NewSessionService(repo, hub, cfg.Session, cfg.Admin, logger)
	content := service.NewContentService(repo, hub, logger)
	views := service.NewViewService(repo, locker, hub, hub, cfg.View, logger)

	session, err := sessions.CheckLoginStatus(ctx)
	if err != nil || backendErr != nil {
		if err != nil {
			logger.Error().Err(err).Msg("startup identity check failed, forcing logged-out state")
		}
		sessions.Logout(ctx)
		session = nil
	}
	repo.LoadAll(ctx)

	// The very first load of a fresh storage origin always starts logged
	// out, even if a session record somehow exists.
	if repo.FirstLoad(ctx) {
		sessions.Logout(ctx)
		session = nil
		repo.MarkLoaded(ctx)
	}
	if session != nil {
		logger.Info().Str("username", session.Username).Msg("session restored")
	}

	go views.Run(ctx)

	if cfg.Backup.Enabled {
		target, err := newBackupTarget(ctx, cfg.Backup, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("backup target unavailable, snapshots stay in-store only")
			target = nil
		}
		integrity := service.NewIntegrityService(repo, sessions, target, cfg.Backup.Interval, logger)
		go integrity.Run(ctx)
	}

	api := handler.NewAPIHandler(handler.APIConfig{
		SessionService: sessions,
		ContentService: content,
		ViewService:    views,
		Repository:     repo,
		Hub:            hub,
		CookieName:     cfg.Session.CookieName,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.Router(cfg.Metrics.Enabled, cfg.Metrics.Path),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
}

// newLogger builds the root zerolog logger from configuration.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	logger := log.Logger
	if cfg.Format == "console" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level)
}

// openBackend constructs the configured kvstore backend.
func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (kvstore.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return kvstore.NewMemoryStore(), nil
	case "sqlite":
		sc := kvstore.DefaultSQLiteConfig(cfg.Store.Path)
		sc.JournalMode = cfg.Store.JournalMode
		sc.BusyTimeout = cfg.Store.BusyTimeout
		sc.PollInterval = cfg.Store.PollInterval
		return kvstore.NewSQLiteStore(ctx, sc, logger)
	case "redis":
		return kvstore.NewRedisStore(ctx, kvstore.RedisConfig{
			Addr:      cfg.Redis.Addr(),
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
	case "postgres":
		return kvstore.NewPostgresStore(ctx, kvstore.PostgresConfig{
			DSN:          cfg.Store.DSN(),
			PollInterval: cfg.Store.PollInterval,
		}, logger)
	default:
		return kvstore.NewMemoryStore(), nil
	}
}

// newLocker picks the lease implementation matching the store driver.
func newLocker(cfg *config.Config, backend kvstore.Store) lock.Locker {
	switch cfg.Store.Driver {
	case "memory":
		return lock.NewMemoryLocker()
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		return lock.NewRedisLocker(client)
	default:
		return lock.NewStoreLocker(backend)
	}
}

// newBackupTarget constructs the configured snapshot target.
func newBackupTarget(ctx context.Context, cfg config.BackupConfig, logger zerolog.Logger) (backup.Target, error) {
	switch cfg.Target {
	case "s3":
		return backup.NewS3Target(ctx, backup.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Keep:            cfg.Keep,
		}, logger)
	default:
		return backup.NewFileTarget(cfg.Dir, cfg.Keep, logger)
	}
}
