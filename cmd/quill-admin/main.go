// Package main is the entry point for the Quill admin CLI.
// It operates directly on the storage backend, without the server running.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/backup"
	"github.com/prn-tf/quill/internal/config"
	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/kvstore"
	"github.com/prn-tf/quill/internal/pkg/crypto"
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
	flags := flag.NewFlagSet("quill-admin", flag.ExitOnError)
	configPath := flags.String("config", "", "path to config file")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	flags.Parse(os.Args[2:])
	args := flags.Args()

	switch command {
	case "version":
		fmt.Printf("Quill Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	}

	cfg := config.MustLoad(*configPath)
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage backend unavailable: %v\n", err)
		os.Exit(1)
	}
	defer backend.Close()

	adapter := store.NewAdapter(backend, logger)
	repo := repository.NewRepository(adapter, logger)
	sessions := service.NewSessionService(repo, nil, cfg.Session, cfg.Admin, logger)

	var cmdErr error
	switch command {
	case "ensure-admin":
		cmdErr = runEnsureAdmin(ctx, sessions)
	case "reset-password":
		cmdErr = runResetPassword(ctx, repo, args)
	case "list-users":
		cmdErr = runListUsers(ctx, repo)
	case "backup":
		cmdErr = runBackup(ctx, cfg, repo, logger)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, cmdErr)
		os.Exit(1)
	}
}

func runEnsureAdmin(ctx context.Context, sessions *service.SessionService) error {
	if err := sessions.EnsureAdminAccount(ctx); err != nil {
		return err
	}
	fmt.Println("administrator account verified")
	return nil
}

func runResetPassword(ctx context.Context, repo *repository.Repository, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: quill-admin reset-password <username> <new-password>")
	}
	username, password := args[0], args[1]

	repo.ReloadUsers(ctx)
	user, found := repo.UserByUsername(username)
	if !found {
		return domain.ErrUserNotFound
	}

	digest, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	user.PasswordDigest = digest
	user.LoginAttempts = 0
	user.LockedUntil = nil
	if !repo.UpdateUser(ctx, user) {
		return domain.ErrStorageUnavailable
	}

	fmt.Printf("password reset for %s\n", username)
	return nil
}

func runListUsers(ctx context.Context, repo *repository.Repository) error {
	repo.ReloadUsers(ctx)
	users, total := repo.UserPage(0, 0)

	fmt.Printf("%-22s %-30s %-6s %-7s %s\n", "USERNAME", "EMAIL", "ADMIN", "LOCKED", "LAST LOGIN")
	for _, u := range users {
		lastLogin := "never"
		if !u.LastLogin.IsZero() {
			lastLogin = u.LastLogin.Format(time.RFC3339)
		}
		fmt.Printf("%-22s %-30s %-6t %-7t %s\n", u.Username, u.Email, u.IsAdmin, u.IsLocked, lastLogin)
	}
	fmt.Printf("\n%d users\n", total)
	return nil
}

func runBackup(ctx context.Context, cfg *config.Config, repo *repository.Repository, logger zerolog.Logger) error {
	repo.LoadAll(ctx)
	snap, data, err := repo.TakeSnapshot(ctx)
	if err != nil {
		return err
	}

	var target backup.Target
	switch cfg.Backup.Target {
	case "s3":
		target, err = backup.NewS3Target(ctx, backup.S3Config{
			Endpoint:        cfg.Backup.S3.Endpoint,
			Region:          cfg.Backup.S3.Region,
			Bucket:          cfg.Backup.S3.Bucket,
			Prefix:          cfg.Backup.S3.Prefix,
			AccessKeyID:     cfg.Backup.S3.AccessKeyID,
			SecretAccessKey: cfg.Backup.S3.SecretAccessKey,
			Keep:            cfg.Backup.Keep,
		}, logger)
	default:
		target, err = backup.NewFileTarget(cfg.Backup.Dir, cfg.Backup.Keep, logger)
	}
	if err != nil {
		return err
	}
	if err := target.Store(ctx, snap.Timestamp, data); err != nil {
		return err
	}

	fmt.Printf("backup written: %d users, %d articles, %d comments\n",
		len(snap.Users), len(snap.Articles), len(snap.Comments))
	return nil
}

// openBackend constructs the configured kvstore backend.
func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (kvstore.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return nil, fmt.Errorf("the memory driver holds no data outside a running server")
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
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func printUsage() {
	fmt.Println(`Quill Admin CLI

Usage:
  quill-admin <command> [flags] [arguments]

Commands:
  ensure-admin     Verify and repair the administrator account
  reset-password   Reset a user's password: reset-password <username> <new-password>
  list-users       List all registered users
  backup           Take a backup snapshot and write it to the configured target
  version          Print version information
  help             Show this help message

Flags (given after the command):
  -config <path>   Path to the config file (default: search ./configs, /etc/quill)

Examples:
  quill-admin ensure-admin
  quill-admin reset-password -config /etc/quill/config.yaml alice s3cret42
  quill-admin list-users
  quill-admin backup`)
}
