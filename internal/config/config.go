// Package config provides configuration management for the Quill blog server.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Session SessionConfig `mapstructure:"session"`
	View    ViewConfig    `mapstructure:"view"`
	Backup  BackupConfig  `mapstructure:"backup"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address in host:port format.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig selects and configures the key-value persistence backend.
type StoreConfig struct {
	// Driver specifies the backend: "memory", "sqlite", "redis" or "postgres".
	Driver string `mapstructure:"driver"`

	// SQLite settings (used when Driver is "sqlite")
	Path        string `mapstructure:"path"`
	JournalMode string `mapstructure:"journal_mode"`
	BusyTimeout int    `mapstructure:"busy_timeout"`

	// PostgreSQL settings (used when Driver is "postgres")
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`

	// PollInterval controls how often SQL-backed stores poll for changes
	// made by other instances.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DSN returns the PostgreSQL connection string.
// Only valid when Driver is "postgres".
func (c StoreConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis connection settings, used both for the redis
// store driver and the redis view lock.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AdminConfig holds the reserved administrator account settings.
type AdminConfig struct {
	// Password is the bootstrap password for the reserved admin account.
	Password string `mapstructure:"password"`

	// Email shown on the admin profile.
	Email string `mapstructure:"email"`
}

// SessionConfig holds authentication and session lifetime settings.
type SessionConfig struct {
	// TTL is added to the login time to produce the session expiry.
	TTL time.Duration `mapstructure:"ttl"`

	// MaxAge is the hard ceiling on session age during validation.
	// Sessions whose login time is older than this are rejected even
	// if their recorded expiry has not passed.
	MaxAge time.Duration `mapstructure:"max_age"`

	// FailureThreshold is the number of consecutive failed logins that
	// triggers a lockout.
	FailureThreshold int `mapstructure:"failure_threshold"`

	// LockoutDuration is how long a locked account stays locked.
	LockoutDuration time.Duration `mapstructure:"lockout_duration"`

	// CookieName is the name of the session cookie.
	CookieName string `mapstructure:"cookie_name"`
}

// ViewConfig holds view-count synchronization settings.
type ViewConfig struct {
	// LeaseTTL bounds how long a view lock lease is honored.
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`

	// ReleaseDelay is how long the lease is held after the counter write
	// before release.
	ReleaseDelay time.Duration `mapstructure:"release_delay"`

	// AuditInterval is how often the periodic consistency audit reloads
	// counters from storage.
	AuditInterval time.Duration `mapstructure:"audit_interval"`
}

// BackupConfig holds integrity-check backup settings.
type BackupConfig struct {
	// Enabled determines whether periodic snapshots run.
	Enabled bool `mapstructure:"enabled"`

	// Interval is how often the integrity check takes a snapshot.
	Interval time.Duration `mapstructure:"interval"`

	// Target selects where snapshots go: "file" or "s3".
	Target string `mapstructure:"target"`

	// Dir is the snapshot directory for the file target.
	Dir string `mapstructure:"dir"`

	// Keep is how many dated snapshots to retain.
	Keep int `mapstructure:"keep"`

	S3 S3BackupConfig `mapstructure:"s3"`
}

// S3BackupConfig holds S3 snapshot target settings.
type S3BackupConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if metrics collection is active.
	Enabled bool `mapstructure:"enabled"`

	// Path is the URL path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with QUILL_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Environment variable configuration
	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file configuration
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/quill")
	}

	// Read config file (optional - environment variables can be used instead)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is acceptable - use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Store defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "./data/quill.db")
	v.SetDefault("store.journal_mode", "WAL")
	v.SetDefault("store.busy_timeout", 5000)
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 5432)
	v.SetDefault("store.user", "quill")
	v.SetDefault("store.password", "")
	v.SetDefault("store.database", "quill")
	v.SetDefault("store.ssl_mode", "prefer")
	v.SetDefault("store.poll_interval", 500*time.Millisecond)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.key_prefix", "quill:")

	// Admin defaults
	v.SetDefault("admin.password", "admin123")
	v.SetDefault("admin.email", "admin@quill.local")

	// Session defaults
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.max_age", 30*24*time.Hour)
	v.SetDefault("session.failure_threshold", 5)
	v.SetDefault("session.lockout_duration", 30*time.Minute)
	v.SetDefault("session.cookie_name", "quill_session")

	// View sync defaults
	v.SetDefault("view.lease_ttl", time.Second)
	v.SetDefault("view.release_delay", time.Second)
	v.SetDefault("view.audit_interval", 30*time.Second)

	// Backup defaults
	v.SetDefault("backup.enabled", true)
	v.SetDefault("backup.interval", 10*time.Minute)
	v.SetDefault("backup.target", "file")
	v.SetDefault("backup.dir", "./data/backups")
	v.SetDefault("backup.keep", 5)
	v.SetDefault("backup.s3.region", "us-east-1")
	v.SetDefault("backup.s3.prefix", "quill/")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Validate store configuration
	validDrivers := map[string]bool{"memory": true, "sqlite": true, "redis": true, "postgres": true}
	if !validDrivers[c.Store.Driver] {
		return fmt.Errorf("store.driver must be one of: memory, sqlite, redis, postgres")
	}

	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for sqlite driver")
	}
	if c.Store.Driver == "postgres" {
		if c.Store.Host == "" {
			return fmt.Errorf("store.host is required for postgres driver")
		}
		if c.Store.User == "" {
			return fmt.Errorf("store.user is required for postgres driver")
		}
		if c.Store.Database == "" {
			return fmt.Errorf("store.database is required for postgres driver")
		}
	}

	// Validate session configuration
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.Session.FailureThreshold < 1 {
		return fmt.Errorf("session.failure_threshold must be at least 1")
	}

	// Validate view configuration
	if c.View.LeaseTTL <= 0 {
		return fmt.Errorf("view.lease_ttl must be positive")
	}

	// Validate backup configuration
	if c.Backup.Enabled {
		validTargets := map[string]bool{"file": true, "s3": true}
		if !validTargets[c.Backup.Target] {
			return fmt.Errorf("backup.target must be 'file' or 's3'")
		}
		if c.Backup.Target == "s3" && c.Backup.S3.Bucket == "" {
			return fmt.Errorf("backup.s3.bucket is required for s3 target")
		}
	}

	// Validate logging configuration
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
