// Package config defines the configuration of the auction service and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AUCTION_* environment variables.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	NATS     NATSConfig     `toml:"nats"`
	Auth     AuthConfig     `toml:"auth"`
	Bidding  BiddingConfig  `toml:"bidding"`
	Poll     PollConfig     `toml:"poll"`
	Archive  ArchiveConfig  `toml:"archive"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RequestsPerMinute caps API requests per client address. It needs
	// Redis; zero disables it.
	RequestsPerMinute int      `toml:"requests_per_minute"`
	ReadTimeout       duration `toml:"read_timeout"`
	WriteTimeout      duration `toml:"write_timeout"`
	ShutdownTimeout   duration `toml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig selects the primary store.
type StoreConfig struct {
	Driver string `toml:"driver"` // postgres | sqlite
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN              string   `toml:"dsn"`
	Host             string   `toml:"host"`
	Port             int      `toml:"port"`
	Database         string   `toml:"database"`
	User             string   `toml:"user"`
	Password         string   `toml:"password"`
	SSLMode          string   `toml:"ssl_mode"`
	PoolMaxConns     int      `toml:"pool_max_conns"`
	PoolMinConns     int      `toml:"pool_min_conns"`
	StatementTimeout duration `toml:"statement_timeout"`
	RunMigrations    bool     `toml:"run_migrations"`
}

// SQLiteConfig holds the embedded store location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters. Without Redis the service
// runs single-replica: local cache, no rate limits, no cross-replica push.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NATSConfig holds the JetStream bid event stream settings.
type NATSConfig struct {
	Enabled  bool     `toml:"enabled"`
	URL      string   `toml:"url"`
	Stream   string   `toml:"stream"`
	MaxAge   duration `toml:"max_age"`
	Replicas int      `toml:"replicas"`
}

// AuthConfig controls the identity provider.
type AuthConfig struct {
	// BootstrapAdmin, when set, is created as an admin user on first start
	// and its token printed once.
	BootstrapAdmin     string `toml:"bootstrap_admin"`
	BootstrapAdminName string `toml:"bootstrap_admin_name"`
}

// BiddingConfig tunes bid acceptance.
type BiddingConfig struct {
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
	DistributedLock    bool     `toml:"distributed_lock"`
	LockTTL            duration `toml:"lock_ttl"`
	MaxRetries         int      `toml:"max_retries"`
	// Origin names this replica in published bid events. Empty means the
	// host name.
	Origin string `toml:"origin"`
}

// PollConfig selects where the delta sync cache lives.
type PollConfig struct {
	Cache string `toml:"cache"` // local | redis
}

// ArchiveConfig schedules the archive of ended auctions.
type ArchiveConfig struct {
	Interval  duration `toml:"interval"`
	Cron      string   `toml:"cron"` // overrides interval when set
	Grace     duration `toml:"grace"`
	BatchSize int      `toml:"batch_size"`
}

// duration wraps time.Duration so it can be decoded from TOML strings like "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults for local
// development against an embedded store.
func Defaults() Config {
	return Config{
		Mode:     "server",
		LogLevel: "info",
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			ReadTimeout:     duration{15 * time.Second},
			WriteTimeout:    duration{30 * time.Second},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Store: StoreConfig{Driver: "sqlite"},
		Postgres: PostgresConfig{
			Host:             "localhost",
			Port:             5432,
			Database:         "auctions",
			User:             "postgres",
			SSLMode:          "disable",
			PoolMaxConns:     10,
			PoolMinConns:     2,
			StatementTimeout: duration{5 * time.Second},
			RunMigrations:    true,
		},
		SQLite: SQLiteConfig{Path: "auctions.db"},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "bookauction",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "auction-archive",
			ForcePathStyle: true,
		},
		NATS: NATSConfig{
			URL:      "nats://localhost:4222",
			Stream:   "BIDS",
			MaxAge:   duration{30 * 24 * time.Hour},
			Replicas: 1,
		},
		Auth: AuthConfig{BootstrapAdminName: "Administrator"},
		Bidding: BiddingConfig{
			RateLimitPerMinute: 30,
			LockTTL:            duration{5 * time.Second},
			MaxRetries:         3,
		},
		Poll: PollConfig{Cache: "local"},
		Archive: ArchiveConfig{
			Interval:  duration{10 * time.Minute},
			Grace:     duration{24 * time.Hour},
			BatchSize: 50,
		},
	}
}

var validModes = map[string]bool{
	"server":   true,
	"archiver": true,
	"full":     true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for missing or invalid values and returns
// an error describing every problem found, so operators can fix them all at
// once.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archiver, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}
	if c.Server.RequestsPerMinute < 0 {
		errs = append(errs, "server: requests_per_minute must be >= 0")
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres: either dsn or host must be set")
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			errs = append(errs, "sqlite: path is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite)", c.Store.Driver))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required when enabled")
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket is required when enabled")
	}
	if (mode == "archiver" || mode == "full") && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for mode "+mode)
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			errs = append(errs, "nats: url is required when enabled")
		}
		if c.NATS.Stream == "" {
			errs = append(errs, "nats: stream is required when enabled")
		}
		if c.NATS.Replicas < 1 {
			errs = append(errs, "nats: replicas must be >= 1")
		}
	}

	if c.Bidding.MaxRetries < 1 {
		errs = append(errs, "bidding: max_retries must be >= 1")
	}
	if c.Bidding.RateLimitPerMinute < 0 {
		errs = append(errs, "bidding: rate_limit_per_minute must be >= 0")
	}
	if c.Bidding.DistributedLock {
		if !c.Redis.Enabled {
			errs = append(errs, "bidding: distributed_lock requires redis.enabled")
		}
		if c.Bidding.LockTTL.Duration <= 0 {
			errs = append(errs, "bidding: lock_ttl must be positive")
		}
	}

	switch c.Poll.Cache {
	case "local":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "poll: cache \"redis\" requires redis.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("poll: unknown cache %q (valid: local, redis)", c.Poll.Cache))
	}

	if mode == "archiver" || mode == "full" {
		if c.Archive.Cron == "" && c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive when cron is empty")
		}
		if c.Archive.Cron != "" && len(strings.Fields(c.Archive.Cron)) != 5 {
			errs = append(errs, fmt.Sprintf("archive: cron %q must have 5 fields", c.Archive.Cron))
		}
		if c.Archive.Grace.Duration < 0 {
			errs = append(errs, "archive: grace must be >= 0")
		}
		if c.Archive.BatchSize < 1 {
			errs = append(errs, "archive: batch_size must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
