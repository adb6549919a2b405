package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AUCTION_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AUCTION_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setStr(&cfg.Server.Host, "AUCTION_SERVER_HOST")
	setInt(&cfg.Server.Port, "AUCTION_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AUCTION_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RequestsPerMinute, "AUCTION_SERVER_REQUESTS_PER_MINUTE")
	setDuration(&cfg.Server.ShutdownTimeout, "AUCTION_SERVER_SHUTDOWN_TIMEOUT")

	// ── Store ──
	setStr(&cfg.Store.Driver, "AUCTION_STORE_DRIVER")
	setStr(&cfg.SQLite.Path, "AUCTION_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.DSN, "AUCTION_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "AUCTION_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AUCTION_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AUCTION_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AUCTION_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AUCTION_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AUCTION_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AUCTION_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AUCTION_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.StatementTimeout, "AUCTION_POSTGRES_STATEMENT_TIMEOUT")
	setBool(&cfg.Postgres.RunMigrations, "AUCTION_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "AUCTION_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "AUCTION_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUCTION_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUCTION_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AUCTION_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AUCTION_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AUCTION_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "AUCTION_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "AUCTION_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "AUCTION_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AUCTION_S3_REGION")
	setStr(&cfg.S3.Bucket, "AUCTION_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AUCTION_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AUCTION_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AUCTION_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AUCTION_S3_FORCE_PATH_STYLE")

	// ── NATS ──
	setBool(&cfg.NATS.Enabled, "AUCTION_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "AUCTION_NATS_URL")
	setStr(&cfg.NATS.Stream, "AUCTION_NATS_STREAM")
	setDuration(&cfg.NATS.MaxAge, "AUCTION_NATS_MAX_AGE")
	setInt(&cfg.NATS.Replicas, "AUCTION_NATS_REPLICAS")

	// ── Auth ──
	setStr(&cfg.Auth.BootstrapAdmin, "AUCTION_AUTH_BOOTSTRAP_ADMIN")
	setStr(&cfg.Auth.BootstrapAdminName, "AUCTION_AUTH_BOOTSTRAP_ADMIN_NAME")

	// ── Bidding ──
	setInt(&cfg.Bidding.RateLimitPerMinute, "AUCTION_BIDDING_RATE_LIMIT_PER_MINUTE")
	setBool(&cfg.Bidding.DistributedLock, "AUCTION_BIDDING_DISTRIBUTED_LOCK")
	setDuration(&cfg.Bidding.LockTTL, "AUCTION_BIDDING_LOCK_TTL")
	setInt(&cfg.Bidding.MaxRetries, "AUCTION_BIDDING_MAX_RETRIES")
	setStr(&cfg.Bidding.Origin, "AUCTION_BIDDING_ORIGIN")

	// ── Poll ──
	setStr(&cfg.Poll.Cache, "AUCTION_POLL_CACHE")

	// ── Archive ──
	setDuration(&cfg.Archive.Interval, "AUCTION_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Cron, "AUCTION_ARCHIVE_CRON")
	setDuration(&cfg.Archive.Grace, "AUCTION_ARCHIVE_GRACE")
	setInt(&cfg.Archive.BatchSize, "AUCTION_ARCHIVE_BATCH_SIZE")

	// ── Top-level ──
	setStr(&cfg.Mode, "AUCTION_MODE")
	setStr(&cfg.LogLevel, "AUCTION_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
