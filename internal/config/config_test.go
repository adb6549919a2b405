package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "batch"
	cfg.LogLevel = "loud"
	cfg.Store.Driver = "mysql"
	cfg.Poll.Cache = "redis"
	cfg.Bidding.DistributedLock = true
	cfg.Bidding.MaxRetries = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	for _, want := range []string{
		`unknown mode "batch"`,
		`unknown log_level "loud"`,
		`unknown driver "mysql"`,
		`poll: cache "redis" requires redis.enabled`,
		"distributed_lock requires redis.enabled",
		"max_retries must be >= 1",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidateArchiverNeedsS3(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archiver"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "s3: must be enabled") {
		t.Fatalf("Validate() = %v", err)
	}

	cfg.S3.Enabled = true
	cfg.Archive.Cron = "0 3 * *"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "must have 5 fields") {
		t.Fatalf("Validate() = %v", err)
	}

	cfg.Archive.Cron = "0 3 * * *"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auction.toml")
	content := `
mode = "full"

[store]
driver = "postgres"

[postgres]
host = "db.internal"
password = "file-secret"

[redis]
enabled = true
addr = "cache:6379"

[s3]
enabled = true
bucket = "books"

[bidding]
lock_ttl = "2s"
distributed_lock = true

[archive]
grace = "48h"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AUCTION_POSTGRES_PASSWORD", "env-secret")
	t.Setenv("AUCTION_POLL_CACHE", "redis")
	t.Setenv("AUCTION_SERVER_CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	if cfg.Mode != "full" || cfg.Store.Driver != "postgres" || cfg.Postgres.Host != "db.internal" {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.Postgres.Port != 5432 || cfg.Bidding.MaxRetries != 3 {
		t.Fatalf("defaults lost: port=%d retries=%d", cfg.Postgres.Port, cfg.Bidding.MaxRetries)
	}
	if cfg.Postgres.Password != "env-secret" || cfg.Poll.Cache != "redis" {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Postgres, cfg.Poll)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors origins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Bidding.LockTTL.Duration != 2*time.Second || cfg.Archive.Grace.Duration != 48*time.Hour {
		t.Fatalf("durations = %v %v", cfg.Bidding.LockTTL, cfg.Archive.Grace)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "s3cret"

	out := RedactedConfig(&cfg)
	if out.Postgres.DSN != redacted || out.Redis.Password != redacted || out.S3.SecretKey != redacted {
		t.Fatalf("secrets not redacted: %+v", out)
	}
	if out.S3.AccessKey != "" {
		t.Fatal("empty secret replaced with placeholder")
	}
	if cfg.Redis.Password != "hunter2" {
		t.Fatal("original config modified")
	}

	out.Server.CORSOrigins[0] = "mutated"
	if cfg.Server.CORSOrigins[0] == "mutated" {
		t.Fatal("redacted copy shares CORS slice with original")
	}
}
