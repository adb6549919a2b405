package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	s3blob "github.com/alanyoungcy/bookauction/internal/blob/s3"
	"github.com/alanyoungcy/bookauction/internal/cache/local"
	"github.com/alanyoungcy/bookauction/internal/cache/redis"
	"github.com/alanyoungcy/bookauction/internal/config"
	"github.com/alanyoungcy/bookauction/internal/domain"
	natsstream "github.com/alanyoungcy/bookauction/internal/stream/nats"
	"github.com/alanyoungcy/bookauction/internal/store/postgres"
	"github.com/alanyoungcy/bookauction/internal/store/sqlite"
)

// auctionStore is what the stores of both drivers provide for auctions.
type auctionStore interface {
	domain.AuctionStore
	domain.CatalogStore
}

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Auctions auctionStore
	Ledger   domain.BidLedger
	Users    domain.UserStore
	Audit    domain.AuditStore

	// Delta sync cache. LocalCache is set when the cache lives in process
	// and must be fed remote commits.
	BidTimes   domain.BidTimeCache
	LocalCache *local.BidTimeCache

	// Redis-backed coordination; nil without Redis.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   *redis.SignalBus

	// Durable bid stream; nil without NATS.
	Stream *natsstream.Publisher

	// Blob storage; nil without S3.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.AuctionArchiver

	// Health lists every backend by name.
	Health map[string]domain.Pinger

	Clock  domain.Clock
	Origin string
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Clock:  domain.SystemClock{},
		Health: make(map[string]domain.Pinger),
		Origin: cfg.Bidding.Origin,
	}
	if deps.Origin == "" {
		deps.Origin, _ = os.Hostname()
	}

	// --- Primary store ---
	switch cfg.Store.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:              cfg.Postgres.DSN,
			Host:             cfg.Postgres.Host,
			Port:             cfg.Postgres.Port,
			Database:         cfg.Postgres.Database,
			User:             cfg.Postgres.User,
			Password:         cfg.Postgres.Password,
			SSLMode:          cfg.Postgres.SSLMode,
			MaxConns:         cfg.Postgres.PoolMaxConns,
			MinConns:         cfg.Postgres.PoolMinConns,
			StatementTimeout: cfg.Postgres.StatementTimeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Auctions = postgres.NewAuctionStore(pool)
		deps.Ledger = postgres.NewBidLedger(pool)
		deps.Users = postgres.NewUserStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["store"] = pgClient

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })

		deps.Auctions = sqlite.NewAuctionStore(db)
		deps.Ledger = sqlite.NewBidLedger(db)
		deps.Users = sqlite.NewUserStore(db)
		deps.Audit = sqlite.NewAuditStore(db)
		deps.Health["store"] = pingFunc(db.PingContext)

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown store driver %q", cfg.Store.Driver)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, logger)
		deps.Health["redis"] = redisClient

		if cfg.Poll.Cache == "redis" {
			deps.BidTimes = redis.NewBidTimeCache(redisClient)
		}
	}
	if deps.BidTimes == nil {
		deps.LocalCache = local.NewBidTimeCache()
		deps.BidTimes = deps.LocalCache
	}

	// --- NATS JetStream ---
	if cfg.NATS.Enabled {
		pub, err := natsstream.Connect(ctx, natsstream.Config{
			URL:      cfg.NATS.URL,
			Stream:   cfg.NATS.Stream,
			MaxAge:   cfg.NATS.MaxAge.Duration,
			Replicas: cfg.NATS.Replicas,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: nats: %w", err)
		}
		closers = append(closers, func() { _ = pub.Close() })
		deps.Stream = pub
		deps.Health["nats"] = pub
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.Auctions,
			deps.Ledger,
			deps.BlobWriter,
			deps.BlobReader,
			deps.Audit,
			deps.Clock,
			logger,
		).WithCache(deps.BidTimes)
		deps.Health["s3"] = s3Client
	}

	return deps, cleanup, nil
}
