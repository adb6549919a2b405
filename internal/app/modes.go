package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bookauction/internal/domain"
	"github.com/alanyoungcy/bookauction/internal/pipeline"
	"github.com/alanyoungcy/bookauction/internal/server"
	"github.com/alanyoungcy/bookauction/internal/server/handler"
	"github.com/alanyoungcy/bookauction/internal/server/ws"
	"github.com/alanyoungcy/bookauction/internal/service"
)

// ServerMode runs the HTTP API, the websocket hub and, with Redis, the relay
// that feeds remote commits into this replica.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	relay := a.startHTTPServer(ctx, g, deps)
	a.startPipeline(ctx, g, relay, nil)
	return g.Wait()
}

// ArchiverMode runs only the archive job.
func (a *App) ArchiverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting archiver mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archiver mode: s3 is not configured")
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startPipeline(ctx, g, nil, a.archiveJob(deps))
	return g.Wait()
}

// FullMode runs the API and the archive job in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting full mode")

	if deps.Archiver == nil {
		return fmt.Errorf("full mode: s3 is not configured")
	}
	g, ctx := errgroup.WithContext(ctx)
	relay := a.startHTTPServer(ctx, g, deps)
	a.startPipeline(ctx, g, relay, a.archiveJob(deps))
	return g.Wait()
}

func (a *App) archiveJob(deps *Dependencies) *pipeline.ArchiveJob {
	return pipeline.NewArchiveJob(deps.Archiver, a.cfg.Archive.Grace.Duration, a.cfg.Archive.BatchSize, deps.Clock, a.logger)
}

func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, relay *pipeline.BidRelay, archive *pipeline.ArchiveJob) {
	if relay == nil && archive == nil {
		return
	}
	orch := pipeline.NewOrchestrator(relay, archive, a.cfg.Archive.Interval.Duration, a.cfg.Archive.Cron, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})
}

// startHTTPServer adds the hub and HTTP server goroutines to g. It returns
// the relay that delivers bids committed on other replicas, or nil when the
// replica runs alone.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) *pipeline.BidRelay {
	hub := ws.NewHub(func(ctx context.Context, auctionID string) error {
		auc, err := deps.Auctions.GetByID(ctx, auctionID)
		if err != nil {
			return err
		}
		if !auc.Approved() {
			return domain.ErrNotFound
		}
		return nil
	}, deps.Clock, a.logger)

	// With a signal bus every commit, local or remote, comes back through
	// the relay, so the hub listens there instead of on the service.
	var publishers []domain.BidPublisher
	var relay *pipeline.BidRelay
	if deps.SignalBus != nil {
		publishers = append(publishers, deps.SignalBus)
		sinks := []domain.BidPublisher{hub}
		if deps.LocalCache != nil {
			sinks = append(sinks, pipeline.CacheSink{Cache: deps.LocalCache})
		}
		relay = pipeline.NewBidRelay(deps.SignalBus, a.logger, sinks...)
	} else {
		publishers = append(publishers, hub)
	}
	if deps.Stream != nil {
		publishers = append(publishers, deps.Stream)
	}

	bidding := service.NewBiddingService(deps.Auctions, deps.Ledger, deps.BidTimes, deps.Users, deps.Clock, a.logger).
		WithPublishers(publishers...).
		WithMaxRetries(a.cfg.Bidding.MaxRetries).
		WithOrigin(deps.Origin)
	if deps.RateLimiter != nil && a.cfg.Bidding.RateLimitPerMinute > 0 {
		bidding = bidding.WithRateLimit(deps.RateLimiter, a.cfg.Bidding.RateLimitPerMinute)
	}
	if a.cfg.Bidding.DistributedLock && deps.LockManager != nil {
		bidding = bidding.WithDistributedLock(deps.LockManager, a.cfg.Bidding.LockTTL.Duration)
	}
	polls := service.NewPollService(deps.Auctions, deps.Ledger, deps.BidTimes, deps.Users, deps.Clock, a.logger)
	auctions := service.NewAuctionService(deps.Auctions, deps.Audit, deps.Clock, a.logger)

	srv := server.NewServer(server.Config{
		Addr:              a.cfg.Server.Addr(),
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		RequestsPerMinute: a.cfg.Server.RequestsPerMinute,
		Limiter:           deps.RateLimiter,
		ReadTimeout:       a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout:      a.cfg.Server.WriteTimeout.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Health, deps.Clock, a.logger),
		Auctions: handler.NewAuctionHandler(auctions, deps.Auctions, deps.Clock, a.logger),
		Bids:     handler.NewBidHandler(bidding, polls, a.logger),
		Audit:    handler.NewAuditHandler(deps.Audit, a.logger),
	}, deps.Users, hub, a.logger)

	g.Go(func() error {
		if err := hub.Run(ctx); ctx.Err() == nil {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			a.logger.Error("app: http shutdown", slog.String("error", err.Error()))
			return err
		}
		return nil
	})

	return relay
}
