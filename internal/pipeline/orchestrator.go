package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the background workers of a replica: the bid relay and
// the archive job. Either may be nil.
type Orchestrator struct {
	relay           *BidRelay
	archive         *ArchiveJob
	archiveInterval time.Duration
	archiveCron     string
	logger          *slog.Logger
}

// NewOrchestrator creates an Orchestrator. A non-empty archiveCron takes
// precedence over archiveInterval.
func NewOrchestrator(relay *BidRelay, archive *ArchiveJob, archiveInterval time.Duration, archiveCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		relay:           relay,
		archive:         archive,
		archiveInterval: archiveInterval,
		archiveCron:     archiveCron,
		logger:          logger.With(slog.String("component", "pipeline")),
	}
}

// Run blocks until ctx is cancelled or a worker fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline: starting",
		slog.Bool("relay", o.relay != nil),
		slog.Bool("archive", o.archive != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.relay != nil {
		g.Go(func() error {
			err := o.relay.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bid relay: %w", err)
		})
	}

	if o.archive != nil {
		g.Go(func() error {
			var err error
			if o.archiveCron != "" {
				err = o.archive.RunCron(ctx, o.archiveCron)
			} else {
				err = o.archive.RunLoop(ctx, o.archiveInterval)
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archive job: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline: stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline: stopped")
	return nil
}
