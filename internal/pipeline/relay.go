package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

const resubscribeDelay = time.Second

// BidRelay fans bid events from the deployment-wide bus out to local
// consumers such as this replica's delta sync cache and websocket hub.
type BidRelay struct {
	source domain.BidSubscriber
	sinks  []domain.BidPublisher
	logger *slog.Logger
}

// NewBidRelay creates a relay from source to sinks.
func NewBidRelay(source domain.BidSubscriber, logger *slog.Logger, sinks ...domain.BidPublisher) *BidRelay {
	return &BidRelay{
		source: source,
		sinks:  sinks,
		logger: logger.With(slog.String("component", "bid_relay")),
	}
}

// Run relays events until ctx is cancelled, resubscribing when the source
// drops the subscription.
func (r *BidRelay) Run(ctx context.Context) error {
	for {
		events, err := r.source.SubscribeBids(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.WarnContext(ctx, "bid_relay: subscribe failed, retrying", slog.String("error", err.Error()))
		} else {
			r.drain(ctx, events)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resubscribeDelay):
		}
	}
}

func (r *BidRelay) drain(ctx context.Context, events <-chan domain.BidEvent) {
	for {
		var ev domain.BidEvent
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				r.logger.WarnContext(ctx, "bid_relay: subscription closed")
				return
			}
			ev = e
		}
		for _, sink := range r.sinks {
			if err := sink.PublishBid(ctx, ev); err != nil {
				r.logger.WarnContext(ctx, "bid_relay: deliver bid event",
					slog.String("auction_id", ev.AuctionID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// CacheSink advances a delta sync cache from bid events.
type CacheSink struct {
	Cache domain.BidTimeCache
}

// PublishBid records ev's bid time.
func (s CacheSink) PublishBid(ctx context.Context, ev domain.BidEvent) error {
	if ev.AuctionID == "" || ev.BidTime.IsZero() {
		return errors.New("incomplete bid event")
	}
	if err := s.Cache.Advance(ctx, ev.AuctionID, ev.BidTime); err != nil {
		return fmt.Errorf("advance cache: %w", err)
	}
	return nil
}

var _ domain.BidPublisher = CacheSink{}
