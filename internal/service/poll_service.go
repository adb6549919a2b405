package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

// BootstrapBidCount is how many bids a first poll receives.
const BootstrapBidCount = 5

// PollService answers delta-sync polls. A poll whose checkpoint matches the
// cached latest bid time is answered from the cache alone.
type PollService struct {
	auctions domain.AuctionStore
	ledger   domain.BidLedger
	cache    domain.BidTimeCache
	users    domain.UserDirectory
	clock    domain.Clock
	logger   *slog.Logger
}

// NewPollService creates a PollService.
func NewPollService(
	auctions domain.AuctionStore,
	ledger domain.BidLedger,
	cache domain.BidTimeCache,
	users domain.UserDirectory,
	clock domain.Clock,
	logger *slog.Logger,
) *PollService {
	return &PollService{
		auctions: auctions,
		ledger:   ledger,
		cache:    cache,
		users:    users,
		clock:    clock,
		logger:   logger.With(slog.String("component", "poll")),
	}
}

// Poll returns what changed on auctionID since the client's checkpoint.
// With a nil since it returns the most recent bids, newest first; otherwise
// it returns every bid strictly after since in chronological order.
func (s *PollService) Poll(ctx context.Context, auctionID string, since *time.Time) (domain.PollResult, error) {
	if since != nil {
		seen, ok, err := s.cache.LastBidTime(ctx, auctionID)
		if err != nil {
			s.logger.WarnContext(ctx, "poll: cache lookup failed, reading store",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		} else if ok && seen.Equal(*since) {
			return domain.PollResult{
				NewBids:   []domain.BidView{},
				Cached:    true,
				Timestamp: s.clock.Now(),
			}, nil
		}
	}

	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return domain.PollResult{}, fmt.Errorf("poll: load auction: %w", err)
	}
	if !a.Approved() {
		return domain.PollResult{}, fmt.Errorf("poll: auction not available: %w", domain.ErrNotApproved)
	}

	var bids []domain.Bid
	if since != nil {
		bids, err = s.ledger.Since(ctx, auctionID, *since)
	} else {
		bids, err = s.ledger.Recent(ctx, auctionID, BootstrapBidCount)
	}
	if err != nil {
		return domain.PollResult{}, fmt.Errorf("poll: load bids: %w", err)
	}

	latest, found := domain.MaxBidTime(bids)
	if a.LastBidTime != nil && (!found || a.LastBidTime.After(latest)) {
		latest, found = *a.LastBidTime, true
	}
	if found {
		if err := s.cache.Advance(ctx, auctionID, latest); err != nil {
			s.logger.WarnContext(ctx, "poll: advance cache",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		}
	}

	// A bid may have committed between the two reads.
	price := a.CurrentPrice
	for _, b := range bids {
		if b.Amount > price {
			price = b.Amount
		}
	}
	return domain.PollResult{
		CurrentPrice: &price,
		NewBids:      resolveBidders(ctx, s.users, s.logger, bids),
		HasNewBids:   len(bids) > 0,
		Timestamp:    s.clock.Now(),
	}, nil
}
