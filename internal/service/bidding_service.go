package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

const (
	defaultMaxRetries     = 3
	defaultLockTTL        = 5 * time.Second
	defaultPublishTimeout = 2 * time.Second
	cacheForgetTimeout    = 2 * time.Second
)

// BiddingService validates and commits bids. Validation and commit for one
// auction run under a per-auction lock, and the store re-checks the price it
// was validated against, so two racing bidders can never both win against
// the same read.
type BiddingService struct {
	auctions   domain.AuctionStore
	ledger     domain.BidLedger
	cache      domain.BidTimeCache
	users      domain.UserDirectory
	clock      domain.Clock
	locks      *auctionLocks
	distLock   domain.LockManager
	lockTTL    time.Duration
	limiter    domain.RateLimiter
	perMinute  int
	publishers []domain.BidPublisher
	maxRetries int
	origin     string
	newID      func() string
	logger     *slog.Logger
}

// NewBiddingService creates a BiddingService with its required dependencies.
func NewBiddingService(
	auctions domain.AuctionStore,
	ledger domain.BidLedger,
	cache domain.BidTimeCache,
	users domain.UserDirectory,
	clock domain.Clock,
	logger *slog.Logger,
) *BiddingService {
	return &BiddingService{
		auctions:   auctions,
		ledger:     ledger,
		cache:      cache,
		users:      users,
		clock:      clock,
		locks:      newAuctionLocks(),
		lockTTL:    defaultLockTTL,
		maxRetries: defaultMaxRetries,
		newID:      func() string { return uuid.New().String() },
		logger:     logger.With(slog.String("component", "bidding")),
	}
}

// WithDistributedLock also takes a cross-replica lock per auction around
// each commit.
func (s *BiddingService) WithDistributedLock(lm domain.LockManager, ttl time.Duration) *BiddingService {
	s.distLock = lm
	if ttl > 0 {
		s.lockTTL = ttl
	}
	return s
}

// WithRateLimit caps bids per bidder per minute. Zero disables the limit.
func (s *BiddingService) WithRateLimit(limiter domain.RateLimiter, perMinute int) *BiddingService {
	s.limiter = limiter
	s.perMinute = perMinute
	return s
}

// WithPublishers announces every committed bid to pubs.
func (s *BiddingService) WithPublishers(pubs ...domain.BidPublisher) *BiddingService {
	s.publishers = append(s.publishers, pubs...)
	return s
}

// WithMaxRetries bounds how often a commit that lost a race is revalidated.
func (s *BiddingService) WithMaxRetries(n int) *BiddingService {
	if n >= 0 {
		s.maxRetries = n
	}
	return s
}

// WithOrigin names this replica in published events.
func (s *BiddingService) WithOrigin(origin string) *BiddingService {
	s.origin = origin
	return s
}

// PlaceBid validates amount against the auction and commits it. Failures
// are, in order: ErrNotFound, ErrNotApproved, ErrNotStarted or ErrEnded,
// and *domain.BidTooLowError.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) (domain.BidReceipt, error) {
	if err := s.checkRate(ctx, bidderID); err != nil {
		return domain.BidReceipt{}, err
	}

	release, err := s.locks.acquire(ctx, auctionID)
	if err != nil {
		return domain.BidReceipt{}, fmt.Errorf("bidding: wait for auction %s: %w", auctionID, err)
	}
	defer release()

	if s.distLock != nil {
		unlock, err := s.distLock.Acquire(ctx, "auction:"+auctionID, s.lockTTL)
		if err != nil {
			return domain.BidReceipt{}, domain.Unavailable("bidding: distributed lock "+auctionID, err)
		}
		defer unlock()
	}

	var bid domain.Bid
	for attempt := 0; ; attempt++ {
		bid, err = s.tryCommit(ctx, auctionID, bidderID, amount)
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrConflict) && attempt < s.maxRetries {
			s.logger.DebugContext(ctx, "bidding: commit lost a race, revalidating",
				slog.String("auction_id", auctionID),
				slog.Int("attempt", attempt+1),
			)
			continue
		}
		kind := domain.KindOf(err)
		if kind == domain.KindStorageUnavailable || kind == domain.KindUnknown {
			s.logger.ErrorContext(ctx, "bidding: commit failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.DebugContext(ctx, "bidding: bid rejected",
				slog.String("auction_id", auctionID),
				slog.String("bidder_id", bidderID),
				slog.Int64("amount", amount),
				slog.String("kind", kind.String()),
			)
		}
		return domain.BidReceipt{}, err
	}

	s.logger.InfoContext(ctx, "bidding: bid accepted",
		slog.String("auction_id", auctionID),
		slog.String("bidder_id", bidderID),
		slog.Int64("amount", amount),
		slog.Time("bid_time", bid.BidTime),
	)

	s.advanceCache(ctx, bid)
	s.publish(ctx, bid)

	return domain.BidReceipt{
		CurrentPrice: bid.Amount,
		Bid:          resolveBidders(ctx, s.users, s.logger, []domain.Bid{bid})[0],
	}, nil
}

// advanceCache moves the delta sync cache to the committed bid. A cache that
// could not be advanced must not keep answering "no new bids" for the old
// checkpoint, so the entry is dropped and polls fall back to the store.
func (s *BiddingService) advanceCache(ctx context.Context, bid domain.Bid) {
	err := s.cache.Advance(ctx, bid.AuctionID, bid.BidTime)
	if err == nil {
		return
	}
	s.logger.ErrorContext(ctx, "bidding: advance delta sync cache",
		slog.String("auction_id", bid.AuctionID),
		slog.String("error", err.Error()),
	)
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheForgetTimeout)
	defer cancel()
	if err := s.cache.Forget(fctx, bid.AuctionID); err != nil {
		s.logger.ErrorContext(ctx, "bidding: invalidate delta sync cache",
			slog.String("auction_id", bid.AuctionID),
			slog.String("error", err.Error()),
		)
	}
}

// tryCommit reads the clock once and runs every check against that instant.
func (s *BiddingService) tryCommit(ctx context.Context, auctionID, bidderID string, amount int64) (domain.Bid, error) {
	now := s.clock.Now()

	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("bidding: load auction: %w", err)
	}
	if !a.Approved() {
		return domain.Bid{}, fmt.Errorf("bidding: auction %s is %s: %w", auctionID, a.Status, domain.ErrNotApproved)
	}
	if err := domain.PhaseError(a.Phase(now)); err != nil {
		return domain.Bid{}, fmt.Errorf("bidding: auction %s: %w", auctionID, err)
	}
	if min := a.MinimumExclusive(); amount <= min {
		return domain.Bid{}, &domain.BidTooLowError{Amount: amount, Minimum: min}
	}

	bidTime := domain.NextBidTime(now, a.LastBidTime)
	if bidTime.After(a.AuctionEnd) {
		return domain.Bid{}, fmt.Errorf("bidding: auction %s: %w", auctionID, domain.ErrEnded)
	}

	bid := domain.Bid{
		ID:        s.newID(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		BidTime:   bidTime,
	}
	if err := s.ledger.Append(ctx, bid, a.CurrentPrice); err != nil {
		return domain.Bid{}, err
	}
	return bid, nil
}

// checkRate fails open when the limiter itself is unavailable.
func (s *BiddingService) checkRate(ctx context.Context, bidderID string) error {
	if s.limiter == nil || s.perMinute <= 0 {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, "bid:"+bidderID, s.perMinute, time.Minute)
	if err != nil {
		s.logger.WarnContext(ctx, "bidding: rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return fmt.Errorf("bidding: bidder %s: %w", bidderID, domain.ErrRateLimited)
	}
	return nil
}

// publish never fails the bid: it is already committed.
func (s *BiddingService) publish(ctx context.Context, bid domain.Bid) {
	if len(s.publishers) == 0 {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPublishTimeout)
	defer cancel()

	ev := domain.NewBidEvent(bid, s.origin)
	for _, p := range s.publishers {
		if err := p.PublishBid(pubCtx, ev); err != nil {
			s.logger.WarnContext(ctx, "bidding: publish bid event",
				slog.String("auction_id", bid.AuctionID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// resolveBidders attaches display names. A directory failure degrades to
// empty names rather than failing the request.
func resolveBidders(ctx context.Context, users domain.UserDirectory, logger *slog.Logger, bids []domain.Bid) []domain.BidView {
	out := make([]domain.BidView, 0, len(bids))
	if len(bids) == 0 {
		return out
	}

	ids := make([]string, 0, len(bids))
	seen := make(map[string]bool, len(bids))
	for _, b := range bids {
		if !seen[b.BidderID] {
			seen[b.BidderID] = true
			ids = append(ids, b.BidderID)
		}
	}

	names := map[string]string{}
	if users != nil {
		resolved, err := users.DisplayNames(ctx, ids)
		if err != nil {
			logger.WarnContext(ctx, "user directory lookup failed", slog.String("error", err.Error()))
		} else {
			names = resolved
		}
	}

	for _, b := range bids {
		out = append(out, domain.BidView{
			ID:        b.ID,
			Bidder:    domain.Bidder{ID: b.BidderID, DisplayName: names[b.BidderID]},
			BidAmount: b.Amount,
			BidTime:   b.BidTime,
		})
	}
	return out
}
