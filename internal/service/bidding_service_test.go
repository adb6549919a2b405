package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

func TestPlaceBidScenarioA(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.activeAuction(t)

	_, err := f.bidding.PlaceBid(ctx, id, "alice", 900)
	var tooLow *domain.BidTooLowError
	if !errors.As(err, &tooLow) || tooLow.Minimum != 1000 {
		t.Fatalf("bid 900 = %v, want BidTooLow with minimum 1000", err)
	}
	if !strings.Contains(err.Error(), "must exceed 1000") {
		t.Fatalf("message %q does not name the minimum", err.Error())
	}

	_, err = f.bidding.PlaceBid(ctx, id, "alice", 1000)
	if !errors.Is(err, domain.ErrBidTooLow) {
		t.Fatalf("bid equal to base = %v, want BidTooLow", err)
	}

	receipt, err := f.bidding.PlaceBid(ctx, id, "alice", 1500)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.CurrentPrice != 1500 || receipt.Bid.BidAmount != 1500 {
		t.Fatalf("receipt = %+v", receipt)
	}
	if receipt.Bid.Bidder.ID != "alice" || receipt.Bid.Bidder.DisplayName != "Alice" {
		t.Fatalf("bidder = %+v", receipt.Bid.Bidder)
	}
	if !receipt.Bid.BidTime.Equal(t0) {
		t.Fatalf("bidTime = %v, want server time %v", receipt.Bid.BidTime, t0)
	}

	a, _ := f.auctions.GetByID(ctx, id)
	if a.CurrentPrice != 1500 || a.BidCount != 1 {
		t.Fatalf("auction after bid = %+v", a)
	}
	if got := f.ledgerOf(t, id); len(got) != 1 {
		t.Fatalf("ledger has %d bids, want 1", len(got))
	}
}

func TestPlaceBidScenarioB(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.activeAuction(t)
	if _, err := f.bidding.PlaceBid(ctx, id, "alice", 1500); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(map[int64]error)
	var mu sync.Mutex
	for _, amt := range []int64{1600, 1700} {
		wg.Add(1)
		go func(amt int64) {
			defer wg.Done()
			_, err := f.bidding.PlaceBid(ctx, id, "bob", amt)
			mu.Lock()
			errs[amt] = err
			mu.Unlock()
		}(amt)
	}
	wg.Wait()

	if errs[1700] != nil {
		t.Fatalf("bid 1700 = %v, want success", errs[1700])
	}
	if errs[1600] != nil && !errors.Is(errs[1600], domain.ErrBidTooLow) {
		t.Fatalf("bid 1600 = %v, want success or BidTooLow", errs[1600])
	}

	a, _ := f.auctions.GetByID(ctx, id)
	if a.CurrentPrice != 1700 {
		t.Fatalf("final price = %d, want 1700", a.CurrentPrice)
	}
	if i := domain.VerifyLedger(1000, f.ledgerOf(t, id)); i != -1 {
		t.Fatalf("ledger not strictly increasing at %d", i)
	}
}

func TestPlaceBidConcurrentMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.activeAuction(t)

	rng := rand.New(rand.NewSource(7))
	amounts := make([]int64, 60)
	for i := range amounts {
		amounts[i] = 900 + rng.Int63n(3000)
	}

	var wg sync.WaitGroup
	for i, amt := range amounts {
		wg.Add(1)
		go func(i int, amt int64) {
			defer wg.Done()
			bidder := "alice"
			if i%2 == 1 {
				bidder = "bob"
			}
			f.clock.Advance(time.Millisecond)
			_, err := f.bidding.PlaceBid(ctx, id, bidder, amt)
			if err != nil && !errors.Is(err, domain.ErrBidTooLow) {
				t.Errorf("bid %d = %v", amt, err)
			}
		}(i, amt)
	}
	wg.Wait()

	ledger := f.ledgerOf(t, id)
	if len(ledger) == 0 {
		t.Fatal("no bid was accepted")
	}
	if i := domain.VerifyLedger(1000, ledger); i != -1 {
		t.Fatalf("ledger broken at %d: %+v", i, ledger)
	}
	for i := 1; i < len(ledger); i++ {
		if !ledger[i].BidTime.After(ledger[i-1].BidTime) {
			t.Fatalf("bid times not strictly increasing at %d", i)
		}
	}
	a, _ := f.auctions.GetByID(ctx, id)
	if last := ledger[len(ledger)-1]; a.CurrentPrice != last.Amount {
		t.Fatalf("currentPrice %d != last ledger amount %d", a.CurrentPrice, last.Amount)
	}
	if f.bidding.locks.size() != 0 {
		t.Fatalf("lock table leaked %d entries", f.bidding.locks.size())
	}
}

func TestPlaceBidScenarioD(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	publisher := domain.Identity{UserID: "pub-1", Role: domain.RolePublisher}
	a, err := f.admin.Create(ctx, publisher, domain.Auction{
		Title: "Pending tome", BasePrice: 1000,
		AuctionStart: t0.Add(-time.Hour), AuctionEnd: t0.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.bidding.PlaceBid(ctx, a.ID, "alice", 5000); !errors.Is(err, domain.ErrNotApproved) {
		t.Fatalf("bid on pending = %v, want NotApproved", err)
	}
	if _, err := f.poll.Poll(ctx, a.ID, nil); !errors.Is(err, domain.ErrNotApproved) {
		t.Fatalf("poll on pending = %v, want NotApproved", err)
	}
	for _, p := range []domain.Phase{domain.PhaseUpcoming, domain.PhaseActive, domain.PhaseEnded} {
		phase := p
		list, err := f.admin.List(ctx, &phase, domain.ListOpts{})
		if err != nil {
			t.Fatal(err)
		}
		for _, got := range list {
			if got.ID == a.ID {
				t.Fatalf("pending auction listed under %v", phase)
			}
		}
	}
}

func TestPlaceBidScenarioE(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.auction(t, t0.Add(-time.Hour), t0.Add(time.Second))

	f.clock.Set(t0)
	if _, err := f.bidding.PlaceBid(ctx, id, "alice", 1200); err != nil {
		t.Fatalf("bid before end = %v", err)
	}

	f.clock.Set(t0.Add(2 * time.Second))
	if _, err := f.bidding.PlaceBid(ctx, id, "bob", 1300); !errors.Is(err, domain.ErrEnded) {
		t.Fatalf("bid after end = %v, want Ended", err)
	}
	if got := f.ledgerOf(t, id); len(got) != 1 || got[0].Amount != 1200 {
		t.Fatalf("ledger after ended bid = %+v", got)
	}
}

func TestPlaceBidWindowBoundaries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	start, end := t0.Add(time.Minute), t0.Add(2*time.Minute)
	id := f.auction(t, start, end)

	f.clock.Set(start.Add(-time.Microsecond))
	if _, err := f.bidding.PlaceBid(ctx, id, "alice", 1100); !errors.Is(err, domain.ErrNotStarted) {
		t.Fatalf("bid before start = %v, want NotStarted", err)
	}

	f.clock.Set(start)
	if _, err := f.bidding.PlaceBid(ctx, id, "alice", 1100); err != nil {
		t.Fatalf("bid at start = %v", err)
	}

	f.clock.Set(end)
	if _, err := f.bidding.PlaceBid(ctx, id, "bob", 1200); err != nil {
		t.Fatalf("bid at end = %v", err)
	}

	// The next bid would have to land after end to keep bid times strictly
	// increasing.
	if _, err := f.bidding.PlaceBid(ctx, id, "alice", 1300); !errors.Is(err, domain.ErrEnded) {
		t.Fatalf("bid squeezed past end = %v, want Ended", err)
	}
}

func TestPlaceBidNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.bidding.PlaceBid(context.Background(), "missing", "alice", 5000); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("bid on missing auction = %v, want NotFound", err)
	}
}

// racingLedger commits a rival bid the first time Append is called, so the
// caller's expected price is stale by the time its own commit runs.
type racingLedger struct {
	domain.BidLedger
	rival domain.Bid
	once  sync.Once
	calls int
}

func (l *racingLedger) Append(ctx context.Context, b domain.Bid, expected int64) error {
	l.calls++
	var rivalErr error
	l.once.Do(func() { rivalErr = l.BidLedger.Append(ctx, l.rival, expected) })
	if rivalErr != nil {
		return fmt.Errorf("rival: %w", rivalErr)
	}
	return l.BidLedger.Append(ctx, b, expected)
}

func TestPlaceBidRevalidatesAfterLostRace(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		amount    int64
		wantErr   error
		wantPrice int64
	}{
		{"outbid by rival", 1500, domain.ErrBidTooLow, 2000},
		{"still highest", 2500, nil, 2500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.activeAuction(t)
			rl := &racingLedger{
				BidLedger: f.ledger,
				rival:     domain.Bid{ID: "rival", AuctionID: id, BidderID: "bob", Amount: 2000, BidTime: t0.Add(-time.Second)},
			}
			svc := NewBiddingService(f.auctions, rl, f.cache, f.users, f.clock, discardLogger())

			_, err := svc.PlaceBid(ctx, id, "alice", tt.amount)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("PlaceBid() = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("PlaceBid() = %v, want %v", err, tt.wantErr)
			}
			if rl.calls < 1 {
				t.Fatal("ledger was never called")
			}
			a, _ := f.auctions.GetByID(ctx, id)
			if a.CurrentPrice != tt.wantPrice {
				t.Fatalf("price = %d, want %d", a.CurrentPrice, tt.wantPrice)
			}
		})
	}
}

type conflictLedger struct{ domain.BidLedger }

func (conflictLedger) Append(context.Context, domain.Bid, int64) error {
	return domain.ErrConflict
}

func TestPlaceBidRetriesAreBounded(t *testing.T) {
	f := newFixture(t)
	id := f.activeAuction(t)
	svc := NewBiddingService(f.auctions, conflictLedger{f.ledger}, f.cache, f.users, f.clock, discardLogger()).WithMaxRetries(2)

	if _, err := svc.PlaceBid(context.Background(), id, "alice", 1500); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("PlaceBid() = %v, want ErrConflict after retries", err)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.BidEvent
	err    error
}

func (p *recordingPublisher) PublishBid(_ context.Context, ev domain.BidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func TestPlaceBidPublishesAndAdvancesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.activeAuction(t)

	ok := &recordingPublisher{}
	broken := &recordingPublisher{err: errors.New("nats: no responders")}
	f.bidding.WithPublishers(ok, broken).WithOrigin("replica-1")

	receipt, err := f.bidding.PlaceBid(ctx, id, "alice", 1500)
	if err != nil {
		t.Fatalf("publish failure leaked into PlaceBid: %v", err)
	}
	if len(ok.events) != 1 || ok.events[0].CurrentPrice != 1500 || ok.events[0].Origin != "replica-1" {
		t.Fatalf("published events = %+v", ok.events)
	}
	seen, hit, _ := f.cache.LastBidTime(ctx, id)
	if !hit || !seen.Equal(receipt.Bid.BidTime) {
		t.Fatalf("cache = %v/%v, want %v", seen, hit, receipt.Bid.BidTime)
	}
}

type denyLimiter struct{ err error }

func (d denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, d.err
}

func TestPlaceBidRateLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.activeAuction(t)

	f.bidding.WithRateLimit(denyLimiter{}, 10)
	if _, err := f.bidding.PlaceBid(ctx, id, "alice", 1500); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("PlaceBid() = %v, want ErrRateLimited", err)
	}

	f.bidding.WithRateLimit(denyLimiter{err: errors.New("redis down")}, 10)
	if _, err := f.bidding.PlaceBid(ctx, id, "alice", 1500); err != nil {
		t.Fatalf("limiter outage must fail open, got %v", err)
	}
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestPlaceBidDistributedLockUnavailable(t *testing.T) {
	f := newFixture(t)
	id := f.activeAuction(t)
	f.bidding.WithDistributedLock(heldLock{}, time.Second)

	_, err := f.bidding.PlaceBid(context.Background(), id, "alice", 1500)
	if domain.KindOf(err) != domain.KindStorageUnavailable {
		t.Fatalf("PlaceBid() kind = %v, want STORAGE_UNAVAILABLE", domain.KindOf(err))
	}
	if got := f.ledgerOf(t, id); len(got) != 0 {
		t.Fatalf("bid committed without the lock: %+v", got)
	}
}

// flakyCache wraps the local cache with switchable failures.
type flakyCache struct {
	domain.BidTimeCache
	mu         sync.Mutex
	failAdv    bool
	failAll    bool
	forgotten  []string
	errTimeout error
}

func (c *flakyCache) set(adv, all bool) {
	c.mu.Lock()
	c.failAdv, c.failAll = adv, all
	c.mu.Unlock()
}

func (c *flakyCache) LastBidTime(ctx context.Context, id string) (time.Time, bool, error) {
	c.mu.Lock()
	all := c.failAll
	c.mu.Unlock()
	if all {
		return time.Time{}, false, c.errTimeout
	}
	return c.BidTimeCache.LastBidTime(ctx, id)
}

func (c *flakyCache) Advance(ctx context.Context, id string, t time.Time) error {
	c.mu.Lock()
	fail := c.failAdv || c.failAll
	c.mu.Unlock()
	if fail {
		return c.errTimeout
	}
	return c.BidTimeCache.Advance(ctx, id, t)
}

func (c *flakyCache) Forget(ctx context.Context, ids ...string) error {
	c.mu.Lock()
	all := c.failAll
	c.forgotten = append(c.forgotten, ids...)
	c.mu.Unlock()
	if all {
		return c.errTimeout
	}
	return c.BidTimeCache.Forget(ctx, ids...)
}

func TestPlaceBidCacheAdvanceFailureInvalidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.activeAuction(t)

	cache := &flakyCache{BidTimeCache: f.cache, errTimeout: errors.New("redis: i/o timeout")}
	logger := discardLogger()
	bidding := NewBiddingService(f.auctions, f.ledger, cache, f.users, f.clock, logger)
	poll := NewPollService(f.auctions, f.ledger, cache, f.users, f.clock, logger)

	first, err := bidding.PlaceBid(ctx, id, "alice", 1100)
	if err != nil {
		t.Fatal(err)
	}
	since := first.Bid.BidTime
	if res, err := poll.Poll(ctx, id, &since); err != nil || !res.Cached {
		t.Fatalf("poll after first bid = %+v, %v; want cached", res, err)
	}

	cache.set(true, false)
	f.clock.Advance(time.Second)
	second, err := bidding.PlaceBid(ctx, id, "bob", 1200)
	if err != nil {
		t.Fatalf("cache failure leaked into PlaceBid: %v", err)
	}
	if len(cache.forgotten) != 1 || cache.forgotten[0] != id {
		t.Fatalf("forgotten = %v, want [%s]", cache.forgotten, id)
	}

	for i := 0; i < 2; i++ {
		res, err := poll.Poll(ctx, id, &since)
		if err != nil {
			t.Fatal(err)
		}
		if res.Cached || !res.HasNewBids || len(res.NewBids) != 1 || res.NewBids[0].ID != second.Bid.ID {
			t.Fatalf("poll %d after failed advance = %+v, want bid %s", i, res, second.Bid.ID)
		}
	}

	// With the cache entirely unreachable the poll reads the store.
	cache.set(false, true)
	f.clock.Advance(time.Second)
	third, err := bidding.PlaceBid(ctx, id, "alice", 1300)
	if err != nil {
		t.Fatal(err)
	}
	since = second.Bid.BidTime
	res, err := poll.Poll(ctx, id, &since)
	if err != nil {
		t.Fatal(err)
	}
	if res.Cached || len(res.NewBids) != 1 || res.NewBids[0].ID != third.Bid.ID {
		t.Fatalf("poll with cache down = %+v", res)
	}
}
