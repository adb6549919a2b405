package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/alanyoungcy/bookauction/internal/cache/local"
	"github.com/alanyoungcy/bookauction/internal/domain"
	"github.com/alanyoungcy/bookauction/internal/store/sqlite"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	db       *sqlx.DB
	auctions *sqlite.AuctionStore
	ledger   *sqlite.BidLedger
	users    *sqlite.UserStore
	audit    *sqlite.AuditStore
	cache    *local.BidTimeCache
	clock    *fakeClock
	bidding  *BiddingService
	poll     *PollService
	admin    *AuctionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		db:       db,
		auctions: sqlite.NewAuctionStore(db),
		ledger:   sqlite.NewBidLedger(db),
		users:    sqlite.NewUserStore(db),
		audit:    sqlite.NewAuditStore(db),
		cache:    local.NewBidTimeCache(),
		clock:    &fakeClock{now: t0},
	}
	logger := discardLogger()
	f.bidding = NewBiddingService(f.auctions, f.ledger, f.cache, f.users, f.clock, logger)
	f.poll = NewPollService(f.auctions, f.ledger, f.cache, f.users, f.clock, logger)
	f.admin = NewAuctionService(f.auctions, f.audit, f.clock, logger)

	for _, u := range []domain.User{
		{ID: "alice", DisplayName: "Alice", Role: domain.RoleBuyer, TokenHash: []byte("-"), CreatedAt: t0},
		{ID: "bob", DisplayName: "Bob", Role: domain.RoleBuyer, TokenHash: []byte("-"), CreatedAt: t0},
	} {
		if err := f.users.CreateUser(context.Background(), u); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

// auction creates an approved auction with base price 1000 open on
// [start, end].
func (f *fixture) auction(t *testing.T, start, end time.Time) string {
	t.Helper()
	ctx := context.Background()
	publisher := domain.Identity{UserID: "pub-1", Role: domain.RolePublisher}
	a, err := f.admin.Create(ctx, publisher, domain.Auction{
		Title:        "First Folio facsimile",
		Author:       "William Shakespeare",
		Condition:    domain.ConditionVeryGood,
		BasePrice:    1000,
		AuctionStart: start,
		AuctionEnd:   end,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.admin.Approve(ctx, domain.Identity{UserID: "admin-1", Role: domain.RoleAdmin}, a.ID); err != nil {
		t.Fatal(err)
	}
	return a.ID
}

func (f *fixture) activeAuction(t *testing.T) string {
	return f.auction(t, t0.Add(-time.Hour), t0.Add(time.Hour))
}

func (f *fixture) ledgerOf(t *testing.T, id string) []domain.Bid {
	t.Helper()
	bids, err := f.ledger.All(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return bids
}
