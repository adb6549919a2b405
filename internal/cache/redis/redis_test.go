package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
	"github.com/alicebob/miniredis/v2"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr(), PoolSize: 4, KeyPrefix: "test"})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestBidTimeCacheSharedAndMonotonic(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	replicaA := NewBidTimeCache(c)
	replicaB := NewBidTimeCache(c)

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 123456000, time.UTC)
	if _, ok, err := replicaA.LastBidTime(ctx, "a1"); ok || err != nil {
		t.Fatalf("empty cache = %v, %v", ok, err)
	}

	if err := replicaA.Advance(ctx, "a1", t0); err != nil {
		t.Fatalf("Advance() = %v", err)
	}
	if err := replicaB.Advance(ctx, "a1", t0.Add(-time.Second)); err != nil {
		t.Fatalf("Advance(older) = %v", err)
	}

	got, ok, err := replicaB.LastBidTime(ctx, "a1")
	if err != nil || !ok {
		t.Fatalf("LastBidTime() = %v, %v, %v", got, ok, err)
	}
	if !got.Equal(t0) {
		t.Fatalf("LastBidTime() = %v, want %v", got, t0)
	}

	if err := replicaA.Forget(ctx, "a1"); err != nil {
		t.Fatalf("Forget() = %v", err)
	}
	if _, ok, _ := replicaB.LastBidTime(ctx, "a1"); ok {
		t.Fatal("entry survived Forget")
	}
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager(newTestClient(t))

	unlock, err := lm.TryAcquire(ctx, "auction:a1", time.Second)
	if err != nil {
		t.Fatalf("first TryAcquire() = %v", err)
	}
	if _, err := lm.TryAcquire(ctx, "auction:a1", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second TryAcquire() = %v, want ErrLockHeld", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := lm.Acquire(waitCtx, "auction:a1", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("Acquire() while held = %v, want ErrLockHeld", err)
	}

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "auction:a1", time.Second)
	if err != nil {
		t.Fatalf("Acquire() after unlock = %v", err)
	}
	unlock2()
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(newTestClient(t))
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		now = now.Add(time.Millisecond)
		ok, err := rl.Allow(ctx, "bid:u1", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d: Allow() = %v, %v", i, ok, err)
		}
	}
	now = now.Add(time.Millisecond)
	if ok, _ := rl.Allow(ctx, "bid:u1", 3, time.Minute); ok {
		t.Fatal("fourth request inside the window was allowed")
	}
	if ok, _ := rl.Allow(ctx, "bid:u2", 3, time.Minute); !ok {
		t.Fatal("limit leaked across keys")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := rl.Allow(ctx, "bid:u1", 3, time.Minute); !ok {
		t.Fatal("request after the window was rejected")
	}
}

func TestSignalBusRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewSignalBus(newTestClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	events, err := bus.SubscribeBids(ctx)
	if err != nil {
		t.Fatalf("SubscribeBids() = %v", err)
	}

	want := domain.BidEvent{
		AuctionID:    "a1",
		BidID:        "b1",
		BidderID:     "u1",
		Amount:       1500,
		BidTime:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		CurrentPrice: 1500,
		Origin:       "replica-1",
	}
	if err := bus.PublishBid(ctx, want); err != nil {
		t.Fatalf("PublishBid() = %v", err)
	}

	select {
	case got := <-events:
		if got.AuctionID != want.AuctionID || got.Amount != want.Amount || !got.BidTime.Equal(want.BidTime) || got.Origin != want.Origin {
			t.Fatalf("received %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bid event not delivered")
	}

	cancel()
	for range events {
	}
}
