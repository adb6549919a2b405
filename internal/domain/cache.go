package domain

import (
	"context"
	"time"
)

// BidTimeCache remembers the latest bid time observed per auction. It is an
// optimisation only: losing entries costs a store read, never correctness.
type BidTimeCache interface {
	// LastBidTime returns the latest time seen for the auction and false when
	// nothing is cached.
	LastBidTime(ctx context.Context, auctionID string) (time.Time, bool, error)
	// Advance records t when it is later than the cached value.
	Advance(ctx context.Context, auctionID string, t time.Time) error
	// Forget drops the entries so the next poll reads the store.
	Forget(ctx context.Context, auctionIDs ...string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// BidPublisher fans committed bids out to other processes.
type BidPublisher interface {
	PublishBid(ctx context.Context, ev BidEvent) error
}

// BidSubscriber delivers bid events committed anywhere in the deployment.
type BidSubscriber interface {
	SubscribeBids(ctx context.Context) (<-chan BidEvent, error)
}
