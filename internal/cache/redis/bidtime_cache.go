package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/advance_bid_time.lua
var advanceBidTimeLua string

const bidTimeHash = "auction:last_bid_time"

// BidTimeCache is the delta sync cache shared by every replica. Values are
// unix microseconds in a single hash so one HGET answers a poll.
type BidTimeCache struct {
	rdb     *redis.Client
	hash    string
	advance *redis.Script
}

// NewBidTimeCache creates a BidTimeCache backed by the given Client.
func NewBidTimeCache(c *Client) *BidTimeCache {
	return &BidTimeCache{
		rdb:     c.Underlying(),
		hash:    c.key(bidTimeHash),
		advance: redis.NewScript(advanceBidTimeLua),
	}
}

// LastBidTime returns the shared cached bid time for auctionID.
func (c *BidTimeCache) LastBidTime(ctx context.Context, auctionID string) (time.Time, bool, error) {
	micros, err := c.rdb.HGet(ctx, c.hash, auctionID).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: get last bid time %s: %w", auctionID, err)
	}
	return time.UnixMicro(micros).UTC(), true, nil
}

// Advance moves the cached value forward to t atomically.
func (c *BidTimeCache) Advance(ctx context.Context, auctionID string, t time.Time) error {
	err := c.advance.Run(ctx, c.rdb, []string{c.hash}, auctionID, t.UnixMicro()).Err()
	if err != nil {
		return fmt.Errorf("redis: advance last bid time %s: %w", auctionID, err)
	}
	return nil
}

// Forget removes the entries for auctionIDs.
func (c *BidTimeCache) Forget(ctx context.Context, auctionIDs ...string) error {
	if len(auctionIDs) == 0 {
		return nil
	}
	if err := c.rdb.HDel(ctx, c.hash, auctionIDs...).Err(); err != nil {
		return fmt.Errorf("redis: forget last bid times: %w", err)
	}
	return nil
}

var _ domain.BidTimeCache = (*BidTimeCache)(nil)
