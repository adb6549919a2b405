// Package local holds process-local caches.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

// BidTimeCache is the in-process delta sync cache: auction id to the latest
// bid time this replica has observed. It is safe for concurrent use and
// entries only ever move forward.
type BidTimeCache struct {
	seen map[string]time.Time // auctionID -> latest bid time
	mu   sync.RWMutex
}

// NewBidTimeCache creates an empty cache.
func NewBidTimeCache() *BidTimeCache {
	return &BidTimeCache{seen: make(map[string]time.Time)}
}

// LastBidTime returns the cached time for auctionID. It never fails.
func (c *BidTimeCache) LastBidTime(_ context.Context, auctionID string) (time.Time, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.seen[auctionID]
	return t, ok, nil
}

// Advance records t for auctionID unless a later time is already cached.
func (c *BidTimeCache) Advance(_ context.Context, auctionID string, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.seen[auctionID]; ok && !t.After(cur) {
		return nil
	}
	c.seen[auctionID] = t.UTC()
	return nil
}

// Forget drops entries for the given auctions. It never fails.
func (c *BidTimeCache) Forget(_ context.Context, auctionIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range auctionIDs {
		delete(c.seen, id)
	}
	return nil
}

// Len returns the number of cached auctions.
func (c *BidTimeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

var _ domain.BidTimeCache = (*BidTimeCache)(nil)
