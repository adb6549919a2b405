package service

import (
	"context"
	"sync"
)

// auctionLocks serialises work per auction id inside one process. Entries
// are reference counted and removed when the last holder or waiter leaves,
// so the map only holds auctions with bids in flight.
type auctionLocks struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newAuctionLocks() *auctionLocks {
	return &auctionLocks{slots: make(map[string]*lockSlot)}
}

// acquire blocks until the lock for id is held or ctx is done.
func (l *auctionLocks) acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[id]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[id] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.leave(id, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.leave(id, slot)
		})
	}, nil
}

func (l *auctionLocks) leave(id string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, id)
	}
}

// size reports how many auctions currently have holders or waiters.
func (l *auctionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
