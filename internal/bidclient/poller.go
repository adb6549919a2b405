package bidclient

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

// DefaultReevaluateEvery is how often the poller re-checks the time left
// and switches to a different interval when a threshold was crossed.
const DefaultReevaluateEvery = 60 * time.Second

// ErrBidInFlight is returned by SubmitBid while another submission runs.
var ErrBidInFlight = errors.New("bidclient: a bid is already being submitted")

// IntervalFor picks the poll interval for the time left until the auction
// ends. Zero means the auction is over and polling stops.
func IntervalFor(remaining time.Duration) time.Duration {
	switch {
	case remaining <= 0:
		return 0
	case remaining <= time.Minute:
		return 500 * time.Millisecond
	case remaining <= 10*time.Minute:
		return time.Second
	case remaining <= 30*time.Minute:
		return 10 * time.Second
	default:
		return 30 * time.Second
	}
}

// API is the part of the auction API the poller drives.
type API interface {
	Poll(ctx context.Context, auctionID string, since *time.Time) (PollResponse, error)
	PlaceBid(ctx context.Context, auctionID string, amount int64) (BidResponse, error)
}

// EventKind tells observers what changed.
type EventKind int

const (
	EventBids EventKind = iota
	EventPrice
	EventInterval
	EventSync
	EventBid
	EventEnded
)

// Event is delivered to the observer on every visible state change.
type Event struct {
	Kind         EventKind
	NewBids      []domain.BidView
	CurrentPrice int64
	Interval     time.Duration
	Err          error
}

// Poller keeps a local copy of one auction's price and bid history fresh.
// Polls run more often as the end approaches and are skipped while a bid
// submission is in flight.
type Poller struct {
	api        API
	auctionID  string
	end        time.Time
	clock      domain.Clock
	reevaluate time.Duration
	observe    func(Event)
	logger     *slog.Logger

	submitting atomic.Bool

	mu       sync.Mutex
	price    int64
	history  []domain.BidView
	seen     map[string]bool
	since    *time.Time
	interval time.Duration
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithObserver registers fn to receive every Event. fn is called from Run
// and from SubmitBid and Sync callers, so it must be safe for concurrent use
// and must not block.
func WithObserver(fn func(Event)) PollerOption {
	return func(p *Poller) { p.observe = fn }
}

// WithReevaluateEvery overrides DefaultReevaluateEvery.
func WithReevaluateEvery(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.reevaluate = d
		}
	}
}

// WithClock overrides the wall clock used to compute the time left.
func WithClock(c domain.Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

// NewPoller creates a Poller for the auction ending at end. price seeds the
// displayed price until the first poll answers.
func NewPoller(api API, auctionID string, end time.Time, price int64, logger *slog.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		api:        api,
		auctionID:  auctionID,
		end:        end,
		clock:      domain.SystemClock{},
		reevaluate: DefaultReevaluateEvery,
		observe:    func(Event) {},
		logger:     logger.With(slog.String("component", "poller"), slog.String("auction_id", auctionID)),
		price:      price,
		seen:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until the auction ends or ctx is cancelled. It returns nil when
// the auction ended.
func (p *Poller) Run(ctx context.Context) error {
	interval := IntervalFor(p.end.Sub(p.clock.Now()))
	if interval == 0 {
		_, _ = p.poll(ctx)
		p.observe(Event{Kind: EventEnded, CurrentPrice: p.CurrentPrice()})
		return nil
	}
	p.setInterval(interval)

	if _, err := p.poll(ctx); err != nil {
		p.logger.Warn("poller: initial poll failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	reeval := time.NewTicker(p.reevaluate)
	defer reeval.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if IntervalFor(p.end.Sub(p.clock.Now())) == 0 {
				return p.finish(ctx)
			}
			if p.submitting.Load() {
				p.logger.Debug("poller: skipping poll during bid submission")
				continue
			}
			if _, err := p.poll(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("poller: poll failed", slog.String("error", err.Error()))
			}

		case <-reeval.C:
			next := IntervalFor(p.end.Sub(p.clock.Now()))
			if next == 0 {
				return p.finish(ctx)
			}
			if next != interval {
				interval = next
				ticker.Reset(interval)
				p.setInterval(interval)
			}
		}
	}
}

// finish takes one last look so bids placed in the final moments show up.
func (p *Poller) finish(ctx context.Context) error {
	if _, err := p.poll(ctx); err != nil {
		p.logger.Warn("poller: final poll failed", slog.String("error", err.Error()))
	}
	p.observe(Event{Kind: EventEnded, CurrentPrice: p.CurrentPrice()})
	return nil
}

// Sync polls immediately on request. A poll that finds nothing new still
// counts as a successful sync.
func (p *Poller) Sync(ctx context.Context) (PollResponse, error) {
	resp, err := p.poll(ctx)
	p.observe(Event{Kind: EventSync, CurrentPrice: p.CurrentPrice(), Err: err})
	return resp, err
}

// SubmitBid places amount. Scheduled polls are suppressed until it returns,
// whether it succeeds or fails.
func (p *Poller) SubmitBid(ctx context.Context, amount int64) (BidResponse, error) {
	if !p.submitting.CompareAndSwap(false, true) {
		return BidResponse{}, ErrBidInFlight
	}
	defer p.submitting.Store(false)

	resp, err := p.api.PlaceBid(ctx, p.auctionID, amount)
	if err != nil {
		p.observe(Event{Kind: EventBid, CurrentPrice: p.CurrentPrice(), Err: err})
		return BidResponse{}, err
	}

	// The poll checkpoint is left alone: bids committed just before ours
	// must still arrive with the next poll.
	p.mu.Lock()
	added := p.merge([]domain.BidView{resp.NewBid})
	if resp.CurrentPrice > p.price {
		p.price = resp.CurrentPrice
	}
	price := p.price
	p.mu.Unlock()

	p.observe(Event{Kind: EventBid, NewBids: added, CurrentPrice: price})
	return resp, nil
}

// Submitting reports whether a bid submission is in flight.
func (p *Poller) Submitting() bool { return p.submitting.Load() }

// CurrentPrice returns the last price seen.
func (p *Poller) CurrentPrice() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.price
}

// History returns the known bids, newest first.
func (p *Poller) History() []domain.BidView {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.BidView, len(p.history))
	copy(out, p.history)
	return out
}

// Interval returns the current poll interval.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *Poller) setInterval(d time.Duration) {
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()
	p.logger.Info("poller: interval changed", slog.Duration("interval", d))
	p.observe(Event{Kind: EventInterval, Interval: d})
}

func (p *Poller) poll(ctx context.Context) (PollResponse, error) {
	p.mu.Lock()
	since := p.since
	p.mu.Unlock()

	resp, err := p.api.Poll(ctx, p.auctionID, since)
	if err != nil {
		return PollResponse{}, err
	}
	if resp.Cached {
		return resp, nil
	}

	p.mu.Lock()
	var added []domain.BidView
	if resp.HasNewBids {
		added = p.merge(resp.NewBids)
		for _, b := range resp.NewBids {
			if p.since == nil || b.BidTime.After(*p.since) {
				t := b.BidTime
				p.since = &t
			}
		}
	}
	priceChanged := false
	if resp.CurrentPrice != nil && *resp.CurrentPrice != p.price {
		p.price = *resp.CurrentPrice
		priceChanged = true
	}
	price := p.price
	p.mu.Unlock()

	if len(added) > 0 {
		p.observe(Event{Kind: EventBids, NewBids: added, CurrentPrice: price})
	} else if priceChanged {
		p.observe(Event{Kind: EventPrice, CurrentPrice: price})
	}
	return resp, nil
}

// merge prepends bids not seen before and keeps the history newest first.
// It returns the new bids, newest first. Callers hold p.mu.
func (p *Poller) merge(bids []domain.BidView) []domain.BidView {
	var fresh []domain.BidView
	for _, b := range bids {
		if p.seen[b.ID] {
			continue
		}
		p.seen[b.ID] = true
		fresh = append(fresh, b)
	}
	if len(fresh) == 0 {
		return nil
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].BidTime.After(fresh[j].BidTime) })
	p.history = append(append(make([]domain.BidView, 0, len(fresh)+len(p.history)), fresh...), p.history...)
	// An own bid can land before a poll delivers earlier bids by others.
	sort.SliceStable(p.history, func(i, j int) bool { return p.history[i].BidTime.After(p.history[j].BidTime) })
	return fresh
}
