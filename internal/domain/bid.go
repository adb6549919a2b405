package domain

import (
	"sort"
	"time"
)

// BidTimePrecision is the resolution at which bid times are assigned and
// stored. Clients echo bid times back as poll checkpoints, so every layer
// must agree on it.
const BidTimePrecision = time.Microsecond

// Bid is one accepted offer in an auction's ledger.
type Bid struct {
	ID        string
	AuctionID string
	BidderID  string
	Amount    int64
	BidTime   time.Time
}

// Bidder identifies who placed a bid, for display.
type Bidder struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// BidView is a bid enriched with its bidder's display name.
type BidView struct {
	ID        string    `json:"id"`
	Bidder    Bidder    `json:"bidder"`
	BidAmount int64     `json:"bidAmount"`
	BidTime   time.Time `json:"bidTime"`
}

// NextBidTime assigns the commit time for a new bid: the server clock, but
// never at or before the previous bid, so times in one ledger strictly
// increase.
func NextBidTime(now time.Time, last *time.Time) time.Time {
	t := now.UTC().Truncate(BidTimePrecision)
	if last != nil {
		floor := last.UTC().Truncate(BidTimePrecision).Add(BidTimePrecision)
		if t.Before(floor) {
			t = floor
		}
	}
	return t
}

// BidsAfter returns the bids strictly after since, oldest first. The input
// may be in any order.
func BidsAfter(ledger []Bid, since time.Time) []Bid {
	out := make([]Bid, 0)
	for _, b := range ledger {
		if b.BidTime.After(since) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BidTime.Before(out[j].BidTime) })
	return out
}

// LatestBids returns up to n of the most recent bids, newest first.
func LatestBids(ledger []Bid, n int) []Bid {
	sorted := make([]Bid, len(ledger))
	copy(sorted, ledger)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BidTime.After(sorted[j].BidTime) })
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// MaxBidTime returns the latest bid time in bids and false when bids is empty.
func MaxBidTime(bids []Bid) (time.Time, bool) {
	var max time.Time
	for _, b := range bids {
		if b.BidTime.After(max) {
			max = b.BidTime
		}
	}
	return max, len(bids) > 0
}

// VerifyLedger checks the ledger invariants against base: amounts strictly
// increase, the first exceeds base, and times never go backwards. It returns
// the index of the first offending bid, or -1.
func VerifyLedger(base int64, ledger []Bid) int {
	prevAmount := base
	var prevTime time.Time
	for i, b := range ledger {
		if b.Amount <= prevAmount {
			return i
		}
		if i > 0 && b.BidTime.Before(prevTime) {
			return i
		}
		prevAmount = b.Amount
		prevTime = b.BidTime
	}
	return -1
}
