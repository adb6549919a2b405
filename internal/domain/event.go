package domain

import "time"

// BidEvent announces a committed bid to other replicas and subscribers.
type BidEvent struct {
	AuctionID    string    `json:"auctionId"`
	BidID        string    `json:"bidId"`
	BidderID     string    `json:"bidderId"`
	Amount       int64     `json:"bidAmount"`
	BidTime      time.Time `json:"bidTime"`
	CurrentPrice int64     `json:"currentPrice"`
	Origin       string    `json:"origin"`
}

// NewBidEvent describes bid b as committed by the replica named origin.
func NewBidEvent(b Bid, origin string) BidEvent {
	return BidEvent{
		AuctionID:    b.AuctionID,
		BidID:        b.ID,
		BidderID:     b.BidderID,
		Amount:       b.Amount,
		BidTime:      b.BidTime,
		CurrentPrice: b.Amount,
		Origin:       origin,
	}
}

// PollResult is the answer to one delta-sync poll. CurrentPrice is nil on
// the cached path.
type PollResult struct {
	CurrentPrice *int64
	NewBids      []BidView
	HasNewBids   bool
	Cached       bool
	Timestamp    time.Time
}

// BidReceipt is what a bidder gets back for an accepted bid.
type BidReceipt struct {
	CurrentPrice int64
	Bid          BidView
}

// Audit event names for the auction lifecycle.
const (
	EventAuctionCreated  = "auction_created"
	EventAuctionApproved = "auction_approved"
	EventAuctionRejected = "auction_rejected"
	EventAuctionArchived = "auction_archived"
)
