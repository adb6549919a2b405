package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// AuctionFilter selects auctions for listings. A nil Status matches every
// moderation state; Phase is evaluated against Now.
type AuctionFilter struct {
	Status      *ModerationStatus
	Phase       *Phase
	PublisherID string
	Now         time.Time
	ListOpts
}

// AuctionStore persists auction records and moderation state.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)
	List(ctx context.Context, filter AuctionFilter) ([]Auction, error)
	// Moderate applies d only when the auction is still pending; otherwise it
	// returns ErrInvalidTransition.
	Moderate(ctx context.Context, id string, d ModerationDecision) (Auction, error)
	ListArchivable(ctx context.Context, endedBefore time.Time, limit int) ([]Auction, error)
	MarkArchived(ctx context.Context, id string, at time.Time) error
}

// BidLedger is the append-only bid history of every auction.
type BidLedger interface {
	// Append commits b and moves the auction's current price to b.Amount in
	// one atomic unit. It returns ErrConflict when the stored current price
	// no longer equals expectedPrice or the auction is no longer approved.
	Append(ctx context.Context, b Bid, expectedPrice int64) error
	// Since returns bids with BidTime strictly after since, oldest first.
	Since(ctx context.Context, auctionID string, since time.Time) ([]Bid, error)
	// Recent returns up to n bids, newest first.
	Recent(ctx context.Context, auctionID string, n int) ([]Bid, error)
	// All returns the full ledger, oldest first.
	All(ctx context.Context, auctionID string) ([]Bid, error)
}

// CatalogStore yields display metadata for an auctioned book.
type CatalogStore interface {
	Catalog(ctx context.Context, auctionID string) (CatalogEntry, error)
}

// UserDirectory resolves bidder ids to display names. Unknown ids are absent
// from the result.
type UserDirectory interface {
	DisplayNames(ctx context.Context, ids []string) (map[string]string, error)
}

// IdentityProvider turns request credentials into a caller identity.
type IdentityProvider interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// UserStore manages directory entries.
type UserStore interface {
	UserDirectory
	IdentityProvider
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
}

// AuditEntry is a recorded moderation or archive event.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only log of operator-visible events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
