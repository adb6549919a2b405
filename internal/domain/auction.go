package domain

import (
	"fmt"
	"strings"
	"time"
)

// ModerationStatus gates whether an auction is visible and biddable.
type ModerationStatus string

const (
	StatusPending  ModerationStatus = "pending"
	StatusApproved ModerationStatus = "approved"
	StatusRejected ModerationStatus = "rejected"
)

// Condition grades the physical state of a listed book.
type Condition string

const (
	ConditionNew      Condition = "new"
	ConditionLikeNew  Condition = "like_new"
	ConditionVeryGood Condition = "very_good"
	ConditionGood     Condition = "good"
	ConditionFair     Condition = "fair"
	ConditionPoor     Condition = "poor"
)

var validConditions = map[Condition]bool{
	ConditionNew:      true,
	ConditionLikeNew:  true,
	ConditionVeryGood: true,
	ConditionGood:     true,
	ConditionFair:     true,
	ConditionPoor:     true,
}

// Valid reports whether c is one of the known grades.
func (c Condition) Valid() bool { return validConditions[c] }

// Auction is one antique book listed for bidding. CurrentPrice is 0 until
// the first bid is accepted and afterwards equals the last accepted amount.
type Auction struct {
	ID          string
	PublisherID string

	Title       string
	Author      string
	Description string
	Genre       string
	Condition   Condition
	ImageURLs   []string

	BasePrice    int64
	CurrentPrice int64
	BidCount     int
	LastBidTime  *time.Time

	AuctionStart time.Time
	AuctionEnd   time.Time

	Status          ModerationStatus
	RejectionReason string
	ReviewerID      string
	ReviewedAt      *time.Time

	ArchivedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Phase classifies the auction at now.
func (a Auction) Phase(now time.Time) Phase {
	return PhaseAt(now, a.AuctionStart, a.AuctionEnd)
}

// MinimumExclusive is the value the next bid must strictly exceed.
func (a Auction) MinimumExclusive() int64 {
	if a.CurrentPrice > a.BasePrice {
		return a.CurrentPrice
	}
	return a.BasePrice
}

// FinalPrice is the last accepted amount, or the base price when nobody bid.
func (a Auction) FinalPrice() int64 {
	if a.CurrentPrice == 0 {
		return a.BasePrice
	}
	return a.CurrentPrice
}

// Approved reports whether the auction passed moderation.
func (a Auction) Approved() bool { return a.Status == StatusApproved }

// Validate checks the fields a publisher supplies at creation.
func (a Auction) Validate() error {
	var problems []string
	if strings.TrimSpace(a.Title) == "" {
		problems = append(problems, "title is required")
	}
	if a.BasePrice <= 0 {
		problems = append(problems, "basePrice must be positive")
	}
	if a.AuctionStart.IsZero() || a.AuctionEnd.IsZero() {
		problems = append(problems, "auctionStart and auctionEnd are required")
	} else if !a.AuctionEnd.After(a.AuctionStart) {
		problems = append(problems, "auctionEnd must be after auctionStart")
	}
	if a.Condition != "" && !a.Condition.Valid() {
		problems = append(problems, fmt.Sprintf("unknown condition %q", a.Condition))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

// CatalogEntry is the display metadata for an auctioned book.
type CatalogEntry struct {
	AuctionID   string
	Title       string
	Author      string
	Description string
	Genre       string
	Condition   Condition
	ImageURLs   []string
}

// Catalog extracts the catalog fields of a.
func (a Auction) Catalog() CatalogEntry {
	return CatalogEntry{
		AuctionID:   a.ID,
		Title:       a.Title,
		Author:      a.Author,
		Description: a.Description,
		Genre:       a.Genre,
		Condition:   a.Condition,
		ImageURLs:   a.ImageURLs,
	}
}
