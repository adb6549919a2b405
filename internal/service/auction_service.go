package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// AuctionService handles the auction lifecycle outside bidding: creation by
// publishers, moderation by admins and listing.
type AuctionService struct {
	auctions domain.AuctionStore
	audit    domain.AuditStore
	clock    domain.Clock
	logger   *slog.Logger
}

// NewAuctionService creates an AuctionService.
func NewAuctionService(auctions domain.AuctionStore, audit domain.AuditStore, clock domain.Clock, logger *slog.Logger) *AuctionService {
	return &AuctionService{
		auctions: auctions,
		audit:    audit,
		clock:    clock,
		logger:   logger.With(slog.String("component", "auctions")),
	}
}

// Create stores a new pending auction owned by the caller.
func (s *AuctionService) Create(ctx context.Context, caller domain.Identity, a domain.Auction) (domain.Auction, error) {
	if caller.Role != domain.RolePublisher && caller.Role != domain.RoleAdmin {
		return domain.Auction{}, fmt.Errorf("auctions: role %s cannot create auctions: %w", caller.Role, domain.ErrForbidden)
	}
	if err := a.Validate(); err != nil {
		return domain.Auction{}, err
	}

	now := s.clock.Now()
	a.ID = uuid.New().String()
	a.PublisherID = caller.UserID
	a.Status = domain.StatusPending
	a.CurrentPrice = 0
	a.BidCount = 0
	a.LastBidTime = nil
	a.RejectionReason = ""
	a.ReviewerID = ""
	a.ReviewedAt = nil
	a.ArchivedAt = nil
	a.AuctionStart = a.AuctionStart.UTC()
	a.AuctionEnd = a.AuctionEnd.UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	if err := s.auctions.Create(ctx, a); err != nil {
		return domain.Auction{}, fmt.Errorf("auctions: create: %w", err)
	}
	s.logger.InfoContext(ctx, "auctions: created",
		slog.String("auction_id", a.ID),
		slog.String("publisher_id", a.PublisherID),
	)
	s.record(ctx, domain.EventAuctionCreated, map[string]any{
		"auction_id":   a.ID,
		"publisher_id": a.PublisherID,
		"base_price":   a.BasePrice,
	})
	return a, nil
}

// Get returns the auction when caller may see it. Auctions that have not
// been approved exist only for admins and their publisher.
func (s *AuctionService) Get(ctx context.Context, caller domain.Identity, id string) (domain.Auction, error) {
	a, err := s.auctions.GetByID(ctx, id)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auctions: get: %w", err)
	}
	if !a.Approved() && caller.Role != domain.RoleAdmin && caller.UserID != a.PublisherID {
		return domain.Auction{}, fmt.Errorf("auctions: %s is %s: %w", id, a.Status, domain.ErrNotFound)
	}
	return a, nil
}

// List returns approved auctions in phase, classified against a single
// reading of the clock. A nil phase lists every approved auction.
func (s *AuctionService) List(ctx context.Context, phase *domain.Phase, opts domain.ListOpts) ([]domain.Auction, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	approved := domain.StatusApproved
	out, err := s.auctions.List(ctx, domain.AuctionFilter{
		Status:   &approved,
		Phase:    phase,
		Now:      s.clock.Now(),
		ListOpts: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("auctions: list: %w", err)
	}
	return out, nil
}

// Pending lists auctions awaiting moderation, newest first.
func (s *AuctionService) Pending(ctx context.Context, caller domain.Identity, opts domain.ListOpts) ([]domain.Auction, error) {
	if caller.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("auctions: moderation queue: %w", domain.ErrForbidden)
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	pending := domain.StatusPending
	out, err := s.auctions.List(ctx, domain.AuctionFilter{Status: &pending, Now: s.clock.Now(), ListOpts: opts})
	if err != nil {
		return nil, fmt.Errorf("auctions: list pending: %w", err)
	}
	return out, nil
}

// Approve moves a pending auction to approved.
func (s *AuctionService) Approve(ctx context.Context, caller domain.Identity, id string) (domain.Auction, error) {
	return s.decide(ctx, caller, id, domain.Approve(caller.UserID, s.clock.Now()))
}

// Reject moves a pending auction to rejected with reason.
func (s *AuctionService) Reject(ctx context.Context, caller domain.Identity, id, reason string) (domain.Auction, error) {
	return s.decide(ctx, caller, id, domain.Reject(caller.UserID, reason, s.clock.Now()))
}

func (s *AuctionService) decide(ctx context.Context, caller domain.Identity, id string, d domain.ModerationDecision) (domain.Auction, error) {
	if caller.Role != domain.RoleAdmin {
		return domain.Auction{}, fmt.Errorf("auctions: moderate %s: %w", id, domain.ErrForbidden)
	}
	if err := d.Validate(); err != nil {
		return domain.Auction{}, err
	}
	a, err := s.auctions.Moderate(ctx, id, d)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auctions: moderate %s: %w", id, err)
	}

	event := domain.EventAuctionApproved
	if d.Status == domain.StatusRejected {
		event = domain.EventAuctionRejected
	}
	s.logger.InfoContext(ctx, "auctions: "+string(d.Status),
		slog.String("auction_id", id),
		slog.String("reviewer_id", d.ReviewerID),
	)
	s.record(ctx, event, map[string]any{
		"auction_id":  id,
		"reviewer_id": d.ReviewerID,
		"reason":      d.Reason,
	})
	return a, nil
}

// record writes an audit entry. The decision is already durable, so a
// failed audit write is logged only.
func (s *AuctionService) record(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.ErrorContext(ctx, "auctions: audit log",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
