package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

// AuctionService is what the auction handler needs from the service layer.
type AuctionService interface {
	Create(ctx context.Context, caller domain.Identity, a domain.Auction) (domain.Auction, error)
	Get(ctx context.Context, caller domain.Identity, id string) (domain.Auction, error)
	List(ctx context.Context, phase *domain.Phase, opts domain.ListOpts) ([]domain.Auction, error)
	Pending(ctx context.Context, caller domain.Identity, opts domain.ListOpts) ([]domain.Auction, error)
	Approve(ctx context.Context, caller domain.Identity, id string) (domain.Auction, error)
	Reject(ctx context.Context, caller domain.Identity, id, reason string) (domain.Auction, error)
}

// AuctionHandler serves auction listing, detail, creation and moderation.
type AuctionHandler struct {
	auctions AuctionService
	catalog  domain.CatalogStore
	clock    domain.Clock
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctions AuctionService, catalog domain.CatalogStore, clock domain.Clock, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{auctions: auctions, catalog: catalog, clock: clock, logger: logger}
}

type bookJSON struct {
	Title       string           `json:"title"`
	Author      string           `json:"author,omitempty"`
	Description string           `json:"description,omitempty"`
	Genre       string           `json:"genre,omitempty"`
	Condition   domain.Condition `json:"condition,omitempty"`
	ImageURLs   []string         `json:"imageUrls"`
}

type auctionJSON struct {
	ID               string                  `json:"id"`
	PublisherID      string                  `json:"publisherId"`
	Book             bookJSON                `json:"book"`
	BasePrice        int64                   `json:"basePrice"`
	CurrentPrice     int64                   `json:"currentPrice"`
	MinimumExclusive int64                   `json:"minimumExclusive"`
	BidCount         int                     `json:"bidCount"`
	LastBidTime      *time.Time              `json:"lastBidTime,omitempty"`
	AuctionStart     time.Time               `json:"auctionStart"`
	AuctionEnd       time.Time               `json:"auctionEnd"`
	Phase            string                  `json:"phase"`
	Status           domain.ModerationStatus `json:"status"`
	RejectionReason  string                  `json:"rejectionReason,omitempty"`
}

func toBookJSON(c domain.CatalogEntry) bookJSON {
	images := c.ImageURLs
	if images == nil {
		images = []string{}
	}
	return bookJSON{
		Title:       c.Title,
		Author:      c.Author,
		Description: c.Description,
		Genre:       c.Genre,
		Condition:   c.Condition,
		ImageURLs:   images,
	}
}

func toAuctionJSON(a domain.Auction, now time.Time) auctionJSON {
	return auctionJSON{
		ID:               a.ID,
		PublisherID:      a.PublisherID,
		Book:             toBookJSON(a.Catalog()),
		BasePrice:        a.BasePrice,
		CurrentPrice:     a.CurrentPrice,
		MinimumExclusive: a.MinimumExclusive(),
		BidCount:         a.BidCount,
		LastBidTime:      a.LastBidTime,
		AuctionStart:     a.AuctionStart,
		AuctionEnd:       a.AuctionEnd,
		Phase:            a.Phase(now).String(),
		Status:           a.Status,
		RejectionReason:  a.RejectionReason,
	}
}

// listPhases maps the listing query vocabulary onto clock phases.
var listPhases = map[string]domain.Phase{
	"ongoing": domain.PhaseActive,
	"future":  domain.PhaseUpcoming,
	"ended":   domain.PhaseEnded,
}

// List returns approved auctions, optionally in one phase.
// GET /api/auctions?phase=ongoing|future|ended&limit=&offset=
func (h *AuctionHandler) List(w http.ResponseWriter, r *http.Request) {
	var phase *domain.Phase
	if q := r.URL.Query().Get("phase"); q != "" {
		p, ok := listPhases[q]
		if !ok {
			writeFailure(w, r, h.logger, invalidInput("phase must be ongoing, future or ended"))
			return
		}
		phase = &p
	}

	auctions, err := h.auctions.List(r.Context(), phase, parseListOpts(r))
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	h.writeList(w, auctions)
}

// Pending returns the moderation queue.
// GET /api/admin/auctions/pending
func (h *AuctionHandler) Pending(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.auctions.Pending(r.Context(), caller(r), parseListOpts(r))
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	h.writeList(w, auctions)
}

func (h *AuctionHandler) writeList(w http.ResponseWriter, auctions []domain.Auction) {
	now := h.clock.Now()
	out := make([]auctionJSON, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, toAuctionJSON(a, now))
	}
	writeData(w, http.StatusOK, map[string]any{"auctions": out})
}

// Get returns one auction with its catalog entry.
// GET /api/auctions/{id}
func (h *AuctionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := h.auctions.Get(r.Context(), caller(r), id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	out := toAuctionJSON(a, h.clock.Now())
	if h.catalog != nil {
		entry, err := h.catalog.Catalog(r.Context(), id)
		if err != nil {
			writeFailure(w, r, h.logger, err)
			return
		}
		out.Book = toBookJSON(entry)
	}
	writeData(w, http.StatusOK, out)
}

type createAuctionRequest struct {
	Title        string           `json:"title"`
	Author       string           `json:"author"`
	Description  string           `json:"description"`
	Genre        string           `json:"genre"`
	Condition    domain.Condition `json:"condition"`
	ImageURLs    []string         `json:"imageUrls"`
	BasePrice    int64            `json:"basePrice"`
	AuctionStart time.Time        `json:"auctionStart"`
	AuctionEnd   time.Time        `json:"auctionEnd"`
}

// Create submits a new auction for moderation.
// POST /api/auctions
func (h *AuctionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, r, h.logger, invalidInput("invalid request body: "+err.Error()))
		return
	}

	a, err := h.auctions.Create(r.Context(), caller(r), domain.Auction{
		Title:        req.Title,
		Author:       req.Author,
		Description:  req.Description,
		Genre:        req.Genre,
		Condition:    req.Condition,
		ImageURLs:    req.ImageURLs,
		BasePrice:    req.BasePrice,
		AuctionStart: req.AuctionStart,
		AuctionEnd:   req.AuctionEnd,
	})
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, toAuctionJSON(a, h.clock.Now()))
}

// Approve admits a pending auction.
// POST /api/auctions/{id}/approve
func (h *AuctionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.Approve(r.Context(), caller(r), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, toAuctionJSON(a, h.clock.Now()))
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Reject turns a pending auction down.
// POST /api/auctions/{id}/reject
func (h *AuctionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, r, h.logger, invalidInput("invalid request body: "+err.Error()))
		return
	}
	a, err := h.auctions.Reject(r.Context(), caller(r), r.PathValue("id"), req.Reason)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, toAuctionJSON(a, h.clock.Now()))
}
