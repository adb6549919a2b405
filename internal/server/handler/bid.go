package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

// BiddingService places bids.
type BiddingService interface {
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) (domain.BidReceipt, error)
}

// PollService answers delta-sync polls.
type PollService interface {
	Poll(ctx context.Context, auctionID string, since *time.Time) (domain.PollResult, error)
}

// BidHandler serves bid submission and polling.
type BidHandler struct {
	bids   BiddingService
	polls  PollService
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(bids BiddingService, polls PollService, logger *slog.Logger) *BidHandler {
	return &BidHandler{bids: bids, polls: polls, logger: logger}
}

type placeBidRequest struct {
	BidAmount *int64 `json:"bidAmount"`
}

type placeBidResponse struct {
	CurrentPrice int64          `json:"currentPrice"`
	NewBid       domain.BidView `json:"newBid"`
}

// PlaceBid submits a bid as the authenticated buyer. The server assigns
// the bid time.
// POST /api/auctions/{id}/bid
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, r, h.logger, invalidInput("bidAmount must be a whole number"))
		return
	}
	if req.BidAmount == nil || *req.BidAmount <= 0 {
		writeFailure(w, r, h.logger, invalidInput("bidAmount must be a positive number"))
		return
	}

	receipt, err := h.bids.PlaceBid(r.Context(), r.PathValue("id"), caller(r).UserID, *req.BidAmount)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, placeBidResponse{CurrentPrice: receipt.CurrentPrice, NewBid: receipt.Bid})
}

type pollResponse struct {
	CurrentPrice *int64           `json:"currentPrice,omitempty"`
	NewBids      []domain.BidView `json:"newBids"`
	HasNewBids   bool             `json:"hasNewBids"`
	Cached       bool             `json:"cached"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Poll returns bids newer than lastBidTime, or the latest bids when it is
// omitted.
// GET /api/auctions/{id}/poll?lastBidTime=<RFC 3339>
func (h *BidHandler) Poll(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := r.URL.Query().Get("lastBidTime"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeFailure(w, r, h.logger, invalidInput("lastBidTime must be an RFC 3339 timestamp"))
			return
		}
		t = t.UTC()
		since = &t
	}

	res, err := h.polls.Poll(r.Context(), r.PathValue("id"), since)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	newBids := res.NewBids
	if newBids == nil {
		newBids = []domain.BidView{}
	}
	writeData(w, http.StatusOK, pollResponse{
		CurrentPrice: res.CurrentPrice,
		NewBids:      newBids,
		HasNewBids:   res.HasNewBids,
		Cached:       res.Cached,
		Timestamp:    res.Timestamp,
	})
}
