// Package bidclient talks to the auction HTTP API and keeps a local view
// of one auction current by polling it.
package bidclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

// Client is the REST client for the auction API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the API rooted at baseURL, e.g.
// "http://localhost:8080". token is sent as a bearer credential.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// APIError is a failure reported by the server in its error envelope.
type APIError struct {
	Status           int
	Code             string
	Message          string
	MinimumExclusive *int64
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

var codeErrors = map[string]error{
	"NOT_FOUND":           domain.ErrNotFound,
	"NOT_APPROVED":        domain.ErrNotApproved,
	"NOT_STARTED":         domain.ErrNotStarted,
	"ENDED":               domain.ErrEnded,
	"BID_TOO_LOW":         domain.ErrBidTooLow,
	"STORAGE_UNAVAILABLE": domain.ErrStorageUnavailable,
	"INVALID_INPUT":       domain.ErrInvalidInput,
	"UNAUTHORIZED":        domain.ErrUnauthorized,
	"FORBIDDEN":           domain.ErrForbidden,
	"CONFLICT":            domain.ErrConflict,
	"RATE_LIMITED":        domain.ErrRateLimited,
}

// Unwrap lets callers match server failures with errors.Is against the
// domain sentinels.
func (e *APIError) Unwrap() error { return codeErrors[e.Code] }

// Auction is the detail view of one auction.
type Auction struct {
	ID               string    `json:"id"`
	CurrentPrice     int64     `json:"currentPrice"`
	BasePrice        int64     `json:"basePrice"`
	MinimumExclusive int64     `json:"minimumExclusive"`
	BidCount         int       `json:"bidCount"`
	AuctionStart     time.Time `json:"auctionStart"`
	AuctionEnd       time.Time `json:"auctionEnd"`
	Phase            string    `json:"phase"`
	Status           string    `json:"status"`
	Book             struct {
		Title  string `json:"title"`
		Author string `json:"author"`
	} `json:"book"`
}

// PollResponse is one answer of the poll endpoint.
type PollResponse struct {
	CurrentPrice *int64           `json:"currentPrice"`
	NewBids      []domain.BidView `json:"newBids"`
	HasNewBids   bool             `json:"hasNewBids"`
	Cached       bool             `json:"cached"`
	Timestamp    time.Time        `json:"timestamp"`
}

// BidResponse is the server's acknowledgement of an accepted bid.
type BidResponse struct {
	CurrentPrice int64          `json:"currentPrice"`
	NewBid       domain.BidView `json:"newBid"`
}

// Auction fetches the detail view of auctionID.
func (c *Client) Auction(ctx context.Context, auctionID string) (Auction, error) {
	var a Auction
	if err := c.do(ctx, http.MethodGet, "/api/auctions/"+url.PathEscape(auctionID), nil, &a); err != nil {
		return Auction{}, fmt.Errorf("bidclient: get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// Poll asks for bids newer than since. A nil since requests the latest bids.
func (c *Client) Poll(ctx context.Context, auctionID string, since *time.Time) (PollResponse, error) {
	path := "/api/auctions/" + url.PathEscape(auctionID) + "/poll"
	if since != nil {
		path += "?" + url.Values{"lastBidTime": {since.UTC().Format(time.RFC3339Nano)}}.Encode()
	}
	var resp PollResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return PollResponse{}, fmt.Errorf("bidclient: poll %s: %w", auctionID, err)
	}
	return resp, nil
}

// PlaceBid submits amount on auctionID.
func (c *Client) PlaceBid(ctx context.Context, auctionID string, amount int64) (BidResponse, error) {
	var resp BidResponse
	body := map[string]int64{"bidAmount": amount}
	if err := c.do(ctx, http.MethodPost, "/api/auctions/"+url.PathEscape(auctionID)+"/bid", body, &resp); err != nil {
		return BidResponse{}, fmt.Errorf("bidclient: bid on %s: %w", auctionID, err)
	}
	return resp, nil
}

// NewAuction describes a listing submitted for moderation.
type NewAuction struct {
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	Description  string    `json:"description,omitempty"`
	Genre        string    `json:"genre,omitempty"`
	Condition    string    `json:"condition"`
	ImageURLs    []string  `json:"imageUrls,omitempty"`
	BasePrice    int64     `json:"basePrice"`
	AuctionStart time.Time `json:"auctionStart"`
	AuctionEnd   time.Time `json:"auctionEnd"`
}

// CreateAuction submits a new auction. It stays invisible to buyers until an
// admin approves it.
func (c *Client) CreateAuction(ctx context.Context, in NewAuction) (Auction, error) {
	var a Auction
	if err := c.do(ctx, http.MethodPost, "/api/auctions", in, &a); err != nil {
		return Auction{}, fmt.Errorf("bidclient: create auction: %w", err)
	}
	return a, nil
}

// Approve publishes a pending auction.
func (c *Client) Approve(ctx context.Context, auctionID string) (Auction, error) {
	var a Auction
	if err := c.do(ctx, http.MethodPost, "/api/auctions/"+url.PathEscape(auctionID)+"/approve", nil, &a); err != nil {
		return Auction{}, fmt.Errorf("bidclient: approve %s: %w", auctionID, err)
	}
	return a, nil
}

// Reject declines a pending auction with a reason shown to its publisher.
func (c *Client) Reject(ctx context.Context, auctionID, reason string) (Auction, error) {
	var a Auction
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, "/api/auctions/"+url.PathEscape(auctionID)+"/reject", body, &a); err != nil {
		return Auction{}, fmt.Errorf("bidclient: reject %s: %w", auctionID, err)
	}
	return a, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code             string `json:"code"`
		Message          string `json:"message"`
		MinimumExclusive *int64 `json:"minimumExclusive"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return &APIError{Status: resp.StatusCode, Code: "INTERNAL", Message: strings.TrimSpace(string(respBody))}
	}
	if !env.Success || resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Code: "INTERNAL", Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.MinimumExclusive = env.Error.MinimumExclusive
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsTransient reports whether err is worth retrying on the normal schedule.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return domain.KindOf(apiErr).Transient() || apiErr.Status >= 500
	}
	return err != nil
}
