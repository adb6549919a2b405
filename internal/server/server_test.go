package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/bookauction/internal/cache/local"
	"github.com/alanyoungcy/bookauction/internal/domain"
	"github.com/alanyoungcy/bookauction/internal/server/handler"
	"github.com/alanyoungcy/bookauction/internal/service"
	"github.com/alanyoungcy/bookauction/internal/store/sqlite"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type tokenIDP map[string]domain.Identity

func (m tokenIDP) Authenticate(_ context.Context, token string) (domain.Identity, error) {
	id, ok := m[token]
	if !ok {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	return id, nil
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code             string `json:"code"`
		Message          string `json:"message"`
		MinimumExclusive *int64 `json:"minimumExclusive"`
	} `json:"error"`
}

type testAPI struct {
	t       *testing.T
	handler http.Handler
	clock   *testClock
	storeUp bool
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{now: t0}
	auctions := sqlite.NewAuctionStore(db)
	ledger := sqlite.NewBidLedger(db)
	users := sqlite.NewUserStore(db)
	audit := sqlite.NewAuditStore(db)
	cache := local.NewBidTimeCache()

	for _, u := range []domain.User{
		{ID: "alice", DisplayName: "Alice", Role: domain.RoleBuyer, TokenHash: []byte("-"), CreatedAt: t0},
		{ID: "bob", DisplayName: "Bob", Role: domain.RoleBuyer, TokenHash: []byte("-"), CreatedAt: t0},
	} {
		if err := users.CreateUser(context.Background(), u); err != nil {
			t.Fatal(err)
		}
	}

	api := &testAPI{t: t, clock: clock, storeUp: true}
	handlers := Handlers{
		Health: handler.NewHealthHandler(map[string]domain.Pinger{
			"store": pingFunc(func(context.Context) error {
				if !api.storeUp {
					return errors.New("connection refused")
				}
				return nil
			}),
		}, clock, logger),
		Auctions: handler.NewAuctionHandler(service.NewAuctionService(auctions, audit, clock, logger), auctions, clock, logger),
		Bids: handler.NewBidHandler(
			service.NewBiddingService(auctions, ledger, cache, users, clock, logger),
			service.NewPollService(auctions, ledger, cache, users, clock, logger),
			logger,
		),
		Audit: handler.NewAuditHandler(audit, logger),
	}
	idp := tokenIDP{
		"alice-token": {UserID: "alice", Role: domain.RoleBuyer},
		"bob-token":   {UserID: "bob", Role: domain.RoleBuyer},
		"pub-token":   {UserID: "pub-1", Role: domain.RolePublisher},
		"pub2-token":  {UserID: "pub-2", Role: domain.RolePublisher},
		"admin-token": {UserID: "admin-1", Role: domain.RoleAdmin},
	}
	api.handler = NewServer(Config{Addr: ":0"}, handlers, idp, nil, logger).Handler()
	return api
}

func (api *testAPI) do(method, path, token string, body any) (int, apiResponse) {
	api.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			api.t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	var resp apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil && rec.Code != http.StatusServiceUnavailable {
		api.t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, resp
}

type auctionData struct {
	ID               string `json:"id"`
	CurrentPrice     int64  `json:"currentPrice"`
	MinimumExclusive int64  `json:"minimumExclusive"`
	BidCount         int    `json:"bidCount"`
	Phase            string `json:"phase"`
	Status           string `json:"status"`
	Book             struct {
		Title     string   `json:"title"`
		Author    string   `json:"author"`
		ImageURLs []string `json:"imageUrls"`
	} `json:"book"`
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

// openAuction creates and approves an auction running from one hour ago to
// one hour from now.
func (api *testAPI) openAuction() string {
	api.t.Helper()
	status, resp := api.do("POST", "/api/auctions", "pub-token", map[string]any{
		"title":        "Moby-Dick, first edition",
		"author":       "Herman Melville",
		"condition":    "fair",
		"basePrice":    1000,
		"auctionStart": t0.Add(-time.Hour),
		"auctionEnd":   t0.Add(time.Hour),
	})
	if status != http.StatusCreated {
		api.t.Fatalf("create: %d %+v", status, resp.Error)
	}
	a := decode[auctionData](api.t, resp.Data)
	if a.Status != "pending" {
		api.t.Fatalf("new auction status = %q, want pending", a.Status)
	}
	if status, resp := api.do("POST", "/api/auctions/"+a.ID+"/approve", "admin-token", nil); status != http.StatusOK {
		api.t.Fatalf("approve: %d %+v", status, resp.Error)
	}
	return a.ID
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)
	if status, resp := api.do("GET", "/api/auctions", "", nil); status != http.StatusUnauthorized || resp.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("anonymous list = %d %+v", status, resp.Error)
	}
	if status, _ := api.do("GET", "/api/auctions", "stolen", nil); status != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", status)
	}
}

func TestRoleGates(t *testing.T) {
	api := newTestAPI(t)
	id := api.openAuction()

	cases := []struct {
		name, method, path, token string
		body                      any
	}{
		{"buyer creates", "POST", "/api/auctions", "alice-token", map[string]any{"title": "x"}},
		{"publisher approves", "POST", "/api/auctions/" + id + "/approve", "pub-token", nil},
		{"publisher bids", "POST", "/api/auctions/" + id + "/bid", "pub-token", map[string]any{"bidAmount": 5000}},
		{"buyer reads audit", "GET", "/api/admin/audit", "alice-token", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := api.do(tc.method, tc.path, tc.token, tc.body)
			if status != http.StatusForbidden || resp.Error.Code != "FORBIDDEN" {
				t.Fatalf("got %d %+v, want 403 FORBIDDEN", status, resp.Error)
			}
		})
	}
}

func TestBidAndPollOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	id := api.openAuction()

	status, resp := api.do("POST", "/api/auctions/"+id+"/bid", "alice-token", map[string]any{"bidAmount": 1500})
	if status != http.StatusCreated {
		t.Fatalf("bid: %d %+v", status, resp.Error)
	}
	placed := decode[struct {
		CurrentPrice int64          `json:"currentPrice"`
		NewBid       domain.BidView `json:"newBid"`
	}](t, resp.Data)
	if placed.CurrentPrice != 1500 || placed.NewBid.Bidder.DisplayName != "Alice" || !placed.NewBid.BidTime.Equal(t0) {
		t.Fatalf("unexpected bid response: %+v", placed)
	}

	status, resp = api.do("POST", "/api/auctions/"+id+"/bid", "bob-token", map[string]any{"bidAmount": 1500})
	if status != http.StatusConflict || resp.Error.Code != "BID_TOO_LOW" {
		t.Fatalf("equal bid: %d %+v", status, resp.Error)
	}
	if resp.Error.MinimumExclusive == nil || *resp.Error.MinimumExclusive != 1500 {
		t.Fatalf("minimumExclusive = %v, want 1500", resp.Error.MinimumExclusive)
	}

	type pollData struct {
		CurrentPrice *int64           `json:"currentPrice"`
		NewBids      []domain.BidView `json:"newBids"`
		HasNewBids   bool             `json:"hasNewBids"`
		Cached       bool             `json:"cached"`
	}

	status, resp = api.do("GET", "/api/auctions/"+id+"/poll", "bob-token", nil)
	if status != http.StatusOK {
		t.Fatalf("bootstrap poll: %d %+v", status, resp.Error)
	}
	boot := decode[pollData](t, resp.Data)
	if boot.Cached || !boot.HasNewBids || len(boot.NewBids) != 1 || boot.CurrentPrice == nil || *boot.CurrentPrice != 1500 {
		t.Fatalf("bootstrap poll = %+v", boot)
	}

	since := boot.NewBids[0].BidTime.Format(time.RFC3339Nano)
	status, resp = api.do("GET", "/api/auctions/"+id+"/poll?lastBidTime="+since, "bob-token", nil)
	if status != http.StatusOK {
		t.Fatalf("cached poll: %d", status)
	}
	hit := decode[pollData](t, resp.Data)
	if !hit.Cached || hit.HasNewBids || hit.NewBids == nil || len(hit.NewBids) != 0 || hit.CurrentPrice != nil {
		t.Fatalf("cache hit poll = %+v", hit)
	}

	if status, resp := api.do("GET", "/api/auctions/"+id+"/poll?lastBidTime=yesterday", "bob-token", nil); status != http.StatusBadRequest || resp.Error.Code != "INVALID_INPUT" {
		t.Fatalf("bad lastBidTime = %d %+v", status, resp.Error)
	}

	status, resp = api.do("GET", "/api/auctions/"+id, "bob-token", nil)
	detail := decode[auctionData](t, resp.Data)
	if status != http.StatusOK || detail.CurrentPrice != 1500 || detail.MinimumExclusive != 1500 || detail.BidCount != 1 || detail.Phase != "active" {
		t.Fatalf("detail = %d %+v", status, detail)
	}
	if detail.Book.Author != "Herman Melville" || detail.Book.ImageURLs == nil {
		t.Fatalf("detail book = %+v", detail.Book)
	}
}

func TestBidValidation(t *testing.T) {
	api := newTestAPI(t)
	id := api.openAuction()

	for name, body := range map[string]any{
		"missing":  map[string]any{},
		"zero":     map[string]any{"bidAmount": 0},
		"negative": map[string]any{"bidAmount": -5},
		"string":   map[string]any{"bidAmount": "1500"},
		"decimal":  map[string]any{"bidAmount": 1500.5},
	} {
		t.Run(name, func(t *testing.T) {
			status, resp := api.do("POST", "/api/auctions/"+id+"/bid", "alice-token", body)
			if status != http.StatusBadRequest || resp.Error.Code != "INVALID_INPUT" {
				t.Fatalf("got %d %+v", status, resp.Error)
			}
		})
	}

	if status, resp := api.do("POST", "/api/auctions/nope/bid", "alice-token", map[string]any{"bidAmount": 5000}); status != http.StatusNotFound || resp.Error.Code != "NOT_FOUND" {
		t.Fatalf("unknown auction = %d %+v", status, resp.Error)
	}

	api.clock.Advance(2 * time.Hour)
	if status, resp := api.do("POST", "/api/auctions/"+id+"/bid", "alice-token", map[string]any{"bidAmount": 5000}); status != http.StatusConflict || resp.Error.Code != "ENDED" {
		t.Fatalf("bid after end = %d %+v", status, resp.Error)
	}
}

func TestModerationOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	status, resp := api.do("POST", "/api/auctions", "pub-token", map[string]any{
		"title":        "",
		"basePrice":    0,
		"auctionStart": t0,
		"auctionEnd":   t0,
	})
	if status != http.StatusBadRequest || resp.Error.Code != "INVALID_INPUT" {
		t.Fatalf("invalid create = %d %+v", status, resp.Error)
	}

	status, resp = api.do("POST", "/api/auctions", "pub-token", map[string]any{
		"title":        "Ulysses, 1922",
		"basePrice":    2000,
		"auctionStart": t0.Add(time.Hour),
		"auctionEnd":   t0.Add(2 * time.Hour),
	})
	if status != http.StatusCreated {
		t.Fatalf("create = %d %+v", status, resp.Error)
	}
	id := decode[auctionData](t, resp.Data).ID

	if status, _ := api.do("GET", "/api/auctions/"+id, "alice-token", nil); status != http.StatusNotFound {
		t.Fatalf("buyer sees pending auction: %d", status)
	}
	if status, _ := api.do("GET", "/api/auctions/"+id, "pub2-token", nil); status != http.StatusNotFound {
		t.Fatalf("other publisher sees pending auction: %d", status)
	}
	if status, _ := api.do("GET", "/api/auctions/"+id, "pub-token", nil); status != http.StatusOK {
		t.Fatalf("owner cannot see pending auction: %d", status)
	}
	if status, resp := api.do("GET", "/api/auctions/"+id+"/poll", "alice-token", nil); status != http.StatusForbidden || resp.Error.Code != "NOT_APPROVED" {
		t.Fatalf("poll pending = %d %+v", status, resp.Error)
	}

	status, resp = api.do("GET", "/api/admin/auctions/pending", "admin-token", nil)
	pending := decode[struct {
		Auctions []auctionData `json:"auctions"`
	}](t, resp.Data)
	if status != http.StatusOK || len(pending.Auctions) != 1 || pending.Auctions[0].ID != id {
		t.Fatalf("pending queue = %d %+v", status, pending)
	}

	if status, _ := api.do("POST", "/api/auctions/"+id+"/reject", "admin-token", map[string]any{"reason": "foxing on every page"}); status != http.StatusOK {
		t.Fatalf("reject = %d", status)
	}
	if status, resp := api.do("POST", "/api/auctions/"+id+"/approve", "admin-token", nil); status != http.StatusConflict || resp.Error.Code != "CONFLICT" {
		t.Fatalf("second decision = %d %+v", status, resp.Error)
	}

	status, resp = api.do("GET", "/api/admin/audit", "admin-token", nil)
	audit := decode[struct {
		Entries []struct {
			Event string `json:"event"`
		} `json:"entries"`
	}](t, resp.Data)
	if status != http.StatusOK || len(audit.Entries) != 2 || audit.Entries[0].Event != "auction_rejected" {
		t.Fatalf("audit = %d %+v", status, audit)
	}
}

func TestListByPhase(t *testing.T) {
	api := newTestAPI(t)
	ongoing := api.openAuction()

	status, resp := api.do("GET", "/api/auctions?phase=ongoing", "alice-token", nil)
	list := decode[struct {
		Auctions []auctionData `json:"auctions"`
	}](t, resp.Data)
	if status != http.StatusOK || len(list.Auctions) != 1 || list.Auctions[0].ID != ongoing {
		t.Fatalf("ongoing = %d %+v", status, list)
	}

	status, resp = api.do("GET", "/api/auctions?phase=future", "alice-token", nil)
	list = decode[struct {
		Auctions []auctionData `json:"auctions"`
	}](t, resp.Data)
	if status != http.StatusOK || list.Auctions == nil || len(list.Auctions) != 0 {
		t.Fatalf("future = %d %+v", status, list)
	}

	if status, resp := api.do("GET", "/api/auctions?phase=someday", "alice-token", nil); status != http.StatusBadRequest || resp.Error.Code != "INVALID_INPUT" {
		t.Fatalf("bad phase = %d %+v", status, resp.Error)
	}
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy = %d %s", rec.Code, rec.Body.String())
	}

	api.storeUp = false
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if rec.Code != http.StatusServiceUnavailable || body.Status != "degraded" || body.Checks["store"] == "ok" {
		t.Fatalf("degraded = %d %+v", rec.Code, body)
	}
}
