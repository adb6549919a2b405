package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

func TestHubDeliversBidsToAuctionRoom(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	hub := NewHub(func(_ context.Context, id string) error {
		if id == "missing" {
			return domain.ErrNotFound
		}
		return nil
	}, domain.ClockFunc(func() time.Time { return now }), slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = hub.Run(ctx) }()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/auctions/{id}", hub.HandleWS)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	if _, resp, err := websocket.DefaultDialer.Dial(base+"/ws/auctions/missing", nil); err == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("dial missing auction: err=%v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws/auctions/a1", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var hello Message
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "hello" {
		t.Fatalf("hello = %+v, %v", hello, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Watchers("a1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never joined the room")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = hub.PublishBid(ctx, domain.BidEvent{AuctionID: "other", BidID: "x", Amount: 1})
	_ = hub.PublishBid(ctx, domain.BidEvent{AuctionID: "a1", BidID: "b1", BidderID: "u1", Amount: 1500, CurrentPrice: 1500, BidTime: now})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Type    string `json:"type"`
		Payload struct {
			AuctionID    string         `json:"auctionId"`
			CurrentPrice int64          `json:"currentPrice"`
			Bid          domain.BidView `json:"bid"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != "bid" || got.Payload.AuctionID != "a1" || got.Payload.Bid.ID != "b1" || got.Payload.CurrentPrice != 1500 {
		t.Fatalf("frame = %s", raw)
	}
}

func TestPublishBidHonoursContext(t *testing.T) {
	hub := NewHub(nil, domain.SystemClock{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Without Run the buffer fills; a cancelled context must not block.
	for i := 0; i < cap(hub.broadcast)+1; i++ {
		if err := hub.PublishBid(ctx, domain.BidEvent{AuctionID: "a1"}); err != nil {
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("PublishBid() = %v", err)
			}
			return
		}
	}
	t.Fatal("PublishBid never reported the cancelled context")
}
