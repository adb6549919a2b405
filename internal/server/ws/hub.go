// Package ws pushes committed bids to websocket clients watching an auction.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Requests are authenticated before the upgrade.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type helloPayload struct {
	AuctionID  string    `json:"auctionId"`
	ServerTime time.Time `json:"serverTime"`
}

type bidPayload struct {
	AuctionID    string         `json:"auctionId"`
	CurrentPrice int64          `json:"currentPrice"`
	Bid          domain.BidView `json:"bid"`
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	auctionID string
	send      chan []byte
}

type roomMsg struct {
	auctionID string
	data      []byte
}

// AuctionCheck decides whether an auction may be watched.
type AuctionCheck func(ctx context.Context, auctionID string) error

// Hub keeps one room per watched auction and fans bid events out to the
// clients in that room.
type Hub struct {
	rooms      map[string]map[*client]bool
	broadcast  chan roomMsg
	register   chan *client
	unregister chan *client
	check      AuctionCheck
	clock      domain.Clock
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub. check may be nil.
func NewHub(check AuctionCheck, clock domain.Clock, logger *slog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*client]bool),
		broadcast:  make(chan roomMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		check:      check,
		clock:      clock,
		logger:     logger.With(slog.String("component", "ws")),
	}
}

// Run owns room membership until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, room := range h.rooms {
				for c := range room {
					close(c.send)
				}
				delete(h.rooms, id)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[c.auctionID]
			if !ok {
				room = make(map[*client]bool)
				h.rooms[c.auctionID] = room
			}
			room[c] = true
			h.mu.Unlock()
			h.logger.Debug("ws: client joined", slog.String("auction_id", c.auctionID))

		case c := <-h.unregister:
			h.mu.Lock()
			if room, ok := h.rooms[c.auctionID]; ok && room[c] {
				delete(room, c)
				close(c.send)
				if len(room) == 0 {
					delete(h.rooms, c.auctionID)
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.rooms[msg.auctionID] {
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping bid for slow client", slog.String("auction_id", msg.auctionID))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// PublishBid queues ev for the clients watching its auction.
func (h *Hub) PublishBid(ctx context.Context, ev domain.BidEvent) error {
	data, err := json.Marshal(Message{Type: "bid", Payload: bidPayload{
		AuctionID:    ev.AuctionID,
		CurrentPrice: ev.CurrentPrice,
		Bid: domain.BidView{
			ID:        ev.BidID,
			Bidder:    domain.Bidder{ID: ev.BidderID},
			BidAmount: ev.Amount,
			BidTime:   ev.BidTime,
		},
	}})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- roomMsg{auctionID: ev.AuctionID, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watchers returns how many clients are watching auctionID.
func (h *Hub) Watchers(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[auctionID])
}

// HandleWS upgrades the request and joins the client to the auction room.
// GET /ws/auctions/{id}
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	auctionID := r.PathValue("id")
	if h.check != nil {
		if err := h.check(r.Context(), auctionID); err != nil {
			status := http.StatusNotFound
			if domain.KindOf(err) == domain.KindStorageUnavailable {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, domain.KindOf(err).String(), status)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{hub: h, conn: conn, auctionID: auctionID, send: make(chan []byte, sendBufferSize)}
	if hello, err := json.Marshal(Message{Type: "hello", Payload: helloPayload{
		AuctionID:  auctionID,
		ServerTime: h.clock.Now(),
	}}); err == nil {
		c.send <- hello
	}

	h.register <- c
	go c.writePump()
	go c.readPump()
}

// readPump only services control frames; clients do not send data.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ domain.BidPublisher = (*Hub)(nil)
