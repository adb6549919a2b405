// Package natsstream publishes committed bids to a NATS JetStream stream
// for downstream consumers (settlement, analytics). The stream is durable;
// the in-cluster Redis bus is not.
package natsstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

// SubjectPrefix prefixes the per-auction subject bid.events.<auctionID>.
const SubjectPrefix = "bid.events."

// Config describes the connection and the stream.
type Config struct {
	URL      string
	Stream   string
	MaxAge   time.Duration
	Replicas int
}

// Publisher writes bid events to JetStream with the bid id as message id,
// so a retried publish is deduplicated by the server.
type Publisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// Connect dials NATS and creates or updates the stream.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Publisher, error) {
	logger = logger.With(slog.String("component", "nats"))
	conn, err := nats.Connect(cfg.URL,
		nats.Name("auctiond"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats: disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats: reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats: jetstream: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, StreamConfig(cfg)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats: ensure stream %s: %w", cfg.Stream, err)
	}
	logger.Info("nats: stream ready", slog.String("stream", cfg.Stream))

	return &Publisher{conn: conn, js: js, logger: logger}, nil
}

// StreamConfig is the stream definition for cfg. Events are kept for
// MaxAge regardless of consumption so several consumers can read them.
func StreamConfig(cfg Config) jetstream.StreamConfig {
	replicas := cfg.Replicas
	if replicas <= 0 {
		replicas = 1
	}
	return jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "committed auction bids",
		Subjects:    []string{SubjectPrefix + "*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Replicas:    replicas,
		Duplicates:  2 * time.Minute,
	}
}

// Subject is the subject bids for auctionID are published on. NATS subject
// tokens cannot contain '.', '*', '>' or whitespace.
func Subject(auctionID string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, auctionID)
	return SubjectPrefix + clean
}

// PublishBid waits for the stream to acknowledge ev.
func (p *Publisher) PublishBid(ctx context.Context, ev domain.BidEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats: marshal bid event: %w", err)
	}
	subject := Subject(ev.AuctionID)
	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(ev.BidID))
	if err != nil {
		return fmt.Errorf("nats: publish %s: %w", subject, err)
	}
	if ack.Duplicate {
		p.logger.DebugContext(ctx, "nats: duplicate bid event", slog.String("bid_id", ev.BidID))
	}
	return nil
}

// Ping reports whether the connection is up.
func (p *Publisher) Ping(ctx context.Context) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("nats: %s", p.conn.Status())
	}
	timeout := time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if err := p.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("nats: flush: %w", err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

var (
	_ domain.BidPublisher = (*Publisher)(nil)
	_ domain.Pinger       = (*Publisher)(nil)
)
