package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bookauction/internal/domain"
	"github.com/redis/go-redis/v9"
)

const bidChannel = "auction:bids"

// SignalBus carries committed bids between replicas over Redis Pub/Sub.
// Delivery is best effort; a replica that misses an event falls back to a
// store read on the next poll that does not match its cache.
type SignalBus struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client, logger *slog.Logger) *SignalBus {
	return &SignalBus{
		rdb:     c.Underlying(),
		channel: c.key(bidChannel),
		logger:  logger.With(slog.String("component", "signal_bus")),
	}
}

// PublishBid broadcasts ev to every subscribed replica.
func (sb *SignalBus) PublishBid(ctx context.Context, ev domain.BidEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal bid event: %w", err)
	}
	if err := sb.rdb.Publish(ctx, sb.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", sb.channel, err)
	}
	return nil
}

// SubscribeBids returns a channel of bid events. The subscription and the
// channel are closed when ctx is cancelled.
func (sb *SignalBus) SubscribeBids(ctx context.Context) (<-chan domain.BidEvent, error) {
	pubsub := sb.rdb.Subscribe(ctx, sb.channel)

	// Wait for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", sb.channel, err)
	}

	out := make(chan domain.BidEvent, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.BidEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					sb.logger.Warn("signal_bus: dropping malformed bid event", slog.String("error", err.Error()))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

var (
	_ domain.BidPublisher  = (*SignalBus)(nil)
	_ domain.BidSubscriber = (*SignalBus)(nil)
)
