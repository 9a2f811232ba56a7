package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

// CycleBus implements domain.EventBus using Redis Pub/Sub. The orchestrator
// publishes cycle lifecycle events ("cycles" channel) so external observers
// can follow monitoring outcomes without polling the job table.
type CycleBus struct {
	rdb *redis.Client
}

// NewCycleBus creates a CycleBus backed by the given Client.
func NewCycleBus(c *Client) *CycleBus {
	return &CycleBus{rdb: c.Underlying()}
}

// Publish sends a raw byte payload to a Pub/Sub channel.
func (b *CycleBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Pub/Sub subscription and returns a read-only channel of
// raw payloads. The subscription and the returned channel are closed when the
// context is cancelled.
func (b *CycleBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := b.rdb.Subscribe(ctx, channel)

	// Receive the subscription confirmation before handing out the channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
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
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Compile-time interface check.
var _ domain.EventBus = (*CycleBus)(nil)
