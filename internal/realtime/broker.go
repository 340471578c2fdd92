package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const brokerPrefix = "chat:"

// RedisBroker relays channel traffic through Redis pub/sub so every
// instance delivers to its own subscribers.
type RedisBroker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisBroker(rdb *redis.Client, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, brokerPrefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe blocks until ctx is done. ready runs once Redis confirms the
// pattern subscription.
func (b *RedisBroker) Subscribe(ctx context.Context, ready func(), deliver func(channel string, payload []byte)) error {
	pubsub := b.rdb.PSubscribe(ctx, brokerPrefix+"*")
	defer pubsub.Close()

	// Wait for the subscription so nothing published after Subscribe
	// returns its first receive is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}
	b.logger.Info("redis broker subscribed", zap.String("pattern", brokerPrefix+"*"))
	ready()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis broker subscription closed")
			}
			deliver(strings.TrimPrefix(msg.Channel, brokerPrefix), []byte(msg.Payload))
		}
	}
}
