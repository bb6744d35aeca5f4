package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/pkg/logger"
)

var _ app.EventBus = (*EventBus)(nil)

const defaultChannel = "leaderboard"

var errNilClient = errors.New("redis client not configured")

// EventBus relays leaderboard events over Redis pub/sub. Pub/sub keeps no
// history, which matches the no-replay delivery of the broadcaster.
type EventBus struct {
	log     *logger.Logger
	client  *redis.Client
	channel string
}

func NewEventBus(client *redis.Client, channel string, log *logger.Logger) (*EventBus, error) {
	if client == nil {
		return nil, errNilClient
	}
	if channel == "" {
		channel = defaultChannel
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &EventBus{
		log:     log.With("component", "RedisEventBus"),
		client:  client,
		channel: channel,
	}, nil
}

func (b *EventBus) Publish(ctx context.Context, event domain.LeaderboardEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes and calls onEvent for every message until ctx
// is done. It returns once the subscription is confirmed.
func (b *EventBus) StartForwarder(ctx context.Context, onEvent func(domain.LeaderboardEvent)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var event domain.LeaderboardEvent
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					b.log.Warn("bad leaderboard payload", "error", err)
					continue
				}
				onEvent(event)
			}
		}
	}()
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (b *EventBus) Close() error {
	return nil
}
