package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/pkg/logger"
)

var _ app.EventBus = (*EventBus)(nil)

const (
	defaultExchange = "quiz.leaderboard"
	routingPrefix   = "leaderboard.quiz."
)

// EventBus relays leaderboard events through a topic exchange. Each
// instance consumes from its own exclusive, auto-deleted queue bound to
// every quiz, so nothing is kept for instances that are down.
type EventBus struct {
	log      *logger.Logger
	conn     *amqp.Connection
	exchange string

	mu  sync.Mutex
	pub *amqp.Channel
}

// Dial connects to the broker and declares the exchange.
func Dial(url, exchange string, log *logger.Logger) (*EventBus, error) {
	if exchange == "" {
		exchange = defaultExchange
	}
	if log == nil {
		log = logger.NewNop()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &EventBus{
		log:      log.With("component", "RabbitEventBus"),
		conn:     conn,
		exchange: exchange,
		pub:      ch,
	}, nil
}

// RoutingKey is the key an event for quizID is published under.
func RoutingKey(quizID string) string {
	// dots would split the quiz ID into extra routing words
	return routingPrefix + strings.ReplaceAll(quizID, ".", "_")
}

func (b *EventBus) Publish(ctx context.Context, event domain.LeaderboardEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pub.PublishWithContext(ctx,
		b.exchange,
		RoutingKey(event.QuizID),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   event.Timestamp,
			Body:        body,
		})
}

// StartForwarder declares this instance's queue and calls onEvent for each
// delivery until ctx is done or the connection drops.
func (b *EventBus) StartForwarder(ctx context.Context, onEvent func(domain.LeaderboardEvent)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	queue, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, routingPrefix+"*", b.exchange, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("bind queue: %w", err)
	}
	msgs, err := ch.Consume(
		queue.Name,
		"",
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume: %w", err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					b.log.Warn("leaderboard consumer closed", "queue", queue.Name)
					return
				}
				var event domain.LeaderboardEvent
				if err := json.Unmarshal(d.Body, &event); err != nil {
					b.log.Warn("bad leaderboard payload", "routingKey", d.RoutingKey, "error", err)
					continue
				}
				onEvent(event)
			}
		}
	}()
	return nil
}

func (b *EventBus) Close() error {
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}
