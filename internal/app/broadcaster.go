package app

import (
	"context"
	"strings"
	"sync"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/pkg/logger"
)

const defaultQueueSize = 32

// LeaderboardBroadcaster fans finalized results out to viewer sessions.
// Delivery is best effort: nothing is replayed to late subscribers and a
// slow session loses its oldest events instead of stalling publishers.
type LeaderboardBroadcaster struct {
	log       *logger.Logger
	queueSize int

	mu            sync.Mutex
	subscriptions map[string]map[*ViewerSession]struct{}
}

func NewLeaderboardBroadcaster(log *logger.Logger, queueSize int) *LeaderboardBroadcaster {
	if log == nil {
		log = logger.NewNop()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &LeaderboardBroadcaster{
		log:           log.With("component", "LeaderboardBroadcaster"),
		queueSize:     queueSize,
		subscriptions: make(map[string]map[*ViewerSession]struct{}),
	}
}

// NewSession creates an unsubscribed session for viewerID.
func (b *LeaderboardBroadcaster) NewSession(viewerID string) *ViewerSession {
	return newViewerSession(viewerID, b.queueSize)
}

// Subscribe adds topic to the session. Subscribing twice is a no-op.
func (b *LeaderboardBroadcaster) Subscribe(session *ViewerSession, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return domain.ErrInvalidTopic
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if session.closed {
		return domain.ErrSessionClosed
	}
	session.topics[topic] = struct{}{}
	sessions, ok := b.subscriptions[topic]
	if !ok {
		sessions = make(map[*ViewerSession]struct{})
		b.subscriptions[topic] = sessions
	}
	sessions[session] = struct{}{}

	b.log.Debug("viewer subscribed", "sessionID", session.ID, "topic", topic)
	return nil
}

func (b *LeaderboardBroadcaster) Unsubscribe(session *ViewerSession, topic string) {
	topic = strings.TrimSpace(topic)

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(session.topics, topic)
	b.removeLocked(session, topic)
	b.log.Debug("viewer unsubscribed", "sessionID", session.ID, "topic", topic)
}

// Topics returns the session's current subscriptions, sorted.
func (b *LeaderboardBroadcaster) Topics(session *ViewerSession) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return session.topicList()
}

// Disconnect removes every subscription and closes the event queue.
// Events already queued stay readable until drained.
func (b *LeaderboardBroadcaster) Disconnect(session *ViewerSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if session.closed {
		return
	}
	for topic := range session.topics {
		b.removeLocked(session, topic)
	}
	session.topics = make(map[string]struct{})
	session.closed = true
	close(session.out)
	b.log.Debug("viewer disconnected", "sessionID", session.ID, "dropped", session.Dropped())
}

func (b *LeaderboardBroadcaster) removeLocked(session *ViewerSession, topic string) {
	sessions, ok := b.subscriptions[topic]
	if !ok {
		return
	}
	delete(sessions, session)
	if len(sessions) == 0 {
		delete(b.subscriptions, topic)
	}
}

// Publish implements EventPublisher for single-instance deployments.
func (b *LeaderboardBroadcaster) Publish(_ context.Context, event domain.LeaderboardEvent) error {
	b.Deliver(event)
	return nil
}

// Deliver enqueues event once for every session subscribed to any of the
// event's topics. The lock is held for the whole fan-out so concurrent
// publishes reach every subscriber in the same order.
func (b *LeaderboardBroadcaster) Deliver(event domain.LeaderboardEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[*ViewerSession]struct{})
	for _, topic := range event.Topics() {
		for session := range b.subscriptions[topic] {
			if _, dup := seen[session]; dup || session.closed {
				continue
			}
			seen[session] = struct{}{}
			if !session.enqueue(event) {
				b.log.Debug("viewer queue full, dropped oldest event", "sessionID", session.ID, "quizID", event.QuizID)
			}
		}
	}
}

// SubscriberCount reports the number of sessions on topic.
func (b *LeaderboardBroadcaster) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscriptions[topic])
}
