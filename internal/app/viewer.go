package app

import (
	"sort"
	"sync/atomic"

	"github.com/google/uuid"

	"quiz-attempt-service/internal/domain"
)

// ViewerSession is a subscriber's connection handle. Events arrive on a
// bounded queue in publish order; the broadcaster drops the oldest queued
// event when the viewer falls behind.
type ViewerSession struct {
	ID       string
	ViewerID string

	out     chan domain.LeaderboardEvent
	dropped atomic.Uint64

	// guarded by the owning broadcaster's mutex
	topics map[string]struct{}
	closed bool
}

func newViewerSession(viewerID string, queueSize int) *ViewerSession {
	return &ViewerSession{
		ID:       uuid.NewString(),
		ViewerID: viewerID,
		out:      make(chan domain.LeaderboardEvent, queueSize),
		topics:   make(map[string]struct{}),
	}
}

// Events is closed when the session disconnects.
func (s *ViewerSession) Events() <-chan domain.LeaderboardEvent {
	return s.out
}

// Dropped counts events discarded by backpressure.
func (s *ViewerSession) Dropped() uint64 {
	return s.dropped.Load()
}

// enqueue must be called with the broadcaster lock held; that makes it the
// only producer, so the send after evicting one event cannot block.
func (s *ViewerSession) enqueue(event domain.LeaderboardEvent) bool {
	select {
	case s.out <- event:
		return true
	default:
	}
	select {
	case <-s.out:
		s.dropped.Add(1)
	default:
	}
	s.out <- event
	return false
}

func (s *ViewerSession) topicList() []string {
	out := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}
