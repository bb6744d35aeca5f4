package app

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// AttemptTimer schedules a single expiry callback per attempt.
//
// Cancel is best effort: once a callback has started it runs to completion,
// and the ledger's Finalize decides which of expiry and manual submit wins.
type AttemptTimer struct {
	clock clockwork.Clock

	mu      sync.Mutex
	seq     uint64
	pending map[string]armedTimer
}

type armedTimer struct {
	gen   uint64
	timer clockwork.Timer
}

func NewAttemptTimer(clock clockwork.Clock) *AttemptTimer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AttemptTimer{
		clock:   clock,
		pending: make(map[string]armedTimer),
	}
}

// Arm schedules onExpire(attemptID) after d, replacing any pending expiry
// for the same attempt. A non-positive d fires synchronously.
func (t *AttemptTimer) Arm(attemptID string, d time.Duration, onExpire func(string)) {
	t.mu.Lock()
	if prev, ok := t.pending[attemptID]; ok {
		prev.timer.Stop()
		delete(t.pending, attemptID)
	}
	if d <= 0 {
		t.mu.Unlock()
		onExpire(attemptID)
		return
	}
	t.seq++
	gen := t.seq
	timer := t.clock.AfterFunc(d, func() {
		if t.claim(attemptID, gen) {
			onExpire(attemptID)
		}
	})
	t.pending[attemptID] = armedTimer{gen: gen, timer: timer}
	t.mu.Unlock()
}

// claim removes the pending entry if it still belongs to generation gen.
// A callback from a replaced or cancelled arm loses the claim.
func (t *AttemptTimer) claim(attemptID string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	armed, ok := t.pending[attemptID]
	if !ok || armed.gen != gen {
		return false
	}
	delete(t.pending, attemptID)
	return true
}

// Cancel suppresses a pending expiry. It returns false when nothing was
// pending, including when the callback already started.
func (t *AttemptTimer) Cancel(attemptID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	armed, ok := t.pending[attemptID]
	if !ok {
		return false
	}
	armed.timer.Stop()
	delete(t.pending, attemptID)
	return true
}

// Armed reports whether an expiry is pending for attemptID.
func (t *AttemptTimer) Armed(attemptID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[attemptID]
	return ok
}

// Pending returns the number of armed expiries.
func (t *AttemptTimer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Stop cancels every pending expiry. Used on shutdown.
func (t *AttemptTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, armed := range t.pending {
		armed.timer.Stop()
		delete(t.pending, id)
	}
}
