package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const senderIdleTTL = 30 * time.Minute

// senderManager tracks per-sender throttles and run locks so one chatty
// user cannot starve the upstream quotas and replies to one sender stay in
// order.
type senderManager struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	senders map[string]*senderState
}

// senderState is the mutable gate state tracked for one sender.
type senderState struct {
	limiter  *rate.Limiter
	runMu    sync.Mutex
	lastSeen time.Time
}

// newSenderManager builds a manager allowing perMinute messages per sender
// with the given burst. A non-positive rate disables throttling.
func newSenderManager(perMinute float64, burst int) *senderManager {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	if burst <= 0 {
		burst = 1
	}

	return &senderManager{
		limit:   limit,
		burst:   burst,
		now:     time.Now,
		senders: make(map[string]*senderState),
	}
}

// admit returns the sender's state and whether the message may proceed.
func (m *senderManager) admit(senderID string) (*senderState, bool) {
	state := m.stateFor(senderID)
	return state, state.limiter.AllowN(m.now(), 1)
}

// stateFor returns existing state or lazily creates it, dropping idle
// senders on the way.
func (m *senderManager) stateFor(senderID string) *senderState {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if state, ok := m.senders[senderID]; ok {
		state.lastSeen = now
		return state
	}

	m.pruneLocked(now)

	state := &senderState{
		limiter:  rate.NewLimiter(m.limit, m.burst),
		lastSeen: now,
	}
	m.senders[senderID] = state
	return state
}

func (m *senderManager) pruneLocked(now time.Time) {
	for id, state := range m.senders {
		if now.Sub(state.lastSeen) > senderIdleTTL && state.runMu.TryLock() {
			state.runMu.Unlock()
			delete(m.senders, id)
		}
	}
}

// Close drops all tracked senders.
func (m *senderManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.senders {
		delete(m.senders, id)
	}
}

func (m *senderManager) tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.senders)
}
