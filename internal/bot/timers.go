package bot

import (
	"sync"
	"time"
)

// verifyKey addresses a take-profit verification timer: the close of one
// specific ticket under one source event.
type verifyKey struct {
	eventID int64
	ticket  int64
}

// handle is one armed timer. The generation counter makes re-arming safe: a
// stale timer that fires after its key was re-armed sees a newer generation
// and does nothing.
type handle struct {
	gen   uint64
	timer *time.Timer
}

// timerSet owns the coordinator's deferred timers. Cancel operations are
// idempotent; canceling a fired or never-armed key is a no-op.
type timerSet struct {
	mu      sync.Mutex
	gen     uint64
	pending map[int64]*handle
	verify  map[verifyKey]*handle
}

func newTimerSet() *timerSet {
	return &timerSet{
		pending: make(map[int64]*handle),
		verify:  make(map[verifyKey]*handle),
	}
}

// ArmPending schedules the pending-completion timeout for a source event,
// replacing any previous timer under the same id.
func (ts *timerSet) ArmPending(id int64, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if prev, ok := ts.pending[id]; ok {
		prev.timer.Stop()
	}

	ts.gen++
	gen := ts.gen
	h := &handle{gen: gen}
	h.timer = time.AfterFunc(d, func() {
		if !ts.claimPending(id, gen) {
			return
		}
		fn()
	})
	ts.pending[id] = h
}

// claimPending removes the timer entry if it is still the firing generation.
func (ts *timerSet) claimPending(id int64, gen uint64) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	cur, ok := ts.pending[id]
	if !ok || cur.gen != gen {
		return false
	}
	delete(ts.pending, id)
	return true
}

// CancelPending stops the pending-completion timer for an event, if any.
func (ts *timerSet) CancelPending(id int64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if h, ok := ts.pending[id]; ok {
		h.timer.Stop()
		delete(ts.pending, id)
	}
}

// ArmVerify schedules a close-verification re-check for one ticket.
func (ts *timerSet) ArmVerify(eventID, ticket int64, d time.Duration, fn func()) {
	key := verifyKey{eventID: eventID, ticket: ticket}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if prev, ok := ts.verify[key]; ok {
		prev.timer.Stop()
	}

	ts.gen++
	gen := ts.gen
	h := &handle{gen: gen}
	h.timer = time.AfterFunc(d, func() {
		if !ts.claimVerify(key, gen) {
			return
		}
		fn()
	})
	ts.verify[key] = h
}

func (ts *timerSet) claimVerify(key verifyKey, gen uint64) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	cur, ok := ts.verify[key]
	if !ok || cur.gen != gen {
		return false
	}
	delete(ts.verify, key)
	return true
}

// CancelVerify stops one verification timer, if armed.
func (ts *timerSet) CancelVerify(eventID, ticket int64) {
	key := verifyKey{eventID: eventID, ticket: ticket}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if h, ok := ts.verify[key]; ok {
		h.timer.Stop()
		delete(ts.verify, key)
	}
}

// CancelAll stops every outstanding timer. Called on shutdown before the
// store is persisted so nothing fires against a half-saved state.
func (ts *timerSet) CancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for id, h := range ts.pending {
		h.timer.Stop()
		delete(ts.pending, id)
	}
	for key, h := range ts.verify {
		h.timer.Stop()
		delete(ts.verify, key)
	}
}
