package user

import (
	"sync"
	"time"
)

var nowFunc = time.Now // mockable

// failureTracker counts failed sign-in attempts per identity with a
// time-decayed lockout. It is shared mutable state hit from every
// session goroutine, hence the mutex.
type failureTracker struct {
	mu        sync.Mutex
	threshold int
	decay     time.Duration
	failures  map[string]*failureEntry
}

type failureEntry struct {
	count int
	last  time.Time
}

func newFailureTracker(threshold int, decay time.Duration) *failureTracker {
	return &failureTracker{
		threshold: threshold,
		decay:     decay,
		failures:  make(map[string]*failureEntry),
	}
}

// record registers a failed attempt and reports whether this attempt
// crossed the lockout threshold.
func (t *failureTracker) record(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := nowFunc()
	entry, ok := t.failures[id]
	if !ok || now.Sub(entry.last) > t.decay {
		entry = &failureEntry{}
		t.failures[id] = entry
	}
	entry.count++
	entry.last = now
	return entry.count == t.threshold
}

// locked reports whether the identity is currently locked out.
// A lock expires on its own once the decay window has passed.
func (t *failureTracker) locked(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.failures[id]
	if !ok {
		return false
	}
	if nowFunc().Sub(entry.last) > t.decay {
		delete(t.failures, id)
		return false
	}
	return entry.count >= t.threshold
}

func (t *failureTracker) reset(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, id)
}
