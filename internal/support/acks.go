package support

import (
	"sync"
	"time"
)

const defaultAckTimeout = 10 * time.Second

// ackTracker correlates optimistic sends with message:sent / message:error.
// Entries are keyed by temporary id; an acknowledgement without a temporary
// id resolves the oldest entry. Every entry leaves the map exactly once: on
// ack, on error, on timeout or on failAll.
type ackTracker struct {
	mu        sync.Mutex
	timeout   time.Duration
	order     []string
	timers    map[string]*time.Timer
	onTimeout func(tempID string)
}

func newAckTracker(timeout time.Duration, onTimeout func(string)) *ackTracker {
	if timeout <= 0 {
		timeout = defaultAckTimeout
	}
	return &ackTracker{timeout: timeout, timers: make(map[string]*time.Timer), onTimeout: onTimeout}
}

func (a *ackTracker) add(tempID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.order = append(a.order, tempID)
	a.timers[tempID] = time.AfterFunc(a.timeout, func() {
		if a.take(tempID) != "" && a.onTimeout != nil {
			a.onTimeout(tempID)
		}
	})
}

// take removes tempID (or the oldest entry when empty) and returns it.
func (a *ackTracker) take(tempID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tempID == "" {
		if len(a.order) == 0 {
			return ""
		}
		tempID = a.order[0]
	}
	t, ok := a.timers[tempID]
	if !ok {
		return ""
	}
	t.Stop()
	delete(a.timers, tempID)
	for i, id := range a.order {
		if id == tempID {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return tempID
}

// failAll drains the map, oldest first.
func (a *ackTracker) failAll() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.order
	for _, id := range out {
		a.timers[id].Stop()
	}
	a.order = nil
	a.timers = make(map[string]*time.Timer)
	return out
}

func (a *ackTracker) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}
