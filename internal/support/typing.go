package support

import (
	"sync"
	"time"
)

// TypingIndicator turns a burst of typing events into one "is typing" state
// that decays after timeout. Every Touch moves the deadline; only one wake is
// ever scheduled.
type TypingIndicator struct {
	mu       sync.Mutex
	timeout  time.Duration
	active   bool
	deadline time.Time
	timer    *time.Timer
	gen      uint64
	onChange func(bool)
}

func NewTypingIndicator(timeout time.Duration, onChange func(bool)) *TypingIndicator {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &TypingIndicator{timeout: timeout, onChange: onChange}
}

// Touch marks the counterpart as typing and restarts the decay.
func (t *TypingIndicator) Touch() {
	t.mu.Lock()
	t.stopLocked()
	was := t.active
	t.active = true
	t.deadline = time.Now().Add(t.timeout)
	gen := t.gen
	t.timer = time.AfterFunc(t.timeout, func() { t.expire(gen) })
	t.mu.Unlock()
	if !was {
		t.notify(true)
	}
}

// Clear drops the state immediately (a message arrived, the chat changed).
func (t *TypingIndicator) Clear() {
	t.mu.Lock()
	t.stopLocked()
	was := t.active
	t.active = false
	t.mu.Unlock()
	if was {
		t.notify(false)
	}
}

func (t *TypingIndicator) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// expiresAt is the instant the indicator will clear; zero when inactive.
func (t *TypingIndicator) expiresAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return time.Time{}
	}
	return t.deadline
}

// Stop cancels the scheduled wake without notifying.
func (t *TypingIndicator) Stop() {
	t.mu.Lock()
	t.stopLocked()
	t.active = false
	t.mu.Unlock()
}

func (t *TypingIndicator) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.timer = nil
	t.mu.Unlock()
	t.notify(false)
}

func (t *TypingIndicator) stopLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *TypingIndicator) notify(v bool) {
	if t.onChange != nil {
		t.onChange(v)
	}
}
