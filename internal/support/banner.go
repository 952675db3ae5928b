package support

import (
	"sync"
	"time"
)

// ConnectionStatus is derived from socket lifecycle events and never stored.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusErroring     ConnectionStatus = "erroring"
)

const (
	bannerConnected    = "Connected to support"
	bannerReconnecting = "Connection lost. Reconnecting..."
)

// BannerState is a snapshot for rendering.
type BannerState struct {
	Connected bool
	Visible   bool
	Text      string
	Error     string
}

// Status folds the error overlay into the tri-state value.
func (s BannerState) Status() ConnectionStatus {
	switch {
	case s.Error != "":
		return StatusErroring
	case s.Connected:
		return StatusConnected
	default:
		return StatusDisconnected
	}
}

// Banner tracks the connection flag and the banner shown above the chat.
// The "connected" banner hides itself after a fixed duration; the
// "reconnecting" banner stays until the next connect.
type Banner struct {
	mu       sync.Mutex
	state    BannerState
	duration time.Duration
	timer    *time.Timer
	gen      uint64
	onChange func(BannerState)
}

func NewBanner(duration time.Duration, onChange func(BannerState)) *Banner {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return &Banner{duration: duration, onChange: onChange}
}

func (b *Banner) State() BannerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Banner) Connected() {
	b.mu.Lock()
	b.stopTimerLocked()
	b.state = BannerState{Connected: true, Visible: true, Text: bannerConnected}
	gen := b.gen
	b.timer = time.AfterFunc(b.duration, func() { b.hide(gen) })
	st := b.state
	b.mu.Unlock()
	b.notify(st)
}

func (b *Banner) Disconnected() {
	b.mu.Lock()
	b.stopTimerLocked()
	b.state.Connected = false
	b.state.Visible = true
	b.state.Text = bannerReconnecting
	st := b.state
	b.mu.Unlock()
	b.notify(st)
}

// Error overlays msg without touching the connected flag.
func (b *Banner) Error(msg string) {
	b.mu.Lock()
	b.stopTimerLocked()
	b.state.Error = msg
	b.state.Visible = true
	if b.state.Text == "" || b.state.Connected {
		b.state.Text = msg
	}
	st := b.state
	b.mu.Unlock()
	b.notify(st)
}

// Stop cancels the pending hide.
func (b *Banner) Stop() {
	b.mu.Lock()
	b.stopTimerLocked()
	b.mu.Unlock()
}

func (b *Banner) hide(gen uint64) {
	b.mu.Lock()
	if gen != b.gen || !b.state.Connected {
		b.mu.Unlock()
		return
	}
	b.state.Visible = false
	b.timer = nil
	st := b.state
	b.mu.Unlock()
	b.notify(st)
}

func (b *Banner) stopTimerLocked() {
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Banner) notify(st BannerState) {
	if b.onChange != nil {
		b.onChange(st)
	}
}
