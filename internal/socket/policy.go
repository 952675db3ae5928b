package socket

import (
	"time"

	"github.com/supportdesk/internal/config"
)

// ReconnectPolicy decides how long to wait before each redial after a lost or
// failed connection. MaxAttempts 0 retries forever.
type ReconnectPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultPolicy is used by the admin panel: unbounded attempts, 1s doubling up to 5s.
func DefaultPolicy() ReconnectPolicy {
	return ReconnectPolicy{Delay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
}

// FixedPolicy retries at most attempts times with the same delay (customer page).
func FixedPolicy(attempts int, delay time.Duration) ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: attempts, Delay: delay, MaxDelay: delay, Multiplier: 1}
}

// PolicyFromConfig converts the YAML/env representation.
func PolicyFromConfig(c config.ReconnectConfig) ReconnectPolicy {
	p := ReconnectPolicy{MaxAttempts: c.MaxAttempts, Delay: c.Delay, MaxDelay: c.MaxDelay, Multiplier: c.Multiplier}
	if p.Delay <= 0 {
		p.Delay = time.Second
	}
	return p
}

// Exhausted reports whether attempt (1-based) is past the limit.
func (p ReconnectPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// Backoff returns the wait before attempt (1-based).
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	d := p.Delay
	if d <= 0 {
		d = time.Second
	}
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
