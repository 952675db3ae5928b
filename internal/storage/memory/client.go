package memory

import (
	"context"
	"sync"
	"time"
)

type Client struct {
	mu     sync.Mutex
	admins map[string]struct{}
	limit  map[string][]time.Time
	now    func() time.Time
}

func New() *Client {
	return &Client{
		admins: make(map[string]struct{}),
		limit:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) AdminOnline(ctx context.Context, connID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.admins[connID] = struct{}{}
	return nil
}

func (c *Client) AdminOffline(ctx context.Context, connID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.admins, connID)
	return nil
}

func (c *Client) AdminsOnline(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.admins), nil
}

// CheckRegisterLimit uses a sliding window per key.
func (c *Client) CheckRegisterLimit(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	cut := now.Add(-window)
	var kept []time.Time
	for _, t := range c.limit[key] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= max {
		c.limit[key] = kept
		return false, nil
	}
	c.limit[key] = append(kept, now)
	return true, nil
}
