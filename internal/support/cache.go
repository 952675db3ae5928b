package support

import (
	"context"
	"sync"
	"time"

	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/model"
)

const defaultPollInterval = 30 * time.Second

type CustomerLister interface {
	ListCustomers(ctx context.Context) ([]model.Customer, error)
}

// CustomerListCache is a read-through cache of the support customer list.
// A background loop refreshes it every poll interval and whenever it is
// invalidated; bursts of invalidations collapse into one fetch.
type CustomerListCache struct {
	api      CustomerLister
	interval time.Duration

	mu        sync.RWMutex
	customers []model.Customer
	fetchedAt time.Time
	lastErr   error

	invalidate chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}

	onChange func([]model.Customer)
	onError  func(error)
}

func NewCustomerListCache(api CustomerLister, interval time.Duration) *CustomerListCache {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &CustomerListCache{
		api:        api,
		interval:   interval,
		invalidate: make(chan struct{}, 1),
	}
}

// OnChange sets a callback run after each successful refresh.
func (c *CustomerListCache) OnChange(fn func([]model.Customer)) { c.onChange = fn }

// OnError sets a callback run after each failed refresh.
func (c *CustomerListCache) OnError(fn func(error)) { c.onError = fn }

// Start loads the list and keeps it fresh until Stop or ctx is done.
func (c *CustomerListCache) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		c.refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.refresh(ctx)
			case <-c.invalidate:
				c.refresh(ctx)
			}
		}
	}()
}

func (c *CustomerListCache) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Invalidate schedules a refetch. It never blocks.
func (c *CustomerListCache) Invalidate() {
	select {
	case c.invalidate <- struct{}{}:
	default:
	}
}

// Refresh fetches synchronously.
func (c *CustomerListCache) Refresh(ctx context.Context) error {
	return c.refresh(ctx)
}

func (c *CustomerListCache) refresh(ctx context.Context) error {
	list, err := c.api.ListCustomers(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		logger.Warnf("support: refresh customers: %v", err)
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		if c.onError != nil {
			c.onError(err)
		}
		return err
	}
	c.mu.Lock()
	c.customers = list
	c.fetchedAt = time.Now()
	c.lastErr = nil
	c.mu.Unlock()
	if c.onChange != nil {
		c.onChange(append([]model.Customer(nil), list...))
	}
	return nil
}

func (c *CustomerListCache) Customers() []model.Customer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Customer(nil), c.customers...)
}

func (c *CustomerListCache) Get(id string) (model.Customer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cu := range c.customers {
		if cu.ID == id {
			return cu, true
		}
	}
	return model.Customer{}, false
}

// FetchedAt is the time of the last successful refresh.
func (c *CustomerListCache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

func (c *CustomerListCache) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}
