package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/supportdesk/internal/model"
)

// MemoryDB keeps customers and messages in process memory. It backs
// services/api -memory and the package tests; data is lost on restart.
type MemoryDB struct {
	mu        sync.RWMutex
	customers map[string]*model.Customer
	messages  map[string][]model.ChatMessage
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		customers: make(map[string]*model.Customer),
		messages:  make(map[string][]model.ChatMessage),
	}
}

// Customers returns the CustomerStore view.
func (db *MemoryDB) Customers() *MemoryCustomers { return &MemoryCustomers{db: db} }

// Messages returns the MessageStore view.
func (db *MemoryDB) Messages() *MemoryMessages { return &MemoryMessages{db: db} }

type MemoryCustomers struct{ db *MemoryDB }

func (r *MemoryCustomers) Create(_ context.Context, c *model.Customer) error {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.customers[c.ID]; ok {
		return ErrConflict
	}
	for _, other := range db.customers {
		if other.Phone == c.Phone {
			return ErrConflict
		}
	}
	cp := *c
	cp.Messages, cp.LastMessage = nil, nil
	db.customers[c.ID] = &cp
	return nil
}

func (r *MemoryCustomers) GetByID(_ context.Context, id string) (*model.Customer, error) {
	db := r.db
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, ok := db.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := db.snapshotLocked(c)
	return &out, nil
}

func (r *MemoryCustomers) GetByPhone(_ context.Context, phone string) (*model.Customer, error) {
	db := r.db
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, c := range db.customers {
		if c.Phone == phone {
			out := db.snapshotLocked(c)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryCustomers) List(_ context.Context) ([]model.Customer, error) {
	db := r.db
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]model.Customer, 0, len(db.customers))
	for _, c := range db.customers {
		out = append(out, db.snapshotLocked(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (r *MemoryCustomers) SetStatus(_ context.Context, id string, status model.ConversationStatus) error {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.customers[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	return nil
}

func (db *MemoryDB) snapshotLocked(c *model.Customer) model.Customer {
	out := *c
	msgs := db.messages[c.ID]
	for _, m := range msgs {
		if m.Sender == model.SenderCustomer && !m.Read {
			out.UnreadCount++
		}
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		out.LastMessage = &last
	}
	return out
}

type MemoryMessages struct{ db *MemoryDB }

func (r *MemoryMessages) Create(_ context.Context, m *model.ChatMessage) error {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.customers[m.CustomerID]
	if !ok {
		return ErrNotFound
	}
	c.LastActivity = m.Timestamp
	db.messages[m.CustomerID] = append(db.messages[m.CustomerID], *m)
	return nil
}

func (r *MemoryMessages) ListByCustomer(_ context.Context, customerID string) ([]model.ChatMessage, error) {
	db := r.db
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]model.ChatMessage{}, db.messages[customerID]...), nil
}

func (r *MemoryMessages) MarkRead(_ context.Context, customerID string, sender model.SenderRole, ids []string) (int64, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var n int64
	msgs := db.messages[customerID]
	for i := range msgs {
		if msgs[i].Sender != sender || msgs[i].Read {
			continue
		}
		if len(ids) > 0 {
			if _, ok := want[msgs[i].ID]; !ok {
				continue
			}
		}
		msgs[i].Read = true
		n++
	}
	return n, nil
}
