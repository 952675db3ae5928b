package support

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/supportdesk/internal/model"
)

const tempIDPrefix = "temp-"

// Conversation is the visible, ordered message list of one chat.
type Conversation struct {
	mu   sync.Mutex
	msgs []model.ChatMessage
}

func NewConversation() *Conversation {
	return &Conversation{}
}

// Reset replaces the list with a server snapshot.
func (c *Conversation) Reset(msgs []model.ChatMessage) {
	c.mu.Lock()
	c.msgs = append(c.msgs[:0:0], msgs...)
	c.mu.Unlock()
}

func (c *Conversation) Append(m model.ChatMessage) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

// AppendPending adds an optimistic message with a local temporary id.
func (c *Conversation) AppendPending(customerID string, sender model.SenderRole, text string) model.ChatMessage {
	id := tempIDPrefix + uuid.NewString()
	m := model.ChatMessage{
		ID:         id,
		TempID:     id,
		CustomerID: customerID,
		Sender:     sender,
		Text:       text,
		Timestamp:  time.Now().UTC(),
		Delivery:   model.DeliveryPending,
	}
	c.Append(m)
	return m
}

// AppendSystem adds a local system notice.
func (c *Conversation) AppendSystem(customerID, text string) model.ChatMessage {
	m := model.ChatMessage{
		ID:         "system-" + uuid.NewString(),
		CustomerID: customerID,
		Sender:     model.SenderSystem,
		Text:       text,
		Timestamp:  time.Now().UTC(),
		Read:       true,
	}
	c.Append(m)
	return m
}

// Reconcile swaps a temporary id for the server id and marks the message sent.
func (c *Conversation) Reconcile(tempID, serverID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(tempID)
	if i < 0 || !c.msgs[i].Pending() {
		return false
	}
	if serverID != "" {
		c.msgs[i].ID = serverID
	}
	c.msgs[i].Delivery = model.DeliverySent
	return true
}

// Fail marks a pending message as failed so it can be retried.
func (c *Conversation) Fail(tempID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(tempID)
	if i < 0 || !c.msgs[i].Pending() {
		return false
	}
	c.msgs[i].Delivery = model.DeliveryFailed
	return true
}

// Retry removes a failed message and returns its text for the composer.
func (c *Conversation) Retry(tempID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(tempID)
	if i < 0 || c.msgs[i].Delivery != model.DeliveryFailed {
		return "", false
	}
	text := c.msgs[i].Text
	c.msgs = append(c.msgs[:i], c.msgs[i+1:]...)
	return text, true
}

// MarkRead sets the read flag on the given ids.
func (c *Conversation) MarkRead(ids []string) int {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.msgs {
		if _, ok := set[c.msgs[i].ID]; ok && !c.msgs[i].Read {
			c.msgs[i].Read = true
			n++
		}
	}
	return n
}

// MarkReadFrom sets the read flag on every message sent by role.
func (c *Conversation) MarkReadFrom(role model.SenderRole) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.msgs {
		if c.msgs[i].Sender == role && !c.msgs[i].Read {
			c.msgs[i].Read = true
			n++
		}
	}
	return n
}

// Messages returns a copy of the list.
func (c *Conversation) Messages() []model.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ChatMessage(nil), c.msgs...)
}

// Get returns the message with id (server or temporary).
func (c *Conversation) Get(id string) (model.ChatMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if i < 0 {
		return model.ChatMessage{}, false
	}
	return c.msgs[i], true
}

// PendingIDs lists temporary ids still waiting for acknowledgement, oldest first.
func (c *Conversation) PendingIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.msgs {
		if m.Pending() {
			out = append(out, m.TempID)
		}
	}
	return out
}

func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *Conversation) indexLocked(id string) int {
	for i := range c.msgs {
		if c.msgs[i].ID == id || (c.msgs[i].TempID != "" && c.msgs[i].TempID == id) {
			return i
		}
	}
	return -1
}
