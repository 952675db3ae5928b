package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/metrics"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/protocol"
	"github.com/supportdesk/internal/service"
	"github.com/supportdesk/internal/storage"
)

// PushNotifier sends web pushes to admins. A nil notifier disables them.
type PushNotifier interface {
	NotifyAdmins(ctx context.Context, title, body string, data map[string]string)
}

var (
	errForbidden        = errors.New("forbidden for this role")
	errNotAuthed        = errors.New("customer is not authenticated")
	errBadPayload       = errors.New("malformed payload")
	errMissingTarget    = errors.New("customerId required")
	errCustomerMismatch = errors.New("customerId does not match the authenticated customer")
)

const presenceRefresh = time.Minute

// Hub routes support events between admin and customer connections.
// Customers are keyed by the id bound with customer:auth; admins receive
// every customer:message and, for the rooms they joined, typing and read
// events.
type Hub struct {
	mu        sync.RWMutex
	all       map[*Client]struct{}
	admins    map[*Client]struct{}
	customers map[string]map[*Client]struct{}
	rooms     map[string]map[*Client]struct{}
	maxConns  int

	svc        *service.Support
	presence   storage.PresenceStore
	pushClient PushNotifier

	unregister chan *Client
	done       chan struct{}
	closed     bool
}

func NewHub(svc *service.Support, presence storage.PresenceStore, maxConns int, pushClient PushNotifier) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		all:        make(map[*Client]struct{}),
		admins:     make(map[*Client]struct{}),
		customers:  make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		svc:        svc,
		presence:   presence,
		pushClient: pushClient,
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(presenceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.unregister:
			h.removeClient(client)
		case <-ticker.C:
			h.refreshPresence()
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, len(h.all))
	for c := range h.all {
		allClients = append(allClients, c)
	}
	h.all = make(map[*Client]struct{})
	h.admins = make(map[*Client]struct{})
	h.customers = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.closed = true
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, c := range allClients {
		if c.role == RoleAdmin {
			h.markOffline(ctx, c)
		}
		metrics.WSConnections.WithLabelValues(string(c.role)).Dec()
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	if len(h.all) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting conn=%s role=%s", h.maxConns, c.id, c.role)
		return false
	}
	h.all[c] = struct{}{}
	if c.role == RoleAdmin {
		h.admins[c] = struct{}{}
	}
	h.mu.Unlock()
	metrics.WSConnections.WithLabelValues(string(c.role)).Inc()
	logger.Debugf("ws connected conn=%s role=%s", c.id, c.role)
	return true
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.all[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.all, c)
	delete(h.admins, c)
	for id := range c.rooms {
		h.leaveLocked(c, id)
	}
	if c.customerID != "" {
		h.unbindLocked(c)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
	metrics.WSConnections.WithLabelValues(string(c.role)).Dec()

	if c.role == RoleAdmin {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.markOffline(ctx, c)
	}
	logger.Debugf("ws disconnected conn=%s role=%s", c.id, c.role)
}

func (h *Hub) markOffline(ctx context.Context, c *Client) {
	if h.presence == nil {
		return
	}
	if err := h.presence.AdminOffline(ctx, c.id); err != nil {
		logger.Errorf("ws admin offline conn=%s: %v", c.id, err)
	}
}

func (h *Hub) refreshPresence() {
	if h.presence == nil {
		return
	}
	h.mu.RLock()
	ids := make([]string, 0, len(h.admins))
	for c := range h.admins {
		if c.announced {
			ids = append(ids, c.id)
		}
	}
	h.mu.RUnlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range ids {
		if err := h.presence.AdminOnline(ctx, id); err != nil {
			logger.Errorf("ws refresh presence conn=%s: %v", id, err)
		}
	}
}

// HandleMessage dispatches one inbound event.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, env protocol.Envelope) {
	var err error
	switch env.Type {
	case protocol.AdminConnected, protocol.AdminJoinRoom, protocol.AdminLeaveRoom, protocol.AdminLeaveAllRooms,
		protocol.AdminMessage, protocol.AdminRead, protocol.AdminTyping, protocol.AdminStatusChange:
		if c.role != RoleAdmin {
			err = errForbidden
			break
		}
		err = h.handleAdmin(ctx, c, env)
	case protocol.CustomerAuth:
		err = h.handleCustomerAuth(ctx, c, env)
	case protocol.CustomerMessage:
		h.handleCustomerMessage(ctx, c, env)
	case protocol.CustomerTyping, protocol.CustomerRead, protocol.CustomerEndChat:
		err = h.handleCustomer(ctx, c, env)
	default:
		metrics.WSEvents.WithLabelValues("unknown", "rejected").Inc()
		h.sendToClient(c, errorFrame("unknown event type"))
		return
	}
	if err != nil {
		metrics.WSEvents.WithLabelValues(string(env.Type), "rejected").Inc()
		logger.Warnf("ws %s conn=%s role=%s: %v", env.Type, c.id, c.role, err)
		h.sendToClient(c, errorFrame(err.Error()))
		return
	}
	metrics.WSEvents.WithLabelValues(string(env.Type), "ok").Inc()
}

func (h *Hub) handleAdmin(ctx context.Context, c *Client, env protocol.Envelope) error {
	switch env.Type {
	case protocol.AdminConnected:
		h.mu.Lock()
		c.announced = true
		h.mu.Unlock()
		if h.presence != nil {
			if err := h.presence.AdminOnline(ctx, c.id); err != nil {
				logger.Errorf("ws admin online conn=%s: %v", c.id, err)
			}
		}
		return nil
	case protocol.AdminLeaveAllRooms:
		h.mu.Lock()
		for id := range c.rooms {
			h.leaveLocked(c, id)
		}
		h.mu.Unlock()
		return nil
	case protocol.AdminStatusChange:
		var p protocol.StatusPayload
		if err := env.Decode(&p); err != nil || !p.Status.Valid() {
			return errBadPayload
		}
		if p.CustomerID == "" {
			return errMissingTarget
		}
		out := outgoing(protocol.AdminStatusChange, p)
		h.sendToCustomer(p.CustomerID, out)
		h.sendToAdmins(out, c)
		return nil
	case protocol.AdminMessage:
		var p protocol.ChatPayload
		if err := env.Decode(&p); err != nil {
			return errBadPayload
		}
		id := p.CustomerID
		if id == "" {
			id = p.Message.CustomerID
		}
		if id == "" {
			return errMissingTarget
		}
		msg := p.Message
		msg.CustomerID = id
		msg.Sender = model.SenderAdmin
		msg.Delivery, msg.TempID = "", ""
		out := outgoing(protocol.AdminMessage, protocol.ChatPayload{CustomerID: id, Message: msg})
		h.sendToCustomer(id, out)
		h.sendToRoom(id, out, c)
		return nil
	}

	id := customerIDOf(env)
	if id == "" {
		return errMissingTarget
	}
	ref := protocol.CustomerRef{CustomerID: id}
	switch env.Type {
	case protocol.AdminJoinRoom:
		h.mu.Lock()
		c.rooms[id] = struct{}{}
		if h.rooms[id] == nil {
			h.rooms[id] = make(map[*Client]struct{})
		}
		h.rooms[id][c] = struct{}{}
		h.mu.Unlock()
	case protocol.AdminLeaveRoom:
		h.mu.Lock()
		h.leaveLocked(c, id)
		h.mu.Unlock()
	case protocol.AdminTyping:
		h.sendToCustomer(id, outgoing(protocol.AdminTyping, ref))
	case protocol.AdminRead:
		sctx, cancel := service.WithTimeout(ctx)
		defer cancel()
		if _, err := h.svc.MarkReadByAdmin(sctx, id); err != nil {
			return err
		}
		h.sendToCustomer(id, outgoing(protocol.AdminRead, ref))
	}
	return nil
}

func (h *Hub) handleCustomerAuth(ctx context.Context, c *Client, env protocol.Envelope) error {
	id := customerIDOf(env)
	if id == "" {
		return errMissingTarget
	}
	sctx, cancel := service.WithTimeout(ctx)
	defer cancel()
	if _, err := h.svc.Customer(sctx, id); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return errors.New("unknown customer")
		}
		return err
	}
	h.mu.Lock()
	if c.customerID != "" {
		h.unbindLocked(c)
	}
	c.customerID = id
	if h.customers[id] == nil {
		h.customers[id] = make(map[*Client]struct{})
	}
	h.customers[id][c] = struct{}{}
	h.mu.Unlock()
	return nil
}

// handleCustomerMessage always answers the sender with message:sent or
// message:error carrying the client's temporary id.
func (h *Hub) handleCustomerMessage(ctx context.Context, c *Client, env protocol.Envelope) {
	defer logger.DeferLogDuration("ws.handleCustomerMessage", time.Now())()
	var p protocol.ChatPayload
	if err := env.Decode(&p); err != nil {
		h.rejectMessage(c, "", errBadPayload)
		return
	}
	tempID := p.TempID
	if tempID == "" {
		tempID = p.Message.TempID
	}
	id := h.boundCustomer(c)
	switch {
	case id == "":
		h.rejectMessage(c, tempID, errNotAuthed)
		return
	case p.CustomerID != "" && p.CustomerID != id:
		h.rejectMessage(c, tempID, errCustomerMismatch)
		return
	}

	sctx, cancel := service.WithTimeout(ctx)
	defer cancel()
	saved, err := h.svc.CustomerMessage(sctx, id, p.Message.Text)
	if err != nil {
		logger.Errorf("ws save customer message customer=%s: %v", id, err)
		switch {
		case errors.Is(err, service.ErrEmptyText), errors.Is(err, service.ErrTextTooLong):
			h.rejectMessage(c, tempID, err)
		default:
			h.rejectMessage(c, tempID, errors.New("failed to save message"))
		}
		return
	}
	metrics.WSEvents.WithLabelValues(string(protocol.CustomerMessage), "ok").Inc()
	h.sendToClient(c, outgoing(protocol.MessageSent, protocol.SentPayload{MessageID: saved.ID, TempID: tempID}))
	h.sendToAdmins(outgoing(protocol.CustomerMessage, protocol.ChatPayload{CustomerID: id, Message: *saved}), nil)
	h.pushIfNoAdmins(sctx, id, saved)
}

func (h *Hub) rejectMessage(c *Client, tempID string, err error) {
	metrics.WSEvents.WithLabelValues(string(protocol.CustomerMessage), "rejected").Inc()
	h.sendToClient(c, outgoing(protocol.MessageError, protocol.ErrorPayload{TempID: tempID, Message: err.Error()}))
}

func (h *Hub) pushIfNoAdmins(ctx context.Context, customerID string, m *model.ChatMessage) {
	if h.pushClient == nil || h.presence == nil {
		return
	}
	n, err := h.presence.AdminsOnline(ctx)
	if err != nil {
		logger.Errorf("ws admins online: %v", err)
		return
	}
	if n > 0 {
		return
	}
	title := "New support message"
	if cu, err := h.svc.Customer(ctx, customerID); err == nil && cu.Name != "" {
		title = "New message from " + cu.Name
	}
	body := m.Text
	if r := []rune(body); len(r) > 100 {
		body = string(r[:100]) + "..."
	}
	go h.pushClient.NotifyAdmins(context.Background(), title, body, map[string]string{"customerId": customerID})
}

func (h *Hub) handleCustomer(ctx context.Context, c *Client, env protocol.Envelope) error {
	id := h.boundCustomer(c)
	if id == "" {
		return errNotAuthed
	}
	ref := protocol.CustomerRef{CustomerID: id}
	switch env.Type {
	case protocol.CustomerTyping:
		h.sendToRoom(id, outgoing(protocol.CustomerTyping, ref), nil)
	case protocol.CustomerRead:
		var p protocol.ReadPayload
		if err := env.Decode(&p); err != nil {
			return errBadPayload
		}
		sctx, cancel := service.WithTimeout(ctx)
		defer cancel()
		if _, err := h.svc.MarkReadByCustomer(sctx, id, p.MessageIDs); err != nil {
			return err
		}
		h.sendToRoom(id, outgoing(protocol.CustomerRead, protocol.ReadPayload{CustomerID: id, MessageIDs: p.MessageIDs}), nil)
	case protocol.CustomerEndChat:
		sctx, cancel := service.WithTimeout(ctx)
		defer cancel()
		if _, err := h.svc.EndChat(sctx, id); err != nil {
			return err
		}
		h.sendToAdmins(outgoing(protocol.CustomerEndChat, ref), nil)
	}
	return nil
}

func (h *Hub) boundCustomer(c *Client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.customerID
}

func (h *Hub) leaveLocked(c *Client, customerID string) {
	delete(c.rooms, customerID)
	if room, ok := h.rooms[customerID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, customerID)
		}
	}
}

func (h *Hub) unbindLocked(c *Client) {
	if set, ok := h.customers[c.customerID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.customers, c.customerID)
		}
	}
	c.customerID = ""
}

// Counts reports connected admins and authenticated customer connections.
func (h *Hub) Counts() (admins, customers int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.customers {
		customers += len(set)
	}
	return len(h.admins), customers
}

func (h *Hub) sendToCustomer(customerID string, msg protocol.Outgoing) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.customers[customerID]))
	for c := range h.customers[customerID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToRoom(customerID string, msg protocol.Outgoing, except *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[customerID]))
	for c := range h.rooms[customerID] {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToAdmins(msg protocol.Outgoing, except *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.admins))
	for c := range h.admins {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg protocol.Outgoing) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client conn=%s role=%s", c.id, c.role)
		metrics.WSSlowClients.Inc()
		c.Close()
	}
}

// Register adds c to the hub before its pumps start, so the unregister from
// the read pump always follows it. A rejected client (limit reached or hub
// stopped) is closed and must not be started.
func (h *Hub) Register(c *Client) bool {
	if !h.addClient(c) {
		c.Close()
		return false
	}
	return true
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
