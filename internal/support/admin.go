package support

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/protocol"
)

const msgCustomerEnded = "Customer ended the chat"

type AdminOptions struct {
	Socket   Socket
	API      AdminAPI
	Notifier Notifier

	TypingTimeout  time.Duration
	BannerDuration time.Duration
	PollInterval   time.Duration

	OnChange func()
}

// AdminConsole is the admin support panel: the customer list, the selected
// conversation and the shared socket.
type AdminConsole struct {
	sock     Socket
	api      AdminAPI
	notifier Notifier
	onChange func()

	cache  *CustomerListCache
	conv   *Conversation
	banner *Banner
	typing *TypingIndicator

	mu       sync.Mutex
	selected string
	started  bool
	handlers handlerSet
}

func NewAdminConsole(opts AdminOptions) *AdminConsole {
	a := &AdminConsole{
		sock:     opts.Socket,
		api:      opts.API,
		notifier: notifierOrLog(opts.Notifier),
		onChange: opts.OnChange,
		cache:    NewCustomerListCache(opts.API, opts.PollInterval),
		conv:     NewConversation(),
	}
	a.banner = NewBanner(opts.BannerDuration, func(BannerState) { a.changed() })
	a.typing = NewTypingIndicator(opts.TypingTimeout, func(bool) { a.changed() })
	a.cache.OnChange(func([]model.Customer) { a.changed() })
	a.cache.OnError(func(err error) {
		a.notifier.Notify(Notification{Kind: NotifyError, Title: "Could not load customers", Text: err.Error()})
	})
	return a
}

// Start begins polling the customer list and connects the socket.
func (a *AdminConsole) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	h := &a.handlers
	h.on(a.sock, protocol.EventConnect, func(protocol.Envelope) { a.handleConnect() })
	h.on(a.sock, protocol.EventDisconnect, func(protocol.Envelope) {
		a.banner.Disconnected()
		a.typing.Clear()
	})
	h.on(a.sock, protocol.EventConnectError, func(env protocol.Envelope) { a.banner.Error(errorMessage(env)) })
	h.on(a.sock, protocol.EventError, func(env protocol.Envelope) { a.banner.Error(errorMessage(env)) })
	h.on(a.sock, protocol.CustomerMessage, a.handleCustomerMessage)
	h.on(a.sock, protocol.AdminMessage, a.handleAdminMessage)
	h.on(a.sock, protocol.CustomerTyping, a.handleCustomerTyping)
	h.on(a.sock, protocol.CustomerRead, a.handleCustomerRead)
	h.on(a.sock, protocol.CustomerEndChat, a.handleCustomerEndChat)
	a.mu.Unlock()

	a.cache.Start(ctx)
	a.sock.Connect()
}

func (a *AdminConsole) handleConnect() {
	a.banner.Connected()
	if err := a.sock.Emit(protocol.AdminConnected, nil); err != nil {
		logger.Warnf("support: admin:connected: %v", err)
	}
	a.mu.Lock()
	sel := a.selected
	a.mu.Unlock()
	if sel != "" {
		a.joinRoom(sel)
	}
}

// joinRoom scopes delivery to customerID: leave everything, join, read.
func (a *AdminConsole) joinRoom(customerID string) {
	ref := protocol.CustomerRef{CustomerID: customerID}
	_ = a.sock.Emit(protocol.AdminLeaveAllRooms, nil)
	_ = a.sock.Emit(protocol.AdminJoinRoom, ref)
	_ = a.sock.Emit(protocol.AdminRead, ref)
}

// Select opens the conversation with customerID. Room membership is only
// changed while connected; the next connect joins the selected room.
func (a *AdminConsole) Select(ctx context.Context, customerID string) error {
	if customerID == "" {
		return ErrNoConversation
	}
	a.mu.Lock()
	a.selected = customerID
	a.mu.Unlock()
	a.typing.Clear()
	a.conv.Reset(nil)

	if a.sock.Connected() {
		a.joinRoom(customerID)
	}

	if c, ok := a.cache.Get(customerID); ok && c.UnreadCount > 0 {
		if err := a.api.MarkRead(ctx, customerID); err != nil {
			a.notifier.Notify(Notification{Kind: NotifyError, CustomerID: customerID, Title: "Could not mark as read", Text: err.Error()})
		} else {
			a.cache.Invalidate()
		}
	}

	msgs, err := a.api.GetChat(ctx, customerID)
	if err != nil {
		a.notifier.Notify(Notification{Kind: NotifyError, CustomerID: customerID, Title: "Could not load chat", Text: err.Error()})
		a.changed()
		return fmt.Errorf("support.Select: %w", err)
	}
	a.mu.Lock()
	current := a.selected == customerID
	a.mu.Unlock()
	if current {
		a.conv.Reset(msgs)
	}
	a.changed()
	return nil
}

// Deselect leaves the current room.
func (a *AdminConsole) Deselect() {
	a.mu.Lock()
	sel := a.selected
	a.selected = ""
	a.mu.Unlock()
	if sel == "" {
		return
	}
	a.typing.Clear()
	a.conv.Reset(nil)
	if a.sock.Connected() {
		_ = a.sock.Emit(protocol.AdminLeaveRoom, protocol.CustomerRef{CustomerID: sel})
	}
	a.changed()
}

// Send persists the reply over REST and mirrors it on the socket.
func (a *AdminConsole) Send(ctx context.Context, text string) (*model.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	sel := a.Selected()
	if sel == "" {
		return nil, ErrNoConversation
	}
	msg, err := a.api.SendAdminMessage(ctx, sel, text)
	if err != nil {
		a.notifier.Notify(Notification{Kind: NotifyError, CustomerID: sel, Title: "Message not sent", Text: err.Error()})
		return nil, fmt.Errorf("support.Send: %w", err)
	}
	a.conv.Append(*msg)
	if err := a.sock.Emit(protocol.AdminMessage, protocol.ChatPayload{CustomerID: sel, Message: *msg}); err != nil {
		logger.Warnf("support: admin:message not mirrored: %v", err)
	}
	a.cache.Invalidate()
	a.changed()
	return msg, nil
}

// Typing emits admin:typing for the selected customer when connected.
func (a *AdminConsole) Typing() {
	sel := a.Selected()
	if sel == "" || !a.sock.Connected() {
		return
	}
	_ = a.sock.Emit(protocol.AdminTyping, protocol.CustomerRef{CustomerID: sel})
}

// SetStatus marks the selected conversation active or resolved.
func (a *AdminConsole) SetStatus(ctx context.Context, status model.ConversationStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	sel := a.Selected()
	if sel == "" {
		return ErrNoConversation
	}
	if err := a.api.SetStatus(ctx, sel, status); err != nil {
		a.notifier.Notify(Notification{Kind: NotifyError, CustomerID: sel, Title: "Could not update status", Text: err.Error()})
		return fmt.Errorf("support.SetStatus: %w", err)
	}
	_ = a.sock.Emit(protocol.AdminStatusChange, protocol.StatusPayload{CustomerID: sel, Status: status})
	a.cache.Invalidate()
	a.changed()
	return nil
}

func (a *AdminConsole) handleCustomerMessage(env protocol.Envelope) {
	var p protocol.ChatPayload
	if err := env.Decode(&p); err != nil {
		logger.Errorf("support: decode customer:message: %v", err)
		return
	}
	if p.CustomerID == "" {
		p.CustomerID = p.Message.CustomerID
	}
	msg := p.Message
	msg.Delivery = ""
	msg.TempID = ""
	if msg.Sender == "" {
		msg.Sender = model.SenderCustomer
	}
	if p.CustomerID == a.Selected() {
		a.typing.Clear()
		a.conv.Append(msg)
		_ = a.sock.Emit(protocol.AdminRead, protocol.CustomerRef{CustomerID: p.CustomerID})
	} else {
		name := p.CustomerID
		if c, ok := a.cache.Get(p.CustomerID); ok && c.Name != "" {
			name = c.Name
		}
		a.notifier.Notify(Notification{Kind: NotifyMessage, CustomerID: p.CustomerID, Title: "New message from " + name, Text: msg.Text})
	}
	a.cache.Invalidate()
	a.changed()
}

// handleAdminMessage shows replies another admin sent in the open conversation.
func (a *AdminConsole) handleAdminMessage(env protocol.Envelope) {
	var p protocol.ChatPayload
	if err := env.Decode(&p); err != nil {
		logger.Errorf("support: decode admin:message: %v", err)
		return
	}
	if p.CustomerID == "" {
		p.CustomerID = p.Message.CustomerID
	}
	msg := p.Message
	msg.Delivery, msg.TempID = "", ""
	msg.Sender = model.SenderAdmin
	if p.CustomerID == a.Selected() {
		if _, dup := a.conv.Get(msg.ID); msg.ID == "" || !dup {
			a.conv.Append(msg)
		}
	}
	a.cache.Invalidate()
	a.changed()
}

func (a *AdminConsole) handleCustomerTyping(env protocol.Envelope) {
	var p protocol.CustomerRef
	if err := env.Decode(&p); err != nil {
		var id string
		if env.Decode(&id) != nil {
			return
		}
		p.CustomerID = id
	}
	if p.CustomerID != "" && p.CustomerID == a.Selected() {
		a.typing.Touch()
	}
}

func (a *AdminConsole) handleCustomerRead(env protocol.Envelope) {
	var p protocol.ReadPayload
	if err := env.Decode(&p); err != nil || p.CustomerID != a.Selected() {
		return
	}
	n := 0
	if len(p.MessageIDs) > 0 {
		n = a.conv.MarkRead(p.MessageIDs)
	} else {
		n = a.conv.MarkReadFrom(model.SenderAdmin)
	}
	if n > 0 {
		a.changed()
	}
}

func (a *AdminConsole) handleCustomerEndChat(env protocol.Envelope) {
	var p protocol.CustomerRef
	if err := env.Decode(&p); err != nil {
		return
	}
	a.cache.Invalidate()
	if p.CustomerID == a.Selected() {
		a.typing.Clear()
		a.conv.AppendSystem(p.CustomerID, msgCustomerEnded)
	}
	name := p.CustomerID
	if c, ok := a.cache.Get(p.CustomerID); ok && c.Name != "" {
		name = c.Name
	}
	a.notifier.Notify(Notification{Kind: NotifyInfo, CustomerID: p.CustomerID, Title: "Chat ended", Text: name + " ended the chat"})
	a.changed()
}

// Close stops polling, detaches handlers and cancels timers.
func (a *AdminConsole) Close() {
	a.mu.Lock()
	a.handlers.detach()
	a.started = false
	a.mu.Unlock()
	a.cache.Stop()
	a.banner.Stop()
	a.typing.Stop()
}

func (a *AdminConsole) Selected() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selected
}

func (a *AdminConsole) Customers() []model.Customer { return a.cache.Customers() }

func (a *AdminConsole) Cache() *CustomerListCache { return a.cache }

func (a *AdminConsole) Messages() []model.ChatMessage { return a.conv.Messages() }

func (a *AdminConsole) Banner() BannerState { return a.banner.State() }

// CustomerTyping reports whether the selected customer is typing.
func (a *AdminConsole) CustomerTyping() bool { return a.typing.Active() }

func (a *AdminConsole) changed() {
	if a.onChange != nil {
		a.onChange()
	}
}
