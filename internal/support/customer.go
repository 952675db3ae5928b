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

const (
	msgDisconnected = "You have been disconnected. Trying to reconnect..."
	msgChatEnded    = "You ended the chat. Thank you for contacting support."
)

type CustomerOptions struct {
	Socket   Socket
	API      CustomerAPI
	Notifier Notifier

	TypingTimeout  time.Duration
	BannerDuration time.Duration
	EndChatDelay   time.Duration
	AckTimeout     time.Duration

	// OnChange is called after any visible state change.
	OnChange func()
}

// CustomerSession is the customer support page: one customer, one
// conversation, one socket.
type CustomerSession struct {
	sock     Socket
	api      CustomerAPI
	notifier Notifier
	onChange func()

	conv   *Conversation
	banner *Banner
	typing *TypingIndicator
	acks   *ackTracker

	endChatDelay time.Duration

	mu           sync.Mutex
	customer     *model.Customer
	draft        string
	open         bool
	ended        bool
	wasConnected bool
	endTimer     *time.Timer
	handlers     handlerSet
}

func NewCustomerSession(opts CustomerOptions) *CustomerSession {
	s := &CustomerSession{
		sock:         opts.Socket,
		api:          opts.API,
		notifier:     notifierOrLog(opts.Notifier),
		onChange:     opts.OnChange,
		conv:         NewConversation(),
		endChatDelay: opts.EndChatDelay,
		open:         true,
	}
	if s.endChatDelay <= 0 {
		s.endChatDelay = time.Second
	}
	s.banner = NewBanner(opts.BannerDuration, func(BannerState) { s.changed() })
	s.typing = NewTypingIndicator(opts.TypingTimeout, func(bool) { s.changed() })
	s.acks = newAckTracker(opts.AckTimeout, s.ackTimedOut)
	return s
}

// Register validates the form, creates the customer and connects.
func (s *CustomerSession) Register(ctx context.Context, reg model.Registration) (*model.Customer, error) {
	reg.Normalize()
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	c, err := s.api.Register(ctx, reg)
	if err != nil {
		s.notifier.Notify(Notification{Kind: NotifyError, Title: "Registration failed", Text: err.Error()})
		return nil, fmt.Errorf("support.Register: %w", err)
	}
	s.conv.Reset(nil)
	s.begin(c)
	return c, nil
}

// Lookup resumes the conversation of a returning customer by phone number.
func (s *CustomerSession) Lookup(ctx context.Context, phone string) (*model.Customer, error) {
	phone = model.NormalizePhone(phone)
	if phone == "" {
		return nil, fmt.Errorf("%w: phone is required", ErrValidation)
	}
	c, err := s.api.Lookup(ctx, phone)
	if err != nil {
		s.notifier.Notify(Notification{Kind: NotifyError, Title: "Lookup failed", Text: err.Error()})
		return nil, fmt.Errorf("support.Lookup: %w", err)
	}
	msgs, err := s.api.GetChat(ctx, c.ID)
	if err != nil {
		s.notifier.Notify(Notification{Kind: NotifyError, Title: "Could not load chat", Text: err.Error()})
		return nil, fmt.Errorf("support.Lookup: %w", err)
	}
	s.conv.Reset(msgs)
	s.begin(c)
	return c, nil
}

func (s *CustomerSession) begin(c *model.Customer) {
	s.mu.Lock()
	s.customer = c
	s.ended = false
	if s.endTimer != nil {
		s.endTimer.Stop()
		s.endTimer = nil
	}
	if len(s.handlers.offs) == 0 {
		s.attachLocked()
	}
	s.mu.Unlock()
	s.sock.Connect()
	s.changed()
}

func (s *CustomerSession) attachLocked() {
	h := &s.handlers
	h.on(s.sock, protocol.EventConnect, func(protocol.Envelope) { s.handleConnect() })
	h.on(s.sock, protocol.EventDisconnect, func(protocol.Envelope) { s.handleDisconnect() })
	h.on(s.sock, protocol.EventConnectError, func(env protocol.Envelope) { s.banner.Error(errorMessage(env)) })
	h.on(s.sock, protocol.EventError, func(env protocol.Envelope) { s.banner.Error(errorMessage(env)) })
	h.on(s.sock, protocol.AdminMessage, s.handleAdminMessage)
	h.on(s.sock, protocol.AdminTyping, s.handleAdminTyping)
	h.on(s.sock, protocol.AdminRead, s.handleAdminRead)
	h.on(s.sock, protocol.AdminStatusChange, s.handleStatusChange)
	h.on(s.sock, protocol.MessageSent, s.handleSent)
	h.on(s.sock, protocol.MessageError, s.handleSendError)
}

func (s *CustomerSession) handleConnect() {
	s.mu.Lock()
	s.wasConnected = true
	id := s.customerIDLocked()
	s.mu.Unlock()
	s.banner.Connected()
	if id != "" {
		if err := s.sock.Emit(protocol.CustomerAuth, id); err != nil {
			logger.Warnf("support: customer:auth: %v", err)
		}
	}
}

func (s *CustomerSession) handleDisconnect() {
	s.mu.Lock()
	transition := s.wasConnected
	s.wasConnected = false
	ended := s.ended
	id := s.customerIDLocked()
	s.mu.Unlock()

	s.banner.Disconnected()
	s.typing.Clear()
	for _, tempID := range s.acks.failAll() {
		s.conv.Fail(tempID)
	}
	if transition && !ended {
		s.conv.AppendSystem(id, msgDisconnected)
	}
	s.changed()
}

func (s *CustomerSession) handleAdminMessage(env protocol.Envelope) {
	var p protocol.ChatPayload
	if err := env.Decode(&p); err != nil {
		logger.Errorf("support: decode admin:message: %v", err)
		return
	}
	s.mu.Lock()
	id := s.customerIDLocked()
	open := s.open
	s.mu.Unlock()
	if id == "" || p.CustomerID != id {
		return
	}
	msg := p.Message
	if msg.Sender == "" {
		msg.Sender = model.SenderAdmin
	}
	s.typing.Clear()
	if open {
		msg.Read = true
		s.conv.Append(msg)
		if err := s.sock.Emit(protocol.CustomerRead, protocol.ReadPayload{CustomerID: id, MessageIDs: []string{msg.ID}}); err != nil {
			logger.Warnf("support: customer:read: %v", err)
		}
	} else {
		s.conv.Append(msg)
		s.notifier.Notify(Notification{Kind: NotifyMessage, CustomerID: id, Title: "Support", Text: msg.Text})
	}
	s.changed()
}

func (s *CustomerSession) handleAdminTyping(env protocol.Envelope) {
	var p protocol.CustomerRef
	if err := env.Decode(&p); err != nil {
		return
	}
	s.mu.Lock()
	match := p.CustomerID == s.customerIDLocked() && s.open
	s.mu.Unlock()
	if match {
		s.typing.Touch()
	}
}

func (s *CustomerSession) handleAdminRead(env protocol.Envelope) {
	var p protocol.CustomerRef
	if err := env.Decode(&p); err != nil {
		return
	}
	s.mu.Lock()
	match := p.CustomerID == s.customerIDLocked()
	s.mu.Unlock()
	if match && s.conv.MarkReadFrom(model.SenderCustomer) > 0 {
		s.changed()
	}
}

func (s *CustomerSession) handleStatusChange(env protocol.Envelope) {
	var p protocol.StatusPayload
	if err := env.Decode(&p); err != nil || !p.Status.Valid() {
		return
	}
	s.mu.Lock()
	if s.customer == nil || s.customer.ID != p.CustomerID {
		s.mu.Unlock()
		return
	}
	s.customer.Status = p.Status
	s.mu.Unlock()
	if p.Status == model.StatusResolved {
		s.notifier.Notify(Notification{Kind: NotifyInfo, CustomerID: p.CustomerID, Title: "Support", Text: "Your conversation was marked as resolved"})
	}
	s.changed()
}

func (s *CustomerSession) handleSent(env protocol.Envelope) {
	var p protocol.SentPayload
	if err := env.Decode(&p); err != nil {
		logger.Errorf("support: decode message:sent: %v", err)
		return
	}
	tempID := s.acks.take(p.TempID)
	if tempID == "" {
		return
	}
	s.conv.Reconcile(tempID, p.MessageID)
	s.changed()
}

func (s *CustomerSession) handleSendError(env protocol.Envelope) {
	var p protocol.ErrorPayload
	_ = env.Decode(&p)
	tempID := s.acks.take(p.TempID)
	if tempID == "" {
		return
	}
	s.conv.Fail(tempID)
	s.notifier.Notify(Notification{Kind: NotifyError, Title: "Message not sent", Text: p.Message})
	s.changed()
}

func (s *CustomerSession) ackTimedOut(tempID string) {
	if s.conv.Fail(tempID) {
		s.notifier.Notify(Notification{Kind: NotifyError, Title: "Message not sent", Text: "no response from server"})
		s.changed()
	}
}

// Send appends text optimistically and emits customer:message. The returned
// message is pending, or already failed when the socket is down.
func (s *CustomerSession) Send(text string) (model.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.ChatMessage{}, ErrEmptyMessage
	}
	s.mu.Lock()
	if s.customer == nil {
		s.mu.Unlock()
		return model.ChatMessage{}, ErrNotRegistered
	}
	if s.ended {
		s.mu.Unlock()
		return model.ChatMessage{}, ErrChatEnded
	}
	id := s.customer.ID
	s.draft = ""
	s.mu.Unlock()

	msg := s.conv.AppendPending(id, model.SenderCustomer, text)
	s.acks.add(msg.TempID)
	err := s.sock.Emit(protocol.CustomerMessage, protocol.ChatPayload{CustomerID: id, Message: msg, TempID: msg.TempID})
	if err != nil {
		logger.Warnf("support: customer:message: %v", err)
		if s.acks.take(msg.TempID) != "" {
			s.conv.Fail(msg.TempID)
		}
	}
	s.changed()
	out, _ := s.conv.Get(msg.TempID)
	return out, nil
}

// Retry removes a failed message and puts its text back in the composer.
func (s *CustomerSession) Retry(tempID string) (string, error) {
	text, ok := s.conv.Retry(tempID)
	if !ok {
		return "", ErrNotFailed
	}
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
	s.changed()
	return text, nil
}

// Input records the composer content and emits one typing event.
func (s *CustomerSession) Input(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
	if text != "" {
		s.Typing()
	}
}

func (s *CustomerSession) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Typing emits customer:typing when connected and registered.
func (s *CustomerSession) Typing() {
	s.mu.Lock()
	id := s.customerIDLocked()
	ended := s.ended
	s.mu.Unlock()
	if id == "" || ended || !s.sock.Connected() {
		return
	}
	_ = s.sock.Emit(protocol.CustomerTyping, id)
}

// SetOpen toggles the chat window. Opening acknowledges unread admin messages.
func (s *CustomerSession) SetOpen(open bool) {
	s.mu.Lock()
	s.open = open
	id := s.customerIDLocked()
	s.mu.Unlock()
	if !open || id == "" {
		if !open {
			s.typing.Clear()
		}
		return
	}
	var ids []string
	for _, m := range s.conv.Messages() {
		if m.Sender == model.SenderAdmin && !m.Read {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	s.conv.MarkRead(ids)
	if s.sock.Connected() {
		_ = s.sock.Emit(protocol.CustomerRead, protocol.ReadPayload{CustomerID: id, MessageIDs: ids})
	}
	s.changed()
}

// EndChat terminates the session: the socket is closed after the end-chat
// delay and not reopened until the customer registers or looks up again.
func (s *CustomerSession) EndChat(ctx context.Context) error {
	s.mu.Lock()
	if s.customer == nil {
		s.mu.Unlock()
		return ErrNotRegistered
	}
	if s.ended {
		s.mu.Unlock()
		return ErrChatEnded
	}
	s.ended = true
	id := s.customer.ID
	s.customer.Status = model.StatusResolved
	s.mu.Unlock()

	_ = s.sock.Emit(protocol.CustomerEndChat, protocol.CustomerRef{CustomerID: id})
	s.conv.AppendSystem(id, msgChatEnded)
	s.typing.Clear()
	s.changed()

	err := s.api.SetStatus(ctx, id, model.StatusResolved)
	if err != nil {
		s.notifier.Notify(Notification{Kind: NotifyError, Title: "Could not close the conversation", Text: err.Error()})
		err = fmt.Errorf("support.EndChat: %w", err)
	}

	s.mu.Lock()
	if s.endTimer != nil {
		s.endTimer.Stop()
	}
	s.endTimer = time.AfterFunc(s.endChatDelay, s.sock.Disconnect)
	s.mu.Unlock()
	return err
}

// Close detaches all socket handlers and cancels timers. The socket itself
// belongs to the caller.
func (s *CustomerSession) Close() {
	s.mu.Lock()
	s.handlers.detach()
	if s.endTimer != nil {
		s.endTimer.Stop()
		s.endTimer = nil
	}
	s.mu.Unlock()
	s.banner.Stop()
	s.typing.Stop()
	for _, tempID := range s.acks.failAll() {
		s.conv.Fail(tempID)
	}
}

func (s *CustomerSession) Customer() (model.Customer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.customer == nil {
		return model.Customer{}, false
	}
	return *s.customer, true
}

func (s *CustomerSession) Messages() []model.ChatMessage { return s.conv.Messages() }

// Pending lists temporary ids of messages still waiting for the server.
func (s *CustomerSession) Pending() []string { return s.conv.PendingIDs() }

func (s *CustomerSession) Banner() BannerState { return s.banner.State() }

// AdminTyping reports whether the support agent is typing.
func (s *CustomerSession) AdminTyping() bool { return s.typing.Active() }

func (s *CustomerSession) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *CustomerSession) customerIDLocked() string {
	if s.customer == nil {
		return ""
	}
	return s.customer.ID
}

func (s *CustomerSession) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
