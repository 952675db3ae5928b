// Package support holds the client-side state machines of the support chat:
// the customer page session and the admin console, plus the small pieces they
// share (connection banner, typing indicator, conversation list, pending-ack
// map and the customer list cache).
package support

import (
	"context"
	"errors"

	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/protocol"
	"github.com/supportdesk/internal/socket"
)

var (
	ErrEmptyMessage   = errors.New("support: message is empty")
	ErrNotRegistered  = errors.New("support: customer is not registered")
	ErrChatEnded      = errors.New("support: chat has ended")
	ErrNoConversation = errors.New("support: no conversation selected")
	ErrNotFailed      = errors.New("support: message is not in failed state")
	ErrValidation     = model.ErrValidation
)

// Socket is the shared real-time connection. *socket.Conn implements it; the
// application root owns its lifetime and hands it to the sessions.
type Socket interface {
	Connect()
	Disconnect()
	Connected() bool
	Emit(ev protocol.Event, payload any) error
	On(ev protocol.Event, fn socket.Handler) (off func())
}

var _ Socket = (*socket.Conn)(nil)

// CustomerAPI is the REST surface the customer page uses.
type CustomerAPI interface {
	Register(ctx context.Context, reg model.Registration) (*model.Customer, error)
	Lookup(ctx context.Context, phone string) (*model.Customer, error)
	GetChat(ctx context.Context, customerID string) ([]model.ChatMessage, error)
	SetStatus(ctx context.Context, customerID string, status model.ConversationStatus) error
}

// AdminAPI is the REST surface the admin console uses.
type AdminAPI interface {
	ListCustomers(ctx context.Context) ([]model.Customer, error)
	GetChat(ctx context.Context, customerID string) ([]model.ChatMessage, error)
	SendAdminMessage(ctx context.Context, customerID, text string) (*model.ChatMessage, error)
	MarkRead(ctx context.Context, customerID string) error
	SetStatus(ctx context.Context, customerID string, status model.ConversationStatus) error
}

type NotificationKind string

const (
	NotifyMessage NotificationKind = "message"
	NotifyInfo    NotificationKind = "info"
	NotifyError   NotificationKind = "error"
)

// Notification is a non-blocking toast.
type Notification struct {
	Kind       NotificationKind
	CustomerID string
	Title      string
	Text       string
}

type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notification) {
	if n.Kind == NotifyError {
		logger.Errorf("%s: %s", n.Title, n.Text)
		return
	}
	logger.Infof("%s: %s", n.Title, n.Text)
}

func notifierOrLog(n Notifier) Notifier {
	if n == nil {
		return LogNotifier{}
	}
	return n
}

// detach removes every handler registered through on.
type handlerSet struct {
	offs []func()
}

func (h *handlerSet) on(s Socket, ev protocol.Event, fn socket.Handler) {
	h.offs = append(h.offs, s.On(ev, fn))
}

func (h *handlerSet) detach() {
	for _, off := range h.offs {
		off()
	}
	h.offs = nil
}

func errorMessage(env protocol.Envelope) string {
	var p protocol.ErrorPayload
	if err := env.Decode(&p); err == nil && p.Message != "" {
		return p.Message
	}
	var s string
	if err := env.Decode(&s); err == nil && s != "" {
		return s
	}
	return "connection error"
}
