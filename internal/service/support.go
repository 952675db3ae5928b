package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/metrics"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/repository"
)

var (
	ErrEmptyText     = errors.New("message text is empty")
	ErrTextTooLong   = errors.New("message text is too long")
	ErrInvalidStatus = errors.New("invalid conversation status")
	ErrValidation    = model.ErrValidation
	ErrNotFound      = repository.ErrNotFound
)

const (
	maxTextLen          = 4000
	endChatSystemText   = "Customer ended the chat"
	reopenedSystemText  = "Customer reopened the chat"
	defaultStoreTimeout = 5 * time.Second
)

// CustomerStore is implemented by repository.CustomerRepository.
type CustomerStore interface {
	Create(ctx context.Context, c *model.Customer) error
	GetByID(ctx context.Context, id string) (*model.Customer, error)
	GetByPhone(ctx context.Context, phone string) (*model.Customer, error)
	List(ctx context.Context) ([]model.Customer, error)
	SetStatus(ctx context.Context, id string, status model.ConversationStatus) error
}

// MessageStore is implemented by repository.MessageRepository.
type MessageStore interface {
	Create(ctx context.Context, m *model.ChatMessage) error
	ListByCustomer(ctx context.Context, customerID string) ([]model.ChatMessage, error)
	// MarkRead flags messages of customerID sent by sender as read. Empty ids
	// marks all of them.
	MarkRead(ctx context.Context, customerID string, sender model.SenderRole, ids []string) (int64, error)
}

// Support is the conversation logic shared by the REST handlers and the hub.
type Support struct {
	customers CustomerStore
	messages  MessageStore
	now       func() time.Time
}

func NewSupport(customers CustomerStore, messages MessageStore) *Support {
	return &Support{customers: customers, messages: messages, now: time.Now}
}

// Register creates a customer. A phone number that is already known returns
// the existing customer with its conversation reopened.
func (s *Support) Register(ctx context.Context, reg model.Registration) (*model.Customer, error) {
	defer logger.DeferLogDuration("support.Register", time.Now())()
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	existing, err := s.customers.GetByPhone(ctx, reg.Phone)
	switch {
	case err == nil:
		if existing.Status != model.StatusActive {
			if err := s.customers.SetStatus(ctx, existing.ID, model.StatusActive); err != nil {
				return nil, fmt.Errorf("support.Register: %w", err)
			}
			existing.Status = model.StatusActive
		}
		return existing, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("support.Register: %w", err)
	}

	now := s.now().UTC()
	c := &model.Customer{
		ID:           uuid.New().String(),
		Name:         reg.Name,
		Email:        reg.Email,
		Phone:        reg.Phone,
		Status:       model.StatusActive,
		LastActivity: now,
		CreatedAt:    now,
	}
	if err := s.customers.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("support.Register: %w", err)
	}
	logger.Infof("support: registered customer %s", c.ID)
	return c, nil
}

func (s *Support) Lookup(ctx context.Context, phone string) (*model.Customer, error) {
	phone = model.NormalizePhone(phone)
	if phone == "" {
		return nil, fmt.Errorf("%w: phone is required", ErrValidation)
	}
	return s.customers.GetByPhone(ctx, phone)
}

func (s *Support) Customer(ctx context.Context, id string) (*model.Customer, error) {
	return s.customers.GetByID(ctx, id)
}

func (s *Support) Customers(ctx context.Context) ([]model.Customer, error) {
	return s.customers.List(ctx)
}

// Chat returns the ordered history of one conversation.
func (s *Support) Chat(ctx context.Context, customerID string) ([]model.ChatMessage, error) {
	if _, err := s.customers.GetByID(ctx, customerID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("support.Chat: %w", err)
	}
	return msgs, nil
}

// AdminMessage persists an admin reply.
func (s *Support) AdminMessage(ctx context.Context, customerID, text string) (*model.ChatMessage, error) {
	return s.store(ctx, customerID, model.SenderAdmin, text)
}

// CustomerMessage persists a customer message. Writing into a resolved
// conversation reopens it.
func (s *Support) CustomerMessage(ctx context.Context, customerID, text string) (*model.ChatMessage, error) {
	c, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if c.Status == model.StatusResolved {
		if err := s.customers.SetStatus(ctx, customerID, model.StatusActive); err != nil {
			return nil, fmt.Errorf("support.CustomerMessage: %w", err)
		}
		if _, err := s.store(ctx, customerID, model.SenderSystem, reopenedSystemText); err != nil {
			return nil, err
		}
	}
	return s.store(ctx, customerID, model.SenderCustomer, text)
}

func (s *Support) store(ctx context.Context, customerID string, sender model.SenderRole, text string) (*model.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if utf8.RuneCountInString(text) > maxTextLen {
		return nil, ErrTextTooLong
	}
	if sender != model.SenderCustomer {
		if _, err := s.customers.GetByID(ctx, customerID); err != nil {
			return nil, err
		}
	}
	m := &model.ChatMessage{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Sender:     sender,
		Text:       text,
		Timestamp:  s.now().UTC(),
		Read:       sender == model.SenderSystem,
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("support.store: %w", err)
	}
	metrics.MessagesStored.WithLabelValues(string(sender)).Inc()
	return m, nil
}

// MarkReadByAdmin clears the unread counter: every customer message is read.
func (s *Support) MarkReadByAdmin(ctx context.Context, customerID string) (int64, error) {
	if _, err := s.customers.GetByID(ctx, customerID); err != nil {
		return 0, err
	}
	n, err := s.messages.MarkRead(ctx, customerID, model.SenderCustomer, nil)
	if err != nil {
		return 0, fmt.Errorf("support.MarkReadByAdmin: %w", err)
	}
	return n, nil
}

// MarkReadByCustomer flags the given admin messages as read.
func (s *Support) MarkReadByCustomer(ctx context.Context, customerID string, ids []string) (int64, error) {
	n, err := s.messages.MarkRead(ctx, customerID, model.SenderAdmin, ids)
	if err != nil {
		return 0, fmt.Errorf("support.MarkReadByCustomer: %w", err)
	}
	return n, nil
}

func (s *Support) SetStatus(ctx context.Context, customerID string, status model.ConversationStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if err := s.customers.SetStatus(ctx, customerID, status); err != nil {
		return err
	}
	return nil
}

// EndChat resolves the conversation and records a system message.
func (s *Support) EndChat(ctx context.Context, customerID string) (*model.ChatMessage, error) {
	c, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.StatusResolved {
		if err := s.customers.SetStatus(ctx, customerID, model.StatusResolved); err != nil {
			return nil, fmt.Errorf("support.EndChat: %w", err)
		}
	}
	return s.store(ctx, customerID, model.SenderSystem, endChatSystemText)
}

// WithTimeout bounds one store round trip started from a websocket event.
func WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultStoreTimeout)
}
