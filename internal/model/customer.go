package model

import "time"

type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusResolved ConversationStatus = "resolved"
)

func (s ConversationStatus) Valid() bool {
	return s == StatusActive || s == StatusResolved
}

// Customer is a support-chat visitor. The backend owns it; clients only cache
// snapshots fetched from GET /support/customers.
type Customer struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Email        string             `json:"email"`
	Phone        string             `json:"phone"`
	Status       ConversationStatus `json:"status"`
	UnreadCount  int                `json:"unreadCount"`
	LastActivity time.Time          `json:"lastActivity"`
	LastMessage  *ChatMessage       `json:"lastMessage,omitempty"`
	Messages     []ChatMessage      `json:"messages,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
}

// Registration is the body of POST /support/register.
type Registration struct {
	Name  string `json:"name" validate:"required,min=2,max=100"`
	Email string `json:"email" validate:"required,email,max=254"`
	Phone string `json:"phone" validate:"required,phone"`
}
