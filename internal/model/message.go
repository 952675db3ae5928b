package model

import "time"

type SenderRole string

const (
	SenderCustomer SenderRole = "customer"
	SenderAdmin    SenderRole = "admin"
	SenderSystem   SenderRole = "system"
)

// DeliveryStatus only exists on the customer side, between an optimistic
// append and the server acknowledgement.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

type ChatMessage struct {
	ID         string         `json:"id"`
	CustomerID string         `json:"customerId"`
	Sender     SenderRole     `json:"sender"`
	Text       string         `json:"text"`
	Timestamp  time.Time      `json:"timestamp"`
	Read       bool           `json:"read"`
	Delivery   DeliveryStatus `json:"delivery,omitempty"`
	TempID     string         `json:"tempId,omitempty"`
}

// Pending reports whether the message is still waiting for message:sent.
func (m *ChatMessage) Pending() bool { return m.Delivery == DeliveryPending }
