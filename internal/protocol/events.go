// Package protocol defines the event names and payloads exchanged over the
// single support websocket. Both the backend hub and the client connection
// speak the same envelope: {"type": "<event>", "payload": {...}}.
package protocol

import (
	"encoding/json"

	"github.com/supportdesk/internal/model"
)

type Event string

// Connection lifecycle. These never cross the wire; the client connection
// dispatches them locally.
const (
	EventConnect      Event = "connect"
	EventDisconnect   Event = "disconnect"
	EventConnectError Event = "connect_error"
	EventError        Event = "error"
)

// Admin side.
const (
	AdminConnected     Event = "admin:connected"
	AdminJoinRoom      Event = "admin:join-room"
	AdminLeaveRoom     Event = "admin:leave-room"
	AdminLeaveAllRooms Event = "admin:leave-all-rooms"
	AdminMessage       Event = "admin:message"
	AdminRead          Event = "admin:read"
	AdminTyping        Event = "admin:typing"
	AdminStatusChange  Event = "admin:status-change"
)

// Customer side.
const (
	CustomerAuth    Event = "customer:auth"
	CustomerMessage Event = "customer:message"
	CustomerTyping  Event = "customer:typing"
	CustomerRead    Event = "customer:read"
	CustomerEndChat Event = "customer:end-chat"
)

// Delivery acknowledgement of customer:message.
const (
	MessageSent  Event = "message:sent"
	MessageError Event = "message:error"
)

// Envelope is one websocket frame.
type Envelope struct {
	Type    Event           `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outgoing is the write-side twin of Envelope; Payload is marshalled lazily
// by the writer goroutine.
type Outgoing struct {
	Type    Event `json:"type"`
	Payload any   `json:"payload,omitempty"`
}

// Encode builds an Envelope from a typed payload.
func Encode(ev Event, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: ev}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: ev, Payload: raw}, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// CustomerRef targets a conversation: join/leave room, read, typing, end-chat.
type CustomerRef struct {
	CustomerID string `json:"customerId"`
}

// ChatPayload carries a message in either direction. TempID is set by the
// customer on send and echoed back in the acknowledgement.
type ChatPayload struct {
	CustomerID string            `json:"customerId"`
	Message    model.ChatMessage `json:"message"`
	TempID     string            `json:"tempId,omitempty"`
}

// StatusPayload accompanies admin:status-change.
type StatusPayload struct {
	CustomerID string                   `json:"customerId"`
	Status     model.ConversationStatus `json:"status"`
}

// ReadPayload accompanies customer:read.
type ReadPayload struct {
	CustomerID string   `json:"customerId"`
	MessageIDs []string `json:"messageIds"`
}

// SentPayload acknowledges customer:message.
type SentPayload struct {
	MessageID string `json:"messageId"`
	TempID    string `json:"tempId,omitempty"`
}

// ErrorPayload is sent on message:error and error frames.
type ErrorPayload struct {
	TempID  string `json:"tempId,omitempty"`
	Message string `json:"message"`
}
