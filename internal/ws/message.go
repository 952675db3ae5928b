package ws

import (
	"encoding/json"
	"strings"

	"github.com/supportdesk/internal/protocol"
)

// Role of a connection, fixed at upgrade time.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
)

func outgoing(ev protocol.Event, payload any) protocol.Outgoing {
	return protocol.Outgoing{Type: ev, Payload: payload}
}

func errorFrame(msg string) protocol.Outgoing {
	return outgoing(protocol.EventError, protocol.ErrorPayload{Message: msg})
}

// customerIDOf accepts both {"customerId": "..."} and a bare JSON string, the
// two shapes clients send for customer-scoped events.
func customerIDOf(env protocol.Envelope) string {
	if len(env.Payload) == 0 {
		return ""
	}
	var ref protocol.CustomerRef
	if err := json.Unmarshal(env.Payload, &ref); err == nil {
		return strings.TrimSpace(ref.CustomerID)
	}
	var id string
	if err := json.Unmarshal(env.Payload, &id); err == nil {
		return strings.TrimSpace(id)
	}
	return ""
}
