package ws

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Frame is the wire shape of every event in both directions
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound payloads. Field names are the client contract.

// CallUserPayload initiates a call; the callee is addressed by id or phone
type CallUserPayload struct {
	To       string          `json:"to,omitempty"`
	ToPhone  string          `json:"toPhone,omitempty"`
	CallID   uuid.UUID       `json:"callId"`
	Offer    json.RawMessage `json:"offer"`
	CallType string          `json:"callType"`
}

// AcceptCallPayload carries the callee's answer
type AcceptCallPayload struct {
	CallID uuid.UUID       `json:"callId"`
	Answer json.RawMessage `json:"answer"`
}

// CallRefPayload references an existing call (decline/end/timeout)
type CallRefPayload struct {
	CallID uuid.UUID `json:"callId"`
}

// IceCandidatePayload relays one ICE candidate
type IceCandidatePayload struct {
	CallID    uuid.UUID       `json:"callId"`
	Candidate json.RawMessage `json:"candidate"`
}

// MessagePayload is an outgoing chat message
type MessagePayload struct {
	To       string  `json:"to,omitempty"`
	ToPhone  string  `json:"toPhone,omitempty"`
	Message  string  `json:"message"`
	Type     string  `json:"type,omitempty"`
	MediaURL *string `json:"mediaUrl,omitempty"`
	Duration int     `json:"duration,omitempty"`
}

// SeenPayload acknowledges all unseen messages from one sender
type SeenPayload struct {
	From uuid.UUID `json:"from"`
}

// Outbound payloads

// ConnectedPayload confirms the session after a successful handshake
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// CallInitiatedPayload confirms the ring went out
type CallInitiatedPayload struct {
	CallID uuid.UUID `json:"callId"`
	To     uuid.UUID `json:"to"`
}

// CallErrorPayload carries a human-readable call failure to the caller
type CallErrorPayload struct {
	CallID  uuid.UUID `json:"callId,omitempty"`
	Message string    `json:"message"`
}

// EncodeFrame marshals an event and its payload into a wire frame
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Frame{Event: event, Data: raw})
}
