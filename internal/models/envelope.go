package models

import "time"

// InboundEnvelope is the JSON record the chat session layer writes to the
// inbound topic for every protocol event.
type InboundEnvelope struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	From      string    `json:"from"`
	Type      string    `json:"type,omitempty"`
	Body      string    `json:"body,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OutboundEnvelope asks the session layer to deliver a text message.
type OutboundEnvelope struct {
	MessageID string    `json:"message_id"`
	InReplyTo string    `json:"in_reply_to,omitempty"`
	To        string    `json:"to"`
	Type      string    `json:"type"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// AckEnvelope asks the session layer to acknowledge an inbound event.
type AckEnvelope struct {
	EventID   string    `json:"event_id"`
	Kind      string    `json:"kind"`
	To        string    `json:"to"`
	Mode      AckMode   `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}
