package whatsapp

import (
	"context"
	"time"
)

// Payload is a single text message for one WhatsApp recipient.
type Payload struct {
	MessageID string
	From      string
	To        string
	Body      string
}

// RawResponse captures the low-level provider response for a WhatsApp send.
type RawResponse struct {
	ID        string
	Code      int
	Status    string
	Body      string
	Timestamp time.Time
}

// Provider represents an outbound WhatsApp provider.
type Provider interface {
	Send(ctx context.Context, payload *Payload) (*RawResponse, error)
}
