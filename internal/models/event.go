package models

import "time"

// Event kinds as they appear on the wire and in logs.
const (
	EventKindMessage = "message"
	EventKindReceipt = "receipt"
)

// Message types. Anything other than text is treated as media and ignored.
const (
	MessageTypeText  = "text"
	MessageTypeMedia = "media"
)

// AckMode selects which acknowledgement is issued for an inbound event.
type AckMode string

const (
	// AckDefault confirms the event reached the responder.
	AckDefault AckMode = "default"
	// AckReceipt confirms a message as read. Only issued for message events.
	AckReceipt AckMode = "receipt"
)

// Event is an inbound protocol event. The set of implementations is closed:
// TextMessage, OtherMessage and Receipt.
type Event interface {
	EventID() string
	SenderID() string
	Kind() string
	isEvent()
}

// TextMessage is a message event carrying a text body.
type TextMessage struct {
	ID         string
	From       string
	Body       string
	ReceivedAt time.Time
}

// OtherMessage is a message event of any non-text type. Its content is never
// read.
type OtherMessage struct {
	ID         string
	From       string
	Type       string
	ReceivedAt time.Time
}

// Receipt is a delivery or read receipt for a message sent earlier.
type Receipt struct {
	ID         string
	From       string
	Status     string
	ReceivedAt time.Time
}

func (m TextMessage) EventID() string  { return m.ID }
func (m TextMessage) SenderID() string { return m.From }
func (m TextMessage) Kind() string     { return EventKindMessage }
func (TextMessage) isEvent()           {}

func (m OtherMessage) EventID() string  { return m.ID }
func (m OtherMessage) SenderID() string { return m.From }
func (m OtherMessage) Kind() string     { return EventKindMessage }
func (OtherMessage) isEvent()           {}

func (r Receipt) EventID() string  { return r.ID }
func (r Receipt) SenderID() string { return r.From }
func (r Receipt) Kind() string     { return EventKindReceipt }
func (Receipt) isEvent()           {}

// AckModes returns the acknowledgements an event requires, in the order they
// must be issued.
func AckModes(ev Event) []AckMode {
	if ev == nil {
		return nil
	}
	if ev.Kind() == EventKindMessage {
		return []AckMode{AckDefault, AckReceipt}
	}
	return []AckMode{AckDefault}
}

// OutboundMessage is a text reply addressed to a single recipient.
type OutboundMessage struct {
	ID        string
	InReplyTo string
	To        string
	Body      string
}
