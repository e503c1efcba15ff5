package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/onvotar-bot/internal/models"
)

var (
	// ErrEmptyPayload is returned for records without a value.
	ErrEmptyPayload = errors.New("worker: payload is empty")
	// ErrMissingSender is returned for envelopes without a sender.
	ErrMissingSender = errors.New("worker: sender is required")
	// ErrUnsupportedKind is returned for envelopes that are neither messages nor receipts.
	ErrUnsupportedKind = errors.New("worker: unsupported event kind")
)

// DecodeEvent parses an inbound envelope into one of the event variants.
// Missing ids are generated with newID and missing timestamps set from now.
func DecodeEvent(payload []byte, newID func() string, now func() time.Time) (models.Event, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	var env models.InboundEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("worker: decode envelope: %w", err)
	}

	from := strings.TrimSpace(env.From)
	if from == "" {
		return nil, ErrMissingSender
	}
	id := strings.TrimSpace(env.ID)
	if id == "" && newID != nil {
		id = newID()
	}
	ts := env.Timestamp
	if ts.IsZero() && now != nil {
		ts = now()
	}

	switch strings.ToLower(strings.TrimSpace(env.Kind)) {
	case models.EventKindMessage:
		typ := strings.ToLower(strings.TrimSpace(env.Type))
		if typ == "" || typ == models.MessageTypeText {
			return models.TextMessage{ID: id, From: from, Body: env.Body, ReceivedAt: ts}, nil
		}
		return models.OtherMessage{ID: id, From: from, Type: typ, ReceivedAt: ts}, nil
	case models.EventKindReceipt:
		return models.Receipt{ID: id, From: from, Status: strings.TrimSpace(env.Status), ReceivedAt: ts}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, env.Kind)
	}
}
