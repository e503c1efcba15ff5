package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/onvotar-bot/internal/models"
	waprovider "github.com/example/onvotar-bot/internal/providers/whatsapp"
)

// ErrNoAckRecorder is returned by Ack outside of a webhook request.
var ErrNoAckRecorder = errors.New("webhook: no acknowledgement recorder in context")

// ackRecorder collects the acknowledgements issued while one webhook request
// is handled. Twilio learns about them through the HTTP response.
type ackRecorder struct {
	mu    sync.Mutex
	modes []models.AckMode
}

func (r *ackRecorder) record(mode models.AckMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes = append(r.modes, mode)
}

func (r *ackRecorder) has(mode models.AckMode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.modes {
		if m == mode {
			return true
		}
	}
	return false
}

type recorderKey struct{}

func withRecorder(ctx context.Context, r *ackRecorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

func recorderFrom(ctx context.Context) *ackRecorder {
	r, _ := ctx.Value(recorderKey{}).(*ackRecorder)
	return r
}

// Transport delivers replies through the WhatsApp provider and records
// acknowledgements on the in-flight webhook request.
type Transport struct {
	provider waprovider.Provider
	from     string
}

// NewTransport constructs a Transport sending from the given number.
func NewTransport(provider waprovider.Provider, from string) (*Transport, error) {
	if provider == nil {
		return nil, errors.New("webhook: provider is required")
	}
	return &Transport{provider: provider, from: from}, nil
}

// Send delivers a text reply.
func (t *Transport) Send(ctx context.Context, msg models.OutboundMessage) error {
	_, err := t.provider.Send(ctx, &waprovider.Payload{
		MessageID: msg.ID,
		From:      t.from,
		To:        msg.To,
		Body:      msg.Body,
	})
	if err != nil {
		return fmt.Errorf("webhook: send reply: %w", err)
	}
	return nil
}

// Ack records the acknowledgement on the current request.
func (t *Transport) Ack(ctx context.Context, ev models.Event, mode models.AckMode) error {
	rec := recorderFrom(ctx)
	if rec == nil {
		return ErrNoAckRecorder
	}
	rec.record(mode)
	return nil
}
