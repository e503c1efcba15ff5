package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scenario enumerates supported behaviours for the mock WhatsApp provider.
type Scenario string

const (
	ScenarioSuccess   Scenario = "success"
	ScenarioTransient Scenario = "transient"
	ScenarioPermanent Scenario = "permanent"
	ScenarioTimeout   Scenario = "timeout"
)

// Option customises the mock provider at construction time.
type Option func(*MockProvider)

// WithScenario overrides the default scenario.
func WithScenario(s Scenario) Option {
	return func(p *MockProvider) {
		p.scenario = s
	}
}

// WithLatency sets the artificial latency inserted before responding.
func WithLatency(d time.Duration) Option {
	return func(p *MockProvider) {
		if d < 0 {
			d = 0
		}
		p.latency = d
	}
}

// WithClock swaps out the clock for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(p *MockProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// MockProvider is an in-memory WhatsApp provider. It keeps every accepted
// payload so tests and the local webhook mode can inspect the replies.
type MockProvider struct {
	scenario Scenario
	latency  time.Duration
	now      func() time.Time

	mu   sync.Mutex
	sent []Payload
}

// NewMockProvider constructs a new mock WhatsApp provider.
func NewMockProvider(logger zerolog.Logger, opts ...Option) *MockProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	p := &MockProvider{
		scenario: ScenarioSuccess,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	logger.Info().
		Str("scenario", string(p.scenario)).
		Dur("latency", p.latency).
		Msg("whatsapp mock: configured")
	return p
}

// Send simulates sending a WhatsApp payload.
func (p *MockProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("whatsapp mock: payload is required")
	}
	if strings.TrimSpace(payload.To) == "" {
		return nil, errors.New("whatsapp mock: recipient is required")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	resp := &RawResponse{
		ID:        payload.MessageID,
		Code:      200,
		Status:    "accepted",
		Body:      "mock: message accepted",
		Timestamp: p.now(),
	}
	if resp.ID == "" {
		resp.ID = "wa-" + uuid.NewString()
	}

	switch p.scenario {
	case ScenarioSuccess:
		p.mu.Lock()
		p.sent = append(p.sent, *payload)
		p.mu.Unlock()
		return resp, nil
	case ScenarioTransient:
		resp.Code = 429
		resp.Status = "transient_failure"
		resp.Body = "mock: transient failure"
		return resp, errors.New("whatsapp mock transient error: rate limited")
	case ScenarioPermanent:
		resp.Code = 400
		resp.Status = "permanent_failure"
		resp.Body = "mock: permanent failure"
		return resp, errors.New("whatsapp mock permanent error: invalid recipient")
	case ScenarioTimeout:
		<-ctx.Done()
		return resp, ctx.Err()
	default:
		resp.Status = "unknown"
		resp.Body = "mock: unknown scenario"
		return resp, fmt.Errorf("whatsapp mock unknown scenario: %s", p.scenario)
	}
}

// Sent returns a copy of every payload accepted so far.
func (p *MockProvider) Sent() []Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Payload(nil), p.sent...)
}
