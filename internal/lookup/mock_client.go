package lookup

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/onvotar-bot/internal/validation"
)

// Scenario enumerates supported behaviours for the mock lookup client.
type Scenario string

const (
	ScenarioFound    Scenario = "found"
	ScenarioNotFound Scenario = "not_found"
	ScenarioError    Scenario = "error"
	ScenarioTimeout  Scenario = "timeout"
)

// SampleRecord is returned by the mock client in the found scenario.
var SampleRecord = []string{
	"ESCOLA PUBLICA EXEMPLE",
	"CARRER MAJOR, 1",
	"08001 BARCELONA",
	"1",
	"023",
	"A",
}

// MockOption customises the mock lookup client.
type MockOption func(*MockClient)

// WithMockScenario overrides the default scenario.
func WithMockScenario(s Scenario) MockOption {
	return func(c *MockClient) {
		if s != "" {
			c.scenario = s
		}
	}
}

// WithMockRecord overrides the record returned in the found scenario.
func WithMockRecord(fields []string) MockOption {
	return func(c *MockClient) {
		c.record = append([]string(nil), fields...)
	}
}

// WithMockLatency inserts an artificial delay before answering.
func WithMockLatency(d time.Duration) MockOption {
	return func(c *MockClient) {
		if d < 0 {
			d = 0
		}
		c.latency = d
	}
}

// MockClient is a deterministic lookup client for local runs and tests.
type MockClient struct {
	logger   zerolog.Logger
	scenario Scenario
	record   []string
	latency  time.Duration

	calls atomic.Int64
}

// NewMockClient constructs a mock lookup client.
func NewMockClient(logger zerolog.Logger, opts ...MockOption) *MockClient {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	c := &MockClient{
		logger:   logger,
		scenario: ScenarioFound,
		record:   append([]string(nil), SampleRecord...),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ParseScenario maps a configuration value onto a Scenario.
func ParseScenario(value string) (Scenario, error) {
	s := Scenario(strings.ToLower(strings.TrimSpace(value)))
	switch s {
	case "":
		return ScenarioFound, nil
	case ScenarioFound, ScenarioNotFound, ScenarioError, ScenarioTimeout:
		return s, nil
	default:
		return "", fmt.Errorf("lookup mock: unknown scenario %q", value)
	}
}

// Calls reports how many lookups were served.
func (c *MockClient) Calls() int64 {
	return c.calls.Load()
}

// Lookup simulates a lookup according to the configured scenario.
func (c *MockClient) Lookup(ctx context.Context, _ validation.Fields) (Result, error) {
	c.calls.Add(1)

	if err := ctx.Err(); err != nil {
		return Result{}, wrapUnavailable(err)
	}

	if c.latency > 0 {
		timer := time.NewTimer(c.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, wrapUnavailable(ctx.Err())
		case <-timer.C:
		}
	}

	switch c.scenario {
	case ScenarioFound:
		return Result{Fields: append([]string(nil), c.record...)}, nil
	case ScenarioNotFound:
		return Result{}, nil
	case ScenarioError:
		return Result{}, wrapUnavailable(errors.New("lookup mock: service error"))
	case ScenarioTimeout:
		<-ctx.Done()
		return Result{}, wrapUnavailable(ctx.Err())
	default:
		c.logger.Warn().Str("scenario", string(c.scenario)).Msg("lookup mock: unknown scenario")
		return Result{}, wrapRejected(fmt.Errorf("lookup mock: unknown scenario %s", c.scenario))
	}
}
