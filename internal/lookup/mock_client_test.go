package lookup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMockClientScenarios(t *testing.T) {
	found := NewMockClient(zerolog.Nop())
	res, err := found.Lookup(context.Background(), sampleFields)
	if err != nil || len(res.Fields) != DisplayFields {
		t.Fatalf("expected sample record, got %+v, %v", res, err)
	}

	notFound := NewMockClient(zerolog.Nop(), WithMockScenario(ScenarioNotFound))
	res, err = notFound.Lookup(context.Background(), sampleFields)
	if err != nil || res.Found() {
		t.Fatalf("expected empty result, got %+v, %v", res, err)
	}

	failing := NewMockClient(zerolog.Nop(), WithMockScenario(ScenarioError))
	if _, err := failing.Lookup(context.Background(), sampleFields); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if failing.Calls() != 1 {
		t.Fatalf("expected one call, got %d", failing.Calls())
	}
}

func TestMockClientTimeoutWaitsForContext(t *testing.T) {
	client := NewMockClient(zerolog.Nop(), WithMockScenario(ScenarioTimeout))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := client.Lookup(ctx, sampleFields); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestParseScenario(t *testing.T) {
	if s, err := ParseScenario(""); err != nil || s != ScenarioFound {
		t.Fatalf("expected default found scenario, got %q, %v", s, err)
	}
	if s, err := ParseScenario(" NOT_FOUND "); err != nil || s != ScenarioNotFound {
		t.Fatalf("expected not_found, got %q, %v", s, err)
	}
	if _, err := ParseScenario("bogus"); err == nil {
		t.Fatalf("expected error for unknown scenario")
	}
}
