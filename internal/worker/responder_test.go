package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/onvotar-bot/internal/lookup"
	"github.com/example/onvotar-bot/internal/reply"
	"github.com/example/onvotar-bot/internal/validation"
	"github.com/example/onvotar-bot/internal/worker"
)

func newResponder(t *testing.T, client lookup.Client, cfg worker.ResponderConfig) *worker.Responder {
	t.Helper()
	r, err := worker.NewResponder(cfg, client, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return r
}

func TestRespondPassesNormalizedFieldsToLookup(t *testing.T) {
	var got validation.Fields
	client := lookup.ClientFunc(func(ctx context.Context, fields validation.Fields) (lookup.Result, error) {
		got = fields
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("lookup must run with a deadline")
		}
		return lookup.Result{Fields: []string{"a", "b", "c", "1", "2", "3"}}, nil
	})
	r := newResponder(t, client, worker.ResponderConfig{LookupTimeout: time.Second})

	rep := r.Respond(context.Background(), "00001714-n 01/10/2017 01234")
	want := validation.Fields{DocumentID: "00001714N", BirthDate: "20171001", PostalCode: "01234"}
	if got != want {
		t.Fatalf("expected lookup with %+v, got %+v", want, got)
	}
	if rep.Outcome != worker.OutcomeFound || len(rep.Messages) != 1 {
		t.Fatalf("unexpected reply %+v", rep)
	}
	if rep.Messages[0] != "a\nb\nc\n\nDistricte: 1\nSecció: 2\nMesa: 3" {
		t.Fatalf("unexpected text %q", rep.Messages[0])
	}
}

func TestRespondEmptyLookupIsNotFound(t *testing.T) {
	client := lookup.ClientFunc(func(context.Context, validation.Fields) (lookup.Result, error) {
		return lookup.Result{}, nil
	})
	rep := newResponder(t, client, worker.ResponderConfig{}).Respond(context.Background(), "00001714N 01/10/2017 01234")
	if rep.Outcome != worker.OutcomeNotFound || len(rep.Messages) != 1 || rep.Messages[0] != reply.NotFound {
		t.Fatalf("unexpected reply %+v", rep)
	}
}

func TestRespondValidationOutcomes(t *testing.T) {
	client := lookup.ClientFunc(func(context.Context, validation.Fields) (lookup.Result, error) {
		t.Fatalf("lookup must not be called for invalid input")
		return lookup.Result{}, nil
	})
	r := newResponder(t, client, worker.ResponderConfig{})

	cases := map[string]validation.Category{
		"hola":                      validation.CategoryWrongFieldCount,
		"X 01/10/2017 01234":        validation.CategoryBadDocumentFormat,
		"00001714N 1/10/2017 01234": validation.CategoryBadDateFormat,
		"00001714N 01/10/2017 0123": validation.CategoryBadPostalCodeFormat,
	}
	for input, cat := range cases {
		rep := r.Respond(context.Background(), input)
		if rep.Outcome != string(cat) {
			t.Fatalf("input %q: expected outcome %s, got %s", input, cat, rep.Outcome)
		}
		if rep.Err != nil {
			t.Fatalf("input %q: validation failures are not errors, got %v", input, rep.Err)
		}
	}
}

func TestRespondLookupFailure(t *testing.T) {
	boom := errors.New("boom")
	client := lookup.ClientFunc(func(context.Context, validation.Fields) (lookup.Result, error) {
		return lookup.Result{}, boom
	})

	withReply := newResponder(t, client, worker.ResponderConfig{ReplyOnLookupFailure: true}).Respond(context.Background(), "00001714N 01/10/2017 01234")
	if !errors.Is(withReply.Err, boom) || withReply.Outcome != worker.OutcomeLookupFailed {
		t.Fatalf("unexpected reply %+v", withReply)
	}
	if len(withReply.Messages) != 1 || withReply.Messages[0] != reply.LookupFailure {
		t.Fatalf("expected lookup failure text, got %q", withReply.Messages)
	}

	silent := newResponder(t, client, worker.ResponderConfig{}).Respond(context.Background(), "00001714N 01/10/2017 01234")
	if len(silent.Messages) != 0 || !errors.Is(silent.Err, boom) {
		t.Fatalf("expected no reply and an error, got %+v", silent)
	}
}

func TestRespondMalformedResultIsFailure(t *testing.T) {
	client := lookup.ClientFunc(func(context.Context, validation.Fields) (lookup.Result, error) {
		return lookup.Result{Fields: []string{"only", "three", "fields"}}, nil
	})
	rep := newResponder(t, client, worker.ResponderConfig{}).Respond(context.Background(), "00001714N 01/10/2017 01234")
	if !errors.Is(rep.Err, reply.ErrMalformedResult) || rep.Outcome != worker.OutcomeLookupFailed {
		t.Fatalf("unexpected reply %+v", rep)
	}
}

func TestRespondBoundsLookupWithTimeout(t *testing.T) {
	client := lookup.NewMockClient(zerolog.Nop(), lookup.WithMockScenario(lookup.ScenarioTimeout))
	r := newResponder(t, client, worker.ResponderConfig{LookupTimeout: 20 * time.Millisecond})

	start := time.Now()
	rep := r.Respond(context.Background(), "00001714N 01/10/2017 01234")
	if time.Since(start) > time.Second {
		t.Fatalf("lookup was not bounded by the timeout")
	}
	if !errors.Is(rep.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", rep.Err)
	}
}

func TestNewResponderRequiresLookup(t *testing.T) {
	if _, err := worker.NewResponder(worker.ResponderConfig{}, nil, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without lookup client")
	}
}
