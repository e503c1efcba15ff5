package worker

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/onvotar-bot/internal/lookup"
	"github.com/example/onvotar-bot/internal/metrics"
	"github.com/example/onvotar-bot/internal/reply"
	"github.com/example/onvotar-bot/internal/validation"
)

// Outcomes recorded per event. Validation failures use the validation
// category as their outcome.
const (
	OutcomeFound        = "found"
	OutcomeNotFound     = "not_found"
	OutcomeLookupFailed = "lookup_failed"
	OutcomeIgnored      = "ignored"
	OutcomeReceipt      = "receipt"
	OutcomeUnsupported  = "unsupported"
)

const defaultLookupTimeout = 5 * time.Second

// Reply is the result of handling one inbound text: the texts to send, in
// order, and how the text was resolved. Err is set only for lookup failures.
type Reply struct {
	Messages []string
	Outcome  string
	Err      error
}

// ResponderConfig tunes the responder.
type ResponderConfig struct {
	LookupTimeout time.Duration
	// ReplyOnLookupFailure sends reply.LookupFailure when the lookup errors.
	// When false the sender gets no reply in that case.
	ReplyOnLookupFailure bool
}

// Responder turns inbound text into replies: validation, lookup and
// formatting. It holds no per-message state and is safe for concurrent use.
type Responder struct {
	cfg     ResponderConfig
	lookup  lookup.Client
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewResponder constructs a Responder.
func NewResponder(cfg ResponderConfig, client lookup.Client, m *metrics.Metrics, logger zerolog.Logger) (*Responder, error) {
	if client == nil {
		return nil, errors.New("responder: lookup client is required")
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Responder{
		cfg:     cfg,
		lookup:  client,
		metrics: m,
		logger:  logger.With().Str("component", "responder").Logger(),
		now:     time.Now,
	}, nil
}

// Respond validates text and, when the three fields are well formed, performs
// the lookup with a bounded timeout.
func (r *Responder) Respond(ctx context.Context, text string) Reply {
	fields, err := validation.Validate(text)
	if err != nil {
		outcome := string(validation.CategoryWrongFieldCount)
		if cat, ok := validation.CategoryOf(err); ok {
			outcome = string(cat)
		}
		return Reply{Messages: reply.ForValidationError(err), Outcome: outcome}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	start := r.now()
	res, err := r.lookup.Lookup(lookupCtx, fields)
	elapsed := r.now().Sub(start)
	if err != nil {
		r.metrics.ObserveLookup("error", elapsed)
		return r.failure(err)
	}

	text, err = reply.ForResult(res)
	if err != nil {
		r.metrics.ObserveLookup("malformed", elapsed)
		return r.failure(err)
	}

	if !res.Found() {
		r.metrics.ObserveLookup("not_found", elapsed)
		return Reply{Messages: []string{text}, Outcome: OutcomeNotFound}
	}
	r.metrics.ObserveLookup("found", elapsed)
	return Reply{Messages: []string{text}, Outcome: OutcomeFound}
}

func (r *Responder) failure(err error) Reply {
	out := Reply{Outcome: OutcomeLookupFailed, Err: err}
	if r.cfg.ReplyOnLookupFailure {
		out.Messages = []string{reply.LookupFailure}
	}
	return out
}
