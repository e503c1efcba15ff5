package worker

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/onvotar-bot/internal/metrics"
	"github.com/example/onvotar-bot/internal/models"
)

const (
	defaultAckTimeout    = 10 * time.Second
	defaultHandleTimeout = 30 * time.Second
)

// Config contains the runtime settings of the engine.
type Config struct {
	// WorkerConcurrency bounds how many records HandleRecord processes at once.
	WorkerConcurrency int
	// AckTimeout bounds every acknowledgement call. Acks run on a context that
	// is detached from the caller's cancellation.
	AckTimeout time.Duration
	// HandleTimeout bounds the handling of one Kafka record. Handlings are
	// detached from the consumer session, so a rebalance or shutdown lets
	// in-flight events finish their reply before Drain returns.
	HandleTimeout time.Duration
}

// Transport is the chat session boundary: deliver a text and acknowledge an
// inbound event.
type Transport interface {
	Send(ctx context.Context, msg models.OutboundMessage) error
	Ack(ctx context.Context, ev models.Event, mode models.AckMode) error
}

// TextResponder produces the replies for an inbound text.
type TextResponder interface {
	Respond(ctx context.Context, text string) Reply
}

// Dependencies collects the runtime collaborators required by the engine.
type Dependencies struct {
	Responder     TextResponder
	Transport     Transport
	Fingerprinter *Fingerprinter
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
	Now           func() time.Time
	NewID         func() string
}

// Engine is the event dispatcher. Every event passed to Dispatch is
// acknowledged, whatever happens while handling it.
type Engine struct {
	cfg         Config
	responder   TextResponder
	transport   Transport
	fingerprint *Fingerprinter
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	semaphore *semaphore.Weighted

	now   func() time.Time
	newID func() string
}

// NewEngine constructs an engine using the supplied configuration and
// collaborators.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if cfg.WorkerConcurrency < 1 {
		return nil, errors.New("worker: worker concurrency must be >= 1")
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = defaultHandleTimeout
	}
	if deps.Responder == nil {
		return nil, errors.New("worker: responder dependency is required")
	}
	if deps.Transport == nil {
		return nil, errors.New("worker: transport dependency is required")
	}

	fp := deps.Fingerprinter
	if fp == nil {
		var err error
		fp, err = NewFingerprinter(nil)
		if err != nil {
			return nil, fmt.Errorf("worker: %w", err)
		}
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "worker_engine").Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &Engine{
		cfg:         cfg,
		responder:   deps.Responder,
		transport:   deps.Transport,
		fingerprint: fp,
		metrics:     deps.Metrics,
		logger:      logger,
		semaphore:   semaphore.NewWeighted(int64(cfg.WorkerConcurrency)),
		now:         nowFunc,
		newID:       newID,
	}, nil
}

type handling struct {
	outcome string
	replies int
	err     error
}

// Dispatch handles a single event synchronously: text messages are answered,
// other messages ignored and receipts only acknowledged. Acknowledgement and
// the event's log line happen in a deferred block, so they also run when a
// send fails, the lookup fails or a collaborator panics.
func (e *Engine) Dispatch(ctx context.Context, ev models.Event) (err error) {
	if ev == nil {
		return errors.New("worker: event is nil")
	}

	start := e.now()
	done := e.metrics.TrackInFlight()
	h := &handling{outcome: OutcomeUnsupported}

	defer func() {
		if r := recover(); r != nil {
			h.err = errors.Join(h.err, fmt.Errorf("worker: panic while handling event: %v", r))
		}
		ackErr := e.acknowledge(ctx, ev)
		err = errors.Join(h.err, ackErr)
		done()
		e.metrics.IncrementOutcome(h.outcome)
		e.logEvent(ev, h, e.now().Sub(start), err)
	}()

	h.err = e.handle(ctx, ev, h)
	return nil
}

func (e *Engine) handle(ctx context.Context, ev models.Event, h *handling) error {
	switch msg := ev.(type) {
	case models.TextMessage:
		e.metrics.IncrementEvent(models.EventKindMessage, models.MessageTypeText)
		rep := e.responder.Respond(ctx, msg.Body)
		h.outcome = rep.Outcome
		sendErr := e.sendAll(ctx, msg, rep.Messages, h)
		return errors.Join(rep.Err, sendErr)
	case models.OtherMessage:
		e.metrics.IncrementEvent(models.EventKindMessage, models.MessageTypeMedia)
		h.outcome = OutcomeIgnored
		return nil
	case models.Receipt:
		e.metrics.IncrementEvent(models.EventKindReceipt, "")
		h.outcome = OutcomeReceipt
		return nil
	default:
		return fmt.Errorf("worker: unsupported event type %T", ev)
	}
}

func (e *Engine) sendAll(ctx context.Context, msg models.TextMessage, texts []string, h *handling) error {
	for i, text := range texts {
		out := models.OutboundMessage{
			ID:        e.newID(),
			InReplyTo: msg.ID,
			To:        msg.From,
			Body:      text,
		}
		err := e.transport.Send(ctx, out)
		e.metrics.IncrementSend(err)
		if err != nil {
			return fmt.Errorf("worker: send reply %d of %d: %w", i+1, len(texts), err)
		}
		h.replies++
	}
	return nil
}

func (e *Engine) acknowledge(ctx context.Context, ev models.Event) error {
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.AckTimeout)
	defer cancel()

	var errs []error
	for _, mode := range models.AckModes(ev) {
		err := e.transport.Ack(ackCtx, ev, mode)
		e.metrics.IncrementAck(string(mode), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("worker: ack %s: %w", mode, err))
		}
	}
	return errors.Join(errs...)
}

// digitRuns matches anything long enough to be a phone number, document id,
// date or postal code.
var digitRuns = regexp.MustCompile(`[0-9]{5,}`)

func (e *Engine) logEvent(ev models.Event, h *handling, elapsed time.Duration, err error) {
	level := zerolog.InfoLevel
	if err != nil {
		level = zerolog.WarnLevel
	}

	entry := e.logger.WithLevel(level).
		Str("event_id", ev.EventID()).
		Str("kind", ev.Kind()).
		Str("sender", MaskSender(ev.SenderID())).
		Str("sender_fp", e.fingerprint.Sum(ev.SenderID())).
		Str("outcome", h.outcome).
		Int("replies", h.replies).
		Dur("duration", elapsed)
	if err != nil {
		entry = entry.Str("error", digitRuns.ReplaceAllString(err.Error(), "[redacted]"))
	}
	entry.Msg("worker: event handled")
}

// HandleRecord decodes a Kafka record and dispatches it asynchronously,
// bounded by the configured concurrency. The record is committed once the
// event has been handled, or immediately when it cannot be decoded.
func (e *Engine) HandleRecord(ctx context.Context, record *Record) {
	if record == nil {
		return
	}

	ev, err := DecodeEvent(record.Value, e.newID, e.now)
	if err != nil {
		e.logger.Warn().
			Str("topic", record.Topic).
			Int32("partition", record.Partition).
			Int64("offset", record.Offset).
			Err(err).
			Msg("worker: discarding undecodable record")
		e.commitRecord(ctx, record)
		return
	}

	if err := e.semaphore.Acquire(ctx, 1); err != nil {
		e.logger.Error().
			Str("event_id", ev.EventID()).
			Err(err).
			Msg("worker: failed to acquire concurrency semaphore")
		return
	}

	recCopy := record.Clone()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer e.semaphore.Release(1)
		handleCtx, cancel := context.WithTimeout(detached, e.cfg.HandleTimeout)
		defer cancel()
		_ = e.Dispatch(handleCtx, ev)
		e.commitRecord(detached, recCopy)
	}()
}

// Drain blocks until every in-flight HandleRecord goroutine has finished or
// ctx is done.
func (e *Engine) Drain(ctx context.Context) error {
	if err := e.semaphore.Acquire(ctx, int64(e.cfg.WorkerConcurrency)); err != nil {
		return fmt.Errorf("worker: drain: %w", err)
	}
	e.semaphore.Release(int64(e.cfg.WorkerConcurrency))
	return nil
}

func (e *Engine) commitRecord(ctx context.Context, record *Record) {
	if err := record.Commit(ctx); err != nil {
		e.logger.Error().
			Str("topic", record.Topic).
			Int32("partition", record.Partition).
			Int64("offset", record.Offset).
			Err(err).
			Msg("worker: failed to commit record offset")
	}
}
