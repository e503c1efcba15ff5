package worker_test

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/onvotar-bot/internal/lookup"
	"github.com/example/onvotar-bot/internal/models"
	"github.com/example/onvotar-bot/internal/reply"
	"github.com/example/onvotar-bot/internal/validation"
	"github.com/example/onvotar-bot/internal/worker"
)

const sender = "34600111222@s.whatsapp.net"

type ackCall struct {
	eventID string
	mode    models.AckMode
	ctxErr  error
}

type transportStub struct {
	mu      sync.Mutex
	sent    []models.OutboundMessage
	acks    []ackCall
	sendErr error
	ackErr  error

	// failOnCancel makes Send fail on a cancelled context, like the Kafka
	// publisher does.
	failOnCancel bool
}

func (s *transportStub) Send(ctx context.Context, msg models.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	if s.failOnCancel && ctx.Err() != nil {
		return ctx.Err()
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *transportStub) Ack(ctx context.Context, ev models.Event, mode models.AckMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, ackCall{eventID: ev.EventID(), mode: mode, ctxErr: ctx.Err()})
	return s.ackErr
}

func (s *transportStub) snapshot() ([]models.OutboundMessage, []ackCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutboundMessage(nil), s.sent...), append([]ackCall(nil), s.acks...)
}

type panicResponder struct{}

func (panicResponder) Respond(context.Context, string) worker.Reply {
	panic("lookup exploded")
}

func newEngine(t *testing.T, client lookup.Client, tr worker.Transport, logBuf *bytes.Buffer) *worker.Engine {
	t.Helper()
	responder, err := worker.NewResponder(worker.ResponderConfig{LookupTimeout: time.Second, ReplyOnLookupFailure: true}, client, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected responder error: %v", err)
	}
	return newEngineWithResponder(t, responder, tr, logBuf)
}

func newEngineWithResponder(t *testing.T, responder worker.TextResponder, tr worker.Transport, logBuf *bytes.Buffer) *worker.Engine {
	t.Helper()
	logger := zerolog.Nop()
	if logBuf != nil {
		logger = zerolog.New(logBuf)
	}
	fp, err := worker.NewFingerprinter([]byte("test-key"))
	if err != nil {
		t.Fatalf("unexpected fingerprinter error: %v", err)
	}
	var ids atomic.Int32
	engine, err := worker.NewEngine(worker.Config{WorkerConcurrency: 2}, worker.Dependencies{
		Responder:     responder,
		Transport:     tr,
		Fingerprinter: fp,
		Logger:        logger,
		Now:           func() time.Time { return time.Unix(0, 0).UTC() },
		NewID: func() string {
			return "out-" + strconv.Itoa(int(ids.Add(1)))
		},
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	return engine
}

func assertAcks(t *testing.T, acks []ackCall, want ...models.AckMode) {
	t.Helper()
	if len(acks) != len(want) {
		t.Fatalf("expected %d acks, got %+v", len(want), acks)
	}
	for i, mode := range want {
		if acks[i].mode != mode {
			t.Fatalf("ack %d: expected mode %s, got %s", i, mode, acks[i].mode)
		}
	}
}

func TestDispatchValidTextFound(t *testing.T) {
	tr := &transportStub{}
	engine := newEngine(t, lookup.NewMockClient(zerolog.Nop()), tr, nil)

	err := engine.Dispatch(context.Background(), models.TextMessage{ID: "in-1", From: sender, Body: "00001714N 01/10/2017 01234"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent, acks := tr.snapshot()
	if len(sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(sent))
	}
	want, _ := reply.ForResult(lookup.Result{Fields: lookup.SampleRecord})
	if sent[0].Body != want || sent[0].To != sender || sent[0].InReplyTo != "in-1" {
		t.Fatalf("unexpected reply %+v", sent[0])
	}
	assertAcks(t, acks, models.AckDefault, models.AckReceipt)
}

func TestDispatchNotFound(t *testing.T) {
	tr := &transportStub{}
	engine := newEngine(t, lookup.NewMockClient(zerolog.Nop(), lookup.WithMockScenario(lookup.ScenarioNotFound)), tr, nil)

	if err := engine.Dispatch(context.Background(), models.TextMessage{ID: "in-2", From: sender, Body: "00001714N 01102017 01234"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent, _ := tr.snapshot()
	if len(sent) != 1 || sent[0].Body != reply.NotFound {
		t.Fatalf("expected not found reply, got %+v", sent)
	}
}

func TestDispatchWrongFieldCountSendsDisclaimer(t *testing.T) {
	tr := &transportStub{}
	client := lookup.NewMockClient(zerolog.Nop())
	engine := newEngine(t, client, tr, nil)

	if err := engine.Dispatch(context.Background(), models.TextMessage{ID: "in-3", From: sender, Body: "0000 1714N 01/10/2017 01234"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent, acks := tr.snapshot()
	if len(sent) != 2 {
		t.Fatalf("expected usage and disclaimer, got %d replies", len(sent))
	}
	if !strings.Contains(sent[0].Body, "00001714N 01/10/2017 01234") {
		t.Fatalf("usage reply missing example: %q", sent[0].Body)
	}
	if sent[1].Body != reply.Disclaimer {
		t.Fatalf("expected disclaimer second, got %q", sent[1].Body)
	}
	if client.Calls() != 0 {
		t.Fatalf("lookup must not run for invalid input")
	}
	assertAcks(t, acks, models.AckDefault, models.AckReceipt)
}

func TestDispatchPostalCodeErrorHasNoDisclaimer(t *testing.T) {
	tr := &transportStub{}
	engine := newEngine(t, lookup.NewMockClient(zerolog.Nop()), tr, nil)

	if err := engine.Dispatch(context.Background(), models.TextMessage{ID: "in-4", From: sender, Body: "00001714N 01102017 1234"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent, _ := tr.snapshot()
	if len(sent) != 1 || sent[0].Body != validation.ErrBadPostalCodeFormat.Message() {
		t.Fatalf("expected postal code reply only, got %+v", sent)
	}
}

func TestDispatchOtherMessageOnlyAcks(t *testing.T) {
	tr := &transportStub{}
	engine := newEngine(t, lookup.NewMockClient(zerolog.Nop()), tr, nil)

	if err := engine.Dispatch(context.Background(), models.OtherMessage{ID: "in-5", From: sender, Type: "image"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent, acks := tr.snapshot()
	if len(sent) != 0 {
		t.Fatalf("expected no replies for media, got %d", len(sent))
	}
	assertAcks(t, acks, models.AckDefault, models.AckReceipt)
}

func TestDispatchReceiptOnlyAcksOnce(t *testing.T) {
	tr := &transportStub{}
	engine := newEngine(t, lookup.NewMockClient(zerolog.Nop()), tr, nil)

	if err := engine.Dispatch(context.Background(), models.Receipt{ID: "rcpt-1", From: sender, Status: "read"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent, acks := tr.snapshot()
	if len(sent) != 0 {
		t.Fatalf("expected no replies for receipts")
	}
	assertAcks(t, acks, models.AckDefault)
	if acks[0].eventID != "rcpt-1" {
		t.Fatalf("unexpected acked event %q", acks[0].eventID)
	}
}

func TestDispatchAcksWhenSendFails(t *testing.T) {
	sendErr := errors.New("session closed")
	tr := &transportStub{sendErr: sendErr}
	engine := newEngine(t, lookup.NewMockClient(zerolog.Nop()), tr, nil)

	err := engine.Dispatch(context.Background(), models.TextMessage{ID: "in-6", From: sender, Body: "hola"})
	if !errors.Is(err, sendErr) {
		t.Fatalf("expected send error, got %v", err)
	}
	_, acks := tr.snapshot()
	assertAcks(t, acks, models.AckDefault, models.AckReceipt)
}

func TestDispatchAcksWhenLookupFails(t *testing.T) {
	tr := &transportStub{}
	engine := newEngine(t, lookup.NewMockClient(zerolog.Nop(), lookup.WithMockScenario(lookup.ScenarioError)), tr, nil)

	err := engine.Dispatch(context.Background(), models.TextMessage{ID: "in-7", From: sender, Body: "00001714N 01/10/2017 01234"})
	if !errors.Is(err, lookup.ErrUnavailable) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	sent, acks := tr.snapshot()
	if len(sent) != 1 || sent[0].Body != reply.LookupFailure {
		t.Fatalf("expected lookup failure reply, got %+v", sent)
	}
	assertAcks(t, acks, models.AckDefault, models.AckReceipt)
}

func TestDispatchAcksWhenResponderPanics(t *testing.T) {
	tr := &transportStub{}
	engine := newEngineWithResponder(t, panicResponder{}, tr, nil)

	err := engine.Dispatch(context.Background(), models.TextMessage{ID: "in-8", From: sender, Body: "x"})
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("expected panic to surface as error, got %v", err)
	}
	_, acks := tr.snapshot()
	assertAcks(t, acks, models.AckDefault, models.AckReceipt)
}

func TestDispatchAcksOnCancelledContext(t *testing.T) {
	tr := &transportStub{}
	engine := newEngine(t, lookup.NewMockClient(zerolog.Nop()), tr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_ = engine.Dispatch(ctx, models.TextMessage{ID: "in-9", From: sender, Body: "00001714N 01/10/2017 01234"})
	_, acks := tr.snapshot()
	assertAcks(t, acks, models.AckDefault, models.AckReceipt)
	for _, ack := range acks {
		if ack.ctxErr != nil {
			t.Fatalf("ack context must not inherit cancellation, got %v", ack.ctxErr)
		}
	}
}

func TestDispatchReportsAckFailure(t *testing.T) {
	ackErr := errors.New("ack rejected")
	tr := &transportStub{ackErr: ackErr}
	engine := newEngine(t, lookup.NewMockClient(zerolog.Nop()), tr, nil)

	err := engine.Dispatch(context.Background(), models.Receipt{ID: "rcpt-2", From: sender})
	if !errors.Is(err, ackErr) {
		t.Fatalf("expected ack error, got %v", err)
	}
}

func TestDispatchLogsOneRedactedLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	tr := &transportStub{sendErr: errors.New("cannot deliver to 34600111222")}
	engine := newEngine(t, lookup.NewMockClient(zerolog.Nop()), tr, &buf)

	body := "00001714N 01/10/2017 01234"
	_ = engine.Dispatch(context.Background(), models.TextMessage{ID: "in-10", From: sender, Body: body})

	out := buf.String()
	if lines := strings.Count(out, "\n"); lines != 1 {
		t.Fatalf("expected exactly one log line, got %d: %s", lines, out)
	}
	for _, secret := range []string{"34600111222", "00001714N", "01/10/2017", "20171001", "01234"} {
		if strings.Contains(out, secret) {
			t.Fatalf("log line leaks %q: %s", secret, out)
		}
	}
	if !strings.Contains(out, `"sender":"346..."`) || !strings.Contains(out, `"sender_fp":"`) {
		t.Fatalf("log line missing masked sender or fingerprint: %s", out)
	}
}

func TestHandleRecordCommitsAfterDispatch(t *testing.T) {
	tr := &transportStub{}
	engine := newEngine(t, lookup.NewMockClient(zerolog.Nop()), tr, nil)

	committed := make(chan struct{})
	payload := []byte(`{"id":"in-11","kind":"message","type":"text","from":"` + sender + `","body":"hola"}`)
	engine.HandleRecord(context.Background(), worker.NewRecord("inbound", 0, 7, payload, func(context.Context) error {
		close(committed)
		return nil
	}))

	select {
	case <-committed:
	case <-time.After(2 * time.Second):
		t.Fatalf("record was not committed")
	}
	if err := engine.Drain(context.Background()); err != nil {
		t.Fatalf("unexpected drain error: %v", err)
	}
	sent, acks := tr.snapshot()
	if len(sent) != 2 {
		t.Fatalf("expected usage and disclaimer, got %d", len(sent))
	}
	assertAcks(t, acks, models.AckDefault, models.AckReceipt)
}

func TestHandleRecordFinishesAfterSessionCancel(t *testing.T) {
	tr := &transportStub{failOnCancel: true}
	slow := lookup.ClientFunc(func(ctx context.Context, _ validation.Fields) (lookup.Result, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return lookup.Result{Fields: lookup.SampleRecord}, nil
		case <-ctx.Done():
			return lookup.Result{}, ctx.Err()
		}
	})
	engine := newEngine(t, slow, tr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	committed := make(chan struct{})
	payload := []byte(`{"id":"in-12","kind":"message","type":"text","from":"` + sender + `","body":"00001714N 01/10/2017 01234"}`)
	engine.HandleRecord(ctx, worker.NewRecord("inbound", 0, 9, payload, func(context.Context) error {
		close(committed)
		return nil
	}))

	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := engine.Drain(context.Background()); err != nil {
		t.Fatalf("unexpected drain error: %v", err)
	}
	select {
	case <-committed:
	default:
		t.Fatalf("record was not committed after drain")
	}

	sent, acks := tr.snapshot()
	want, _ := reply.ForResult(lookup.Result{Fields: lookup.SampleRecord})
	if len(sent) != 1 || sent[0].Body != want {
		t.Fatalf("expected the polling place reply after cancellation, got %+v", sent)
	}
	assertAcks(t, acks, models.AckDefault, models.AckReceipt)
}

func TestHandleRecordCommitsUndecodablePayload(t *testing.T) {
	tr := &transportStub{}
	engine := newEngine(t, lookup.NewMockClient(zerolog.Nop()), tr, nil)

	commits := 0
	engine.HandleRecord(context.Background(), worker.NewRecord("inbound", 0, 8, []byte("{"), func(context.Context) error {
		commits++
		return nil
	}))
	if commits != 1 {
		t.Fatalf("expected undecodable record to be committed synchronously, got %d commits", commits)
	}
	if _, acks := tr.snapshot(); len(acks) != 0 {
		t.Fatalf("nothing to acknowledge for undecodable records")
	}
}

func TestNewEngineValidatesDependencies(t *testing.T) {
	responder, _ := worker.NewResponder(worker.ResponderConfig{}, lookup.NewMockClient(zerolog.Nop()), nil, zerolog.Nop())
	if _, err := worker.NewEngine(worker.Config{WorkerConcurrency: 0}, worker.Dependencies{Responder: responder, Transport: &transportStub{}}); err == nil {
		t.Fatalf("expected error for zero concurrency")
	}
	if _, err := worker.NewEngine(worker.Config{WorkerConcurrency: 1}, worker.Dependencies{Transport: &transportStub{}}); err == nil {
		t.Fatalf("expected error for missing responder")
	}
	if _, err := worker.NewEngine(worker.Config{WorkerConcurrency: 1}, worker.Dependencies{Responder: responder}); err == nil {
		t.Fatalf("expected error for missing transport")
	}
}
