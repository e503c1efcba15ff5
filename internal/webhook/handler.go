package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/onvotar-bot/internal/models"
)

const (
	maxFormBytes = 64 * 1024
	emptyTwiML   = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

// ErrMissingFrom is returned for webhook calls without a sender.
var ErrMissingFrom = errors.New("webhook: From is required")

// Dispatcher handles a single inbound event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.Event) error
}

// Option customises the handler.
type Option func(*Handler)

// WithSignatureVerification rejects requests whose X-Twilio-Signature does not
// match publicURL and the posted form.
func WithSignatureVerification(v *SignatureVerifier, publicURL string) Option {
	return func(h *Handler) {
		h.verifier = v
		h.publicURL = publicURL
	}
}

// WithClock overrides the clock used to timestamp events.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithIDGenerator overrides how ids are generated for events without one.
func WithIDGenerator(newID func() string) Option {
	return func(h *Handler) {
		if newID != nil {
			h.newID = newID
		}
	}
}

// Handler receives Twilio WhatsApp webhooks and dispatches them as events.
// It answers 200 only after the event has been acknowledged, so Twilio
// retries deliveries that were never handled.
type Handler struct {
	dispatcher Dispatcher
	verifier   *SignatureVerifier
	publicURL  string
	logger     zerolog.Logger
	now        func() time.Time
	newID      func() string
}

// NewHandler constructs a webhook handler.
func NewHandler(dispatcher Dispatcher, logger zerolog.Logger, opts ...Option) (*Handler, error) {
	if dispatcher == nil {
		return nil, errors.New("webhook: dispatcher is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	h := &Handler{
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "webhook_handler").Logger(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register mounts the webhook on the router.
func (h *Handler) Register(r chi.Router, path string) {
	r.Post(path, h.HandleInbound)
}

// HandleInbound handles POST requests from Twilio.
func (h *Handler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.logger.Warn().Err(err).Msg("webhook: malformed form")
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}

	if h.verifier != nil {
		if err := h.verifier.Verify(r.Header.Get(SignatureHeader), h.signedURL(r), r.PostForm); err != nil {
			h.logger.Warn().Err(err).Msg("webhook: rejected unsigned request")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	ev, err := EventFromForm(r.PostForm, h.newID, h.now)
	if err != nil {
		h.logger.Warn().Err(err).Msg("webhook: unusable event")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec := &ackRecorder{}
	// the engine logs the outcome; the status code only reflects the ack
	_ = h.dispatcher.Dispatch(withRecorder(r.Context(), rec), ev)

	if !rec.has(models.AckDefault) {
		http.Error(w, "event not acknowledged", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

func (h *Handler) signedURL(r *http.Request) string {
	u := h.publicURL
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

// EventFromForm maps a Twilio webhook form onto an event. Status callbacks
// become receipts, media and location messages become OtherMessage and
// everything else is a TextMessage.
func EventFromForm(form url.Values, newID func() string, now func() time.Time) (models.Event, error) {
	id := firstNonEmpty(form.Get("MessageSid"), form.Get("SmsMessageSid"), form.Get("SmsSid"))
	if id == "" && newID != nil {
		id = newID()
	}
	ts := time.Time{}
	if now != nil {
		ts = now()
	}

	if status := strings.TrimSpace(form.Get("MessageStatus")); status != "" {
		// status callbacks describe a message we sent, so the chat is To
		from := firstNonEmpty(form.Get("To"), form.Get("From"))
		if from == "" {
			return nil, ErrMissingFrom
		}
		return models.Receipt{ID: id, From: from, Status: strings.ToLower(status), ReceivedAt: ts}, nil
	}

	from := strings.TrimSpace(form.Get("From"))
	if from == "" {
		return nil, ErrMissingFrom
	}

	if typ := nonTextType(form); typ != "" {
		return models.OtherMessage{ID: id, From: from, Type: typ, ReceivedAt: ts}, nil
	}
	return models.TextMessage{ID: id, From: from, Body: form.Get("Body"), ReceivedAt: ts}, nil
}

func nonTextType(form url.Values) string {
	if typ := strings.ToLower(strings.TrimSpace(form.Get("MessageType"))); typ != "" && typ != models.MessageTypeText {
		return typ
	}
	if n, err := strconv.Atoi(strings.TrimSpace(form.Get("NumMedia"))); err == nil && n > 0 {
		return models.MessageTypeMedia
	}
	if form.Get("Latitude") != "" || form.Get("Longitude") != "" {
		return "location"
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
