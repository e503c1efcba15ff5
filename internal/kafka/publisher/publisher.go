package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/onvotar-bot/internal/models"
)

// ErrProducerNotInitialised is returned when the transport has no producer.
var ErrProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

// SyncProducer captures the subset of producer behaviour the transport needs.
type SyncProducer interface {
	PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error
}

// Transport is the Kafka side of the chat session: replies go to the
// outbound topic and acknowledgements to the ack topic. Both are keyed by the
// recipient so the session layer sees them in order per chat.
type Transport struct {
	producer      SyncProducer
	outboundTopic string
	ackTopic      string
	logger        zerolog.Logger
	now           func() time.Time
}

// NewTransport constructs a Transport publishing through prod.
func NewTransport(prod SyncProducer, outboundTopic, ackTopic string, logger zerolog.Logger) (*Transport, error) {
	if prod == nil {
		return nil, ErrProducerNotInitialised
	}
	if outboundTopic == "" || ackTopic == "" {
		return nil, errors.New("kafka publisher: outbound and ack topics are required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Transport{
		producer:      prod,
		outboundTopic: outboundTopic,
		ackTopic:      ackTopic,
		logger:        logger.With().Str("component", "kafka_transport").Logger(),
		now:           time.Now,
	}, nil
}

// Send publishes a text reply.
func (t *Transport) Send(ctx context.Context, msg models.OutboundMessage) error {
	env := models.OutboundEnvelope{
		MessageID: msg.ID,
		InReplyTo: msg.InReplyTo,
		To:        msg.To,
		Type:      models.MessageTypeText,
		Body:      msg.Body,
		CreatedAt: t.now().UTC(),
	}
	if err := t.publish(ctx, t.outboundTopic, msg.To, env); err != nil {
		return fmt.Errorf("kafka publisher: publish reply: %w", err)
	}
	return nil
}

// Ack publishes an acknowledgement request for ev.
func (t *Transport) Ack(ctx context.Context, ev models.Event, mode models.AckMode) error {
	if ev == nil {
		return errors.New("kafka publisher: event is required")
	}
	env := models.AckEnvelope{
		EventID:   ev.EventID(),
		Kind:      ev.Kind(),
		To:        ev.SenderID(),
		Mode:      mode,
		CreatedAt: t.now().UTC(),
	}
	if err := t.publish(ctx, t.ackTopic, ev.SenderID(), env); err != nil {
		return fmt.Errorf("kafka publisher: publish %s ack: %w", mode, err)
	}
	return nil
}

func (t *Transport) publish(ctx context.Context, topic, key string, v any) error {
	if t == nil || t.producer == nil {
		return ErrProducerNotInitialised
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	headers := map[string][]byte{
		"content-type": []byte("application/json"),
	}
	return t.producer.PublishSync(topic, []byte(key), headers, payload)
}
