package consumer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

const (
	defaultClientID         = "onvotar-consumer"
	defaultSessionTimeout   = 30 * time.Second
	defaultHeartbeat        = 3 * time.Second
	defaultRebalanceTimeout = 30 * time.Second
	defaultConsumeBackoff   = time.Second
)

// Handler is invoked for every record delivered by the consumer. Returning an
// error only logs it; committing the record is the handler's job.
type Handler func(ctx context.Context, record *Record) error

// Option customises the consumer during construction.
type Option func(*options)

type options struct {
	config   *sarama.Config
	clientID string
	oldest   bool
	group    sarama.ConsumerGroup
}

// WithConfig supplies a base Sarama config. It is copied, so the caller keeps
// ownership.
func WithConfig(cfg *sarama.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.config = cfg
		}
	}
}

// WithClientID overrides the Kafka client id.
func WithClientID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.clientID = id
		}
	}
}

// WithOldestOffset makes a new consumer group start from the beginning of the
// inbound topic instead of only receiving new events.
func WithOldestOffset() Option {
	return func(o *options) { o.oldest = true }
}

// WithGroup injects an existing consumer group, mostly for tests.
func WithGroup(group sarama.ConsumerGroup) Option {
	return func(o *options) { o.group = group }
}

// Consumer reads inbound chat events from a Kafka consumer group. Offsets are
// marked once the handler commits a record, so an event that is still being
// answered is redelivered after a crash.
type Consumer struct {
	logger zerolog.Logger

	group        sarama.ConsumerGroup
	groupID      string
	commitOnAck  bool
	errorsDoneCh chan struct{}

	ready    atomic.Bool
	received atomic.Int64

	mu      sync.RWMutex
	handler Handler
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Record is a Kafka message delivered by the consumer.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte

	session sarama.ConsumerGroupSession
	message *sarama.ConsumerMessage
	offsets *partitionOffsets

	mu        sync.Mutex
	committed bool
}

// New constructs a consumer for the supplied brokers and consumer group.
func New(brokers []string, groupID string, logger zerolog.Logger, commitOnSuccessOnly bool, opts ...Option) (*Consumer, error) {
	if groupID == "" {
		return nil, errors.New("kafka consumer: group id is required")
	}

	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	settings := &options{clientID: defaultClientID}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}

	group := settings.group
	if group == nil {
		if len(brokers) == 0 {
			return nil, errors.New("kafka consumer: at least one broker is required")
		}
		cfg := buildConfig(settings, commitOnSuccessOnly)
		var err error
		group, err = sarama.NewConsumerGroup(brokers, groupID, cfg)
		if err != nil {
			return nil, fmt.Errorf("kafka consumer: create consumer group: %w", err)
		}
	}

	c := &Consumer{
		logger:       logger.With().Str("component", "kafka_consumer").Str("group_id", groupID).Logger(),
		group:        group,
		groupID:      groupID,
		commitOnAck:  commitOnSuccessOnly,
		errorsDoneCh: make(chan struct{}),
	}

	go c.consumeErrors()

	return c, nil
}

// Consume subscribes to topics and invokes handler for each record. It blocks
// until ctx is cancelled or the group is closed, rejoining the group after
// transient errors.
func (c *Consumer) Consume(ctx context.Context, topics []string, handler Handler) error {
	if len(topics) == 0 {
		return errors.New("kafka consumer: at least one topic is required")
	}
	if handler == nil {
		return errors.New("kafka consumer: handler is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.handler = handler
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	c.wg.Add(1)
	defer c.wg.Done()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.group.Consume(ctx, topics, &groupHandler{consumer: c})
		if err == nil {
			continue
		}
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		c.logger.Error().Err(err).Strs("topics", topics).Msg("kafka consumer: consume error")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(defaultConsumeBackoff):
		}
	}
}

// Commit marks the record as processed. Records of one partition may finish
// out of order; the marked offset only advances past a record once every
// earlier record of its claim has been committed too. When commit-on-success
// is enabled the offset is flushed immediately; otherwise it rides on the
// auto-commit interval. Committing a record twice is a no-op.
func (c *Consumer) Commit(_ context.Context, record *Record) error {
	if record == nil {
		return errors.New("kafka consumer: record is required")
	}
	if record.session == nil || record.message == nil {
		return errors.New("kafka consumer: record missing session data")
	}

	record.mu.Lock()
	defer record.mu.Unlock()
	if record.committed {
		return nil
	}
	record.committed = true

	mark := record.message
	if record.offsets != nil {
		mark = record.offsets.release(record.message)
	}
	if mark == nil {
		return nil
	}
	record.session.MarkMessage(mark, "")
	if c.commitOnAck {
		record.session.Commit()
	}
	return nil
}

// IsReady reports whether the consumer currently holds a group session.
func (c *Consumer) IsReady() bool {
	return c.ready.Load()
}

// Received returns how many records have been handed to the handler.
func (c *Consumer) Received() int64 {
	return c.received.Load()
}

// Close shuts down the consumer group and waits for Consume to return.
func (c *Consumer) Close() error {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	err := c.group.Close()
	c.wg.Wait()
	<-c.errorsDoneCh
	return err
}

func (c *Consumer) consumeErrors() {
	defer close(c.errorsDoneCh)
	for err := range c.group.Errors() {
		if err != nil {
			c.logger.Error().Err(err).Msg("kafka consumer: group error")
		}
	}
}

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.consumer.ready.Store(true)
	h.consumer.logger.Info().
		Str("member_id", session.MemberID()).
		Int32("generation", session.GenerationID()).
		Msg("kafka consumer: session started")
	return nil
}

func (h *groupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.consumer.ready.Store(false)
	h.consumer.logger.Info().
		Str("member_id", session.MemberID()).
		Msg("kafka consumer: session ended")
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	h.consumer.mu.RLock()
	handler := h.consumer.handler
	h.consumer.mu.RUnlock()
	if handler == nil {
		return errors.New("kafka consumer: claim started without handler")
	}

	offsets := newPartitionOffsets()
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if msg == nil {
				continue
			}
			h.consumer.received.Add(1)
			offsets.track(msg.Offset)
			if err := handler(session.Context(), newRecord(session, msg, offsets)); err != nil {
				h.consumer.logger.Error().
					Err(err).
					Str("topic", msg.Topic).
					Int32("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("kafka consumer: handler error")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

func newRecord(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage, offsets *partitionOffsets) *Record {
	return &Record{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       cloneBytes(msg.Key),
		Value:     cloneBytes(msg.Value),
		Timestamp: msg.Timestamp,
		Headers:   fromHeaders(msg.Headers),
		session:   session,
		message:   msg,
		offsets:   offsets,
	}
}

// partitionOffsets holds the offsets of one claim that were handed out but not
// yet committed. Offsets arrive in ascending order within a claim.
type partitionOffsets struct {
	mu       sync.Mutex
	pending  []int64
	finished map[int64]*sarama.ConsumerMessage
}

func newPartitionOffsets() *partitionOffsets {
	return &partitionOffsets{finished: make(map[int64]*sarama.ConsumerMessage)}
}

func (p *partitionOffsets) track(offset int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, offset)
}

// release records msg as finished and returns the highest message that can be
// marked, or nil while an earlier offset is still in flight.
func (p *partitionOffsets) release(msg *sarama.ConsumerMessage) *sarama.ConsumerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished[msg.Offset] = msg

	var mark *sarama.ConsumerMessage
	for len(p.pending) > 0 {
		done, ok := p.finished[p.pending[0]]
		if !ok {
			break
		}
		delete(p.finished, p.pending[0])
		p.pending = p.pending[1:]
		mark = done
	}
	return mark
}

func buildConfig(settings *options, commitOnSuccessOnly bool) *sarama.Config {
	var cfg *sarama.Config
	if settings.config != nil {
		copied := *settings.config
		cfg = &copied
	} else {
		cfg = sarama.NewConfig()
		cfg.Version = sarama.V2_5_0_0
		cfg.Consumer.Group.Session.Timeout = defaultSessionTimeout
		cfg.Consumer.Group.Heartbeat.Interval = defaultHeartbeat
		cfg.Consumer.Group.Rebalance.Timeout = defaultRebalanceTimeout
		cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	}

	cfg.ClientID = settings.clientID
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	if settings.oldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = !commitOnSuccessOnly
	cfg.Consumer.Return.Errors = true
	return cfg
}

func cloneBytes(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

func fromHeaders(headers []*sarama.RecordHeader) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(headers))
	for _, h := range headers {
		if h == nil || len(h.Key) == 0 {
			continue
		}
		out[string(h.Key)] = cloneBytes(h.Value)
	}
	return out
}
