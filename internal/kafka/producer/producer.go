package producer

import (
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
	defaultClientID                = "onvotar-producer"
	defaultMetadataRefreshInterval = 30 * time.Second
)

// Option customises the producer during construction.
type Option func(*options)

type options struct {
	config          *sarama.Config
	refreshInterval time.Duration
	syncProducer    sarama.SyncProducer
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

// WithMetadataRefreshInterval overrides how often cluster metadata is
// refreshed to keep readiness current.
func WithMetadataRefreshInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.refreshInterval = interval
		}
	}
}

// WithSyncProducer uses an existing sync producer instead of dialling the
// brokers. Readiness then only tracks send results.
func WithSyncProducer(sp sarama.SyncProducer) Option {
	return func(o *options) { o.syncProducer = sp }
}

// Producer publishes replies and acknowledgements synchronously, so the
// engine learns about delivery failures before acknowledging an event.
type Producer struct {
	logger zerolog.Logger

	client       sarama.Client
	syncProducer sarama.SyncProducer

	refreshInterval time.Duration

	ready atomic.Bool

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a Producer using the supplied broker list and logger.
func New(brokers []string, logger zerolog.Logger, opts ...Option) (*Producer, error) {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	settings := &options{refreshInterval: defaultMetadataRefreshInterval}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}

	p := &Producer{
		logger:          logger.With().Str("component", "kafka_producer").Logger(),
		refreshInterval: settings.refreshInterval,
		stopCh:          make(chan struct{}),
	}

	if settings.syncProducer != nil {
		p.syncProducer = settings.syncProducer
		p.ready.Store(true)
		return p, nil
	}

	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: at least one broker is required")
	}

	cfg := buildConfig(settings)
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: create client: %w", err)
	}

	syncProd, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka producer: create sync producer: %w", err)
	}
	p.client = client
	p.syncProducer = syncProd

	if err := client.RefreshMetadata(); err != nil {
		p.logger.Error().Err(err).Msg("kafka producer: initial metadata refresh failed")
	} else {
		p.ready.Store(true)
	}

	p.wg.Add(1)
	go p.watchMetadata()

	return p, nil
}

// PublishSync publishes a message and waits for the brokers to acknowledge
// it.
func (p *Producer) PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error {
	if topic == "" {
		return errors.New("kafka producer: topic is required")
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(payload),
		Headers: toRecordHeaders(headers),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}

	partition, offset, err := p.syncProducer.SendMessage(msg)
	if err != nil {
		p.ready.Store(false)
		return fmt.Errorf("kafka producer: send sync: %w", err)
	}

	p.ready.Store(true)
	p.logger.Debug().
		Str("topic", topic).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("kafka producer: message published")
	return nil
}

// IsReady reports whether the last metadata refresh or send succeeded.
func (p *Producer) IsReady() bool {
	return p.ready.Load()
}

// Close stops the metadata watcher and releases the Sarama resources.
func (p *Producer) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()

		if err := p.syncProducer.Close(); err != nil {
			errs = append(errs, err)
		}
		if p.client != nil && !p.client.Closed() {
			if err := p.client.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (p *Producer) watchMetadata() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.client.RefreshMetadata(); err != nil {
				p.logger.Error().Err(err).Msg("kafka producer: metadata refresh failed")
				p.ready.Store(false)
			} else {
				p.ready.Store(true)
			}
		}
	}
}

func toRecordHeaders(headers map[string][]byte) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, sarama.RecordHeader{
			Key:   []byte(k),
			Value: append([]byte(nil), v...),
		})
	}
	return out
}

func buildConfig(settings *options) *sarama.Config {
	var cfg *sarama.Config
	if settings.config != nil {
		copied := *settings.config
		cfg = &copied
	} else {
		cfg = sarama.NewConfig()
		cfg.Version = sarama.V2_5_0_0
		cfg.ClientID = defaultClientID
		cfg.Producer.RequiredAcks = sarama.WaitForAll
		cfg.Producer.Retry.Max = 6
		cfg.Producer.Retry.Backoff = 250 * time.Millisecond
		cfg.Producer.Idempotent = true
		cfg.Net.MaxOpenRequests = 1
	}
	// required by the sync producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Metadata.RefreshFrequency = settings.refreshInterval
	return cfg
}
