package producer

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
)

func TestPublishSyncSendsMessage(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "outbound" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "34600111222" {
			return errors.New("unexpected key " + string(key))
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "content-type" {
			return errors.New("missing content-type header")
		}
		return nil
	})

	p, err := New(nil, zerolog.Nop(), WithSyncProducer(sp))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	err = p.PublishSync("outbound", []byte("34600111222"), map[string][]byte{"content-type": []byte("application/json")}, []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if !p.IsReady() {
		t.Fatalf("producer should be ready after a successful send")
	}
}

func TestPublishSyncFailureMarksNotReady(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p, err := New(nil, zerolog.Nop(), WithSyncProducer(sp))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	err = p.PublishSync("outbound", nil, nil, []byte(`{}`))
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected broker error, got %v", err)
	}
	if p.IsReady() {
		t.Fatalf("producer should not be ready after a failed send")
	}
}

func TestPublishSyncRequiresTopic(t *testing.T) {
	p, err := New(nil, zerolog.Nop(), WithSyncProducer(mocks.NewSyncProducer(t, nil)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	if err := p.PublishSync("", nil, nil, nil); err == nil {
		t.Fatalf("expected error without topic")
	}
}

func TestNewRequiresBrokers(t *testing.T) {
	if _, err := New(nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestBuildConfigForcesSyncReturns(t *testing.T) {
	base := sarama.NewConfig()
	base.Producer.Return.Successes = false
	cfg := buildConfig(&options{config: base, refreshInterval: defaultMetadataRefreshInterval})
	if !cfg.Producer.Return.Successes || !cfg.Producer.Return.Errors {
		t.Fatalf("sync producer needs successes and errors returned")
	}
	if base.Producer.Return.Successes {
		t.Fatalf("caller config must not be modified")
	}
}
