package worker

import (
	"context"

	"github.com/example/onvotar-bot/internal/kafka/consumer"
)

// NewRecordFromConsumer constructs a worker record from the supplied Kafka
// consumer record and binds the provided commit function. The commit function is
// invoked once the engine has handled and acknowledged the event.
func NewRecordFromConsumer(rec *consumer.Record, commit func(context.Context) error) *Record {
	if rec == nil {
		return nil
	}

	return &Record{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       cloneBytes(rec.Key),
		Value:     cloneBytes(rec.Value),
		Timestamp: rec.Timestamp,
		Headers:   cloneHeaders(rec.Headers),
		commit:    commit,
	}
}
