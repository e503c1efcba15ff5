package worker

import (
	"context"
	"time"
)

// Record is a Kafka message delivered to the worker. It keeps the engine
// decoupled from the concrete consumer while still allowing the offset to be
// committed once the event is handled.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte

	commit func(context.Context) error
}

// NewRecord builds a Record bound to the given commit function.
func NewRecord(topic string, partition int32, offset int64, value []byte, commit func(context.Context) error) *Record {
	return &Record{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Value:     cloneBytes(value),
		commit:    commit,
	}
}

// Commit marks the record as processed. Records without a commit function are
// a no-op.
func (r *Record) Commit(ctx context.Context) error {
	if r == nil || r.commit == nil {
		return nil
	}
	return r.commit(ctx)
}

// Clone returns a deep copy of the record so it can be safely shared with
// asynchronous goroutines without risking data races.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Key = cloneBytes(r.Key)
	clone.Value = cloneBytes(r.Value)
	if len(r.Headers) > 0 {
		clone.Headers = cloneHeaders(r.Headers)
	}

	return &clone
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	clone := make([]byte, len(b))
	copy(clone, b)
	return clone
}

func cloneHeaders(headers map[string][]byte) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	clone := make(map[string][]byte, len(headers))
	for k, v := range headers {
		clone[k] = cloneBytes(v)
	}
	return clone
}
