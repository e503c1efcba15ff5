package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/onvotar-bot/internal/validation"
)

// DisplayFields is the number of fields a matching record carries: three
// free-text lines followed by district, section and table.
const DisplayFields = 6

// ErrUnavailable and ErrRejected classify lookup failures. Neither is retried
// by the responder; the classification only drives logging and metrics.
var (
	ErrUnavailable = errors.New("lookup unavailable")
	ErrRejected    = errors.New("lookup rejected")
)

// Result is the outcome of a lookup. An empty Fields slice means no record
// matched the supplied triple.
type Result struct {
	Fields []string
}

// Found reports whether the lookup matched a record.
func (r Result) Found() bool {
	return len(r.Fields) > 0
}

// Client resolves a normalized triple to a polling-location record.
type Client interface {
	Lookup(ctx context.Context, fields validation.Fields) (Result, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, fields validation.Fields) (Result, error)

// Lookup calls f.
func (f ClientFunc) Lookup(ctx context.Context, fields validation.Fields) (Result, error) {
	return f(ctx, fields)
}

func wrapUnavailable(err error) error {
	if err == nil {
		return ErrUnavailable
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func wrapRejected(err error) error {
	if err == nil {
		return ErrRejected
	}
	return fmt.Errorf("%w: %w", ErrRejected, err)
}
