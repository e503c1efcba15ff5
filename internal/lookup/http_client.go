package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/onvotar-bot/internal/validation"
)

const (
	defaultHTTPTimeout  = 10 * time.Second
	defaultMaxBodyBytes = 16 * 1024
)

// HTTPDoer abstracts the http.Client Do method for easier testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPOption customises the HTTP lookup client.
type HTTPOption func(*HTTPClient)

// WithHTTPDoer overrides the HTTP client used to reach the lookup service.
func WithHTTPDoer(doer HTTPDoer) HTTPOption {
	return func(c *HTTPClient) {
		if doer != nil {
			c.doer = doer
		}
	}
}

// WithBodyLimit adjusts how many bytes are read from a response body.
func WithBodyLimit(limit int64) HTTPOption {
	return func(c *HTTPClient) {
		if limit > 0 {
			c.maxBodyBytes = limit
		}
	}
}

// WithAuthToken sends the token as a bearer credential on every request.
func WithAuthToken(token string) HTTPOption {
	return func(c *HTTPClient) {
		c.authToken = strings.TrimSpace(token)
	}
}

// HTTPClient queries a lookup service over HTTP. The request body carries
// the normalized triple; a 404 or {"found": false} means no record matched.
type HTTPClient struct {
	endpoint     string
	authToken    string
	doer         HTTPDoer
	maxBodyBytes int64
}

type lookupRequest struct {
	DocumentID string `json:"document_id"`
	BirthDate  string `json:"birth_date"`
	PostalCode string `json:"postal_code"`
}

type lookupResponse struct {
	Found  *bool    `json:"found"`
	Fields []string `json:"fields"`
}

// NewHTTPClient constructs a lookup client for the given endpoint.
func NewHTTPClient(endpoint string, logger zerolog.Logger, opts ...HTTPOption) (*HTTPClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("lookup http client: endpoint is required")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("lookup http client: unsupported endpoint %q", endpoint)
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	c := &HTTPClient{
		endpoint:     endpoint,
		doer:         &http.Client{Timeout: defaultHTTPTimeout},
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	logger.Info().
		Bool("auth_token", c.authToken != "").
		Dur("http_timeout", defaultHTTPTimeout).
		Msg("lookup http client: configured")
	return c, nil
}

// Lookup posts the triple and decodes the record fields.
func (c *HTTPClient) Lookup(ctx context.Context, fields validation.Fields) (Result, error) {
	body, err := json.Marshal(lookupRequest{
		DocumentID: fields.DocumentID,
		BirthDate:  fields.BirthDate,
		PostalCode: fields.PostalCode,
	})
	if err != nil {
		return Result{}, wrapRejected(fmt.Errorf("lookup http client: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, wrapRejected(fmt.Errorf("lookup http client: new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, wrapUnavailable(ctxErr)
		}
		return Result{}, wrapUnavailable(fmt.Errorf("lookup http client: http do: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return Result{}, wrapUnavailable(fmt.Errorf("lookup http client: read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Result{}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Result{}, wrapUnavailable(fmt.Errorf("lookup http client: http %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Result{}, wrapRejected(fmt.Errorf("lookup http client: http %d", resp.StatusCode))
	}

	var decoded lookupResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, wrapRejected(fmt.Errorf("lookup http client: decode body: %w", err))
	}
	if decoded.Found != nil && !*decoded.Found {
		return Result{}, nil
	}

	return Result{Fields: decoded.Fields}, nil
}
