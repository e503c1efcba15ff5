package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/onvotar-bot/internal/config"
)

const (
	defaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"
	defaultBodyLimit     = 16 * 1024
)

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TwilioOption customises the behaviour of the WhatsApp Twilio provider.
type TwilioOption func(*TwilioProvider)

// WithTwilioHTTPClient overrides the HTTP client used to talk to Twilio.
func WithTwilioHTTPClient(client HTTPClient) TwilioOption {
	return func(p *TwilioProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithTwilioBaseURL sets the base Twilio API URL. Useful for tests.
func WithTwilioBaseURL(baseURL string) TwilioOption {
	return func(p *TwilioProvider) {
		if baseURL = strings.TrimRight(baseURL, "/"); baseURL != "" {
			p.baseURL = baseURL
		}
	}
}

// WithTwilioClock overrides the clock used for timestamps.
func WithTwilioClock(now func() time.Time) TwilioOption {
	return func(p *TwilioProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithTwilioTimeout sets the timeout of the default HTTP client.
func WithTwilioTimeout(d time.Duration) TwilioOption {
	return func(p *TwilioProvider) {
		if d > 0 {
			p.httpClient = &http.Client{Timeout: d}
		}
	}
}

// TwilioProvider sends WhatsApp text messages through Twilio's Messages API.
type TwilioProvider struct {
	accountSID  string
	authToken   string
	defaultFrom string
	httpClient  HTTPClient
	baseURL     string
	now         func() time.Time
}

// NewTwilioProvider constructs a Twilio-backed WhatsApp provider.
func NewTwilioProvider(cfg config.TwilioConfig, logger zerolog.Logger, opts ...TwilioOption) (*TwilioProvider, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, errors.New("twilio whatsapp provider: account SID is required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("twilio whatsapp provider: auth token is required")
	}
	if strings.TrimSpace(cfg.PhoneNumber) == "" {
		return nil, errors.New("twilio whatsapp provider: phone number is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	provider := &TwilioProvider{
		accountSID:  strings.TrimSpace(cfg.AccountSID),
		authToken:   strings.TrimSpace(cfg.AuthToken),
		defaultFrom: FormatAddress(cfg.PhoneNumber),
		baseURL:     defaultTwilioBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	logger.Info().
		Str("from", provider.defaultFrom).
		Str("base_url", provider.baseURL).
		Msg("twilio whatsapp provider: configured")
	return provider, nil
}

// Send delivers a single text message via Twilio.
func (p *TwilioProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("twilio whatsapp provider: payload is required")
	}
	to := FormatAddress(payload.To)
	if to == "" {
		return nil, errors.New("twilio whatsapp provider: recipient is required")
	}
	from := FormatAddress(payload.From)
	if from == "" {
		from = p.defaultFrom
	}

	params := url.Values{}
	params.Set("To", to)
	params.Set("From", from)
	params.Set("Body", payload.Body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", p.baseURL, url.PathEscape(p.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twilio whatsapp provider: new request: %w", err)
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio whatsapp provider: http do: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, defaultBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("twilio whatsapp provider: read body: %w", err)
	}

	var parsed twilioBody
	_ = json.Unmarshal(data, &parsed)

	raw := &RawResponse{
		ID:        parsed.SID,
		Code:      resp.StatusCode,
		Status:    parsed.Status,
		Body:      string(data),
		Timestamp: p.now(),
	}
	if raw.Status == "" {
		raw.Status = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if raw.ID == "" {
			raw.ID = payload.MessageID
		}
		return raw, nil
	}

	message := strings.TrimSpace(parsed.Message)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	if parsed.ErrorCode > 0 {
		return raw, fmt.Errorf("twilio whatsapp provider: error %d: %s", parsed.ErrorCode, message)
	}
	return raw, fmt.Errorf("twilio whatsapp provider: http %d: %s", resp.StatusCode, message)
}

type twilioBody struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode int    `json:"code"`
	Message   string `json:"message"`
}

// FormatAddress returns number in Twilio's "whatsapp:" address form.
func FormatAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "whatsapp:") {
		trimmed = strings.TrimSpace(trimmed[len("whatsapp:"):])
	}
	if trimmed == "" {
		return ""
	}
	return "whatsapp:" + trimmed
}
