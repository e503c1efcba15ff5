package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Mode selects which transport a process runs, and therefore which settings
// are mandatory.
type Mode string

const (
	ModeWorker  Mode = "worker"
	ModeWebhook Mode = "webhook"
	ModeCheck   Mode = "check"
)

// Config captures all runtime configuration for the responder.
type Config struct {
	App       AppConfig
	Kafka     KafkaConfig
	Lookup    LookupConfig
	Providers ProviderConfig
	Webhook   WebhookConfig
	Privacy   PrivacyConfig
	Timeouts  TimeoutConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	LogLevel string
	HTTPAddr string
}

// KafkaConfig defines broker information, topics and consumer tuning.
type KafkaConfig struct {
	Brokers             []string
	InboundTopic        string
	OutboundTopic       string
	AckTopic            string
	ConsumerGroup       string
	CommitOnSuccessOnly bool
	WorkerConcurrency   int
}

// LookupConfig selects and tunes the polling-place lookup backend.
type LookupConfig struct {
	Backend              string
	URL                  string
	AuthToken            string
	TimeoutMs            int
	MockScenario         string
	ReplyOnLookupFailure bool
}

// Timeout returns the lookup deadline as a duration.
func (c LookupConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// TwilioConfig stores Twilio credentials for WhatsApp delivery.
type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
}

// ProviderConfig wraps configuration for the outbound WhatsApp provider.
type ProviderConfig struct {
	WhatsAppProvider string
	Twilio           TwilioConfig
}

// WebhookConfig controls the inbound Twilio webhook.
type WebhookConfig struct {
	Path              string
	PublicURL         string
	ValidateSignature bool
}

// PrivacyConfig holds the key used to fingerprint senders in logs.
type PrivacyConfig struct {
	FingerprintKey string
}

// TimeoutConfig contains timeout thresholds for outbound calls and shutdown.
type TimeoutConfig struct {
	ProviderTimeoutSeconds int
	ShutdownTimeoutSeconds int
}

// ProviderTimeout returns the provider deadline as a duration.
func (c TimeoutConfig) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget as a duration.
func (c TimeoutConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// Load reads environment variables (and a .env file when present), applies
// defaults and returns a populated Config. Malformed values are collected and
// reported together. Mode specific requirements are checked by Validate.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)
	cfg.App.HTTPAddr = ldr.getString("HTTP_ADDR", ":8080", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", false)
	cfg.Kafka.InboundTopic = ldr.getString("KAFKA_INBOUND_TOPIC", "whatsapp.inbound", false)
	cfg.Kafka.OutboundTopic = ldr.getString("KAFKA_OUTBOUND_TOPIC", "whatsapp.outbound", false)
	cfg.Kafka.AckTopic = ldr.getString("KAFKA_ACK_TOPIC", "whatsapp.acks", false)
	cfg.Kafka.ConsumerGroup = ldr.getString("KAFKA_CONSUMER_GROUP", "onvotar-responder", false)
	cfg.Kafka.CommitOnSuccessOnly = ldr.getBool("COMMIT_ON_SUCCESS_ONLY", true, false)
	cfg.Kafka.WorkerConcurrency = ldr.getInt("WORKER_CONCURRENCY", 10, false)

	cfg.Lookup.Backend = strings.ToLower(ldr.getString("LOOKUP_BACKEND", "mock", false))
	cfg.Lookup.URL = ldr.getString("LOOKUP_URL", "", false)
	cfg.Lookup.AuthToken = ldr.getString("LOOKUP_AUTH_TOKEN", "", false)
	cfg.Lookup.TimeoutMs = ldr.getInt("LOOKUP_TIMEOUT_MS", 5000, false)
	cfg.Lookup.MockScenario = ldr.getString("LOOKUP_MOCK_SCENARIO", "found", false)
	cfg.Lookup.ReplyOnLookupFailure = ldr.getBool("REPLY_ON_LOOKUP_FAILURE", true, false)

	cfg.Providers.WhatsAppProvider = strings.ToLower(ldr.getString("WHATSAPP_PROVIDER", "mock", false))
	cfg.Providers.Twilio.AccountSID = ldr.getString("TWILIO_ACCOUNT_SID", "", false)
	cfg.Providers.Twilio.AuthToken = ldr.getString("TWILIO_AUTH_TOKEN", "", false)
	cfg.Providers.Twilio.PhoneNumber = ldr.getString("TWILIO_PHONE_NUMBER", "", false)

	cfg.Webhook.Path = ldr.getString("WEBHOOK_PATH", "/webhook/whatsapp", false)
	cfg.Webhook.PublicURL = ldr.getString("WEBHOOK_PUBLIC_URL", "", false)
	cfg.Webhook.ValidateSignature = ldr.getBool("TWILIO_VALIDATE_SIGNATURE", false, false)

	cfg.Privacy.FingerprintKey = ldr.getString("FINGERPRINT_KEY", "", false)

	cfg.Timeouts.ProviderTimeoutSeconds = ldr.getInt("PROVIDER_TIMEOUT_SECONDS", 30, false)
	cfg.Timeouts.ShutdownTimeoutSeconds = ldr.getInt("SHUTDOWN_TIMEOUT_SECONDS", 15, false)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings a given mode cannot run without.
func (c *Config) Validate(mode Mode) error {
	ldr := &envLoader{}

	if c.Kafka.WorkerConcurrency < 1 {
		ldr.addError("WORKER_CONCURRENCY must be >= 1")
	}
	if c.Lookup.TimeoutMs <= 0 {
		ldr.addError("LOOKUP_TIMEOUT_MS must be > 0")
	}
	if len(c.Privacy.FingerprintKey) > 64 {
		ldr.addError("FINGERPRINT_KEY must be at most 64 bytes")
	}

	switch c.Lookup.Backend {
	case "mock":
	case "http":
		if c.Lookup.URL == "" {
			ldr.addError("LOOKUP_URL is required when LOOKUP_BACKEND=http")
		}
	default:
		ldr.addError(fmt.Sprintf("LOOKUP_BACKEND %q is not supported", c.Lookup.Backend))
	}

	switch mode {
	case ModeWorker:
		if len(c.Kafka.Brokers) == 0 {
			ldr.addError("KAFKA_BROKERS is required")
		}
		if c.Kafka.InboundTopic == "" || c.Kafka.OutboundTopic == "" || c.Kafka.AckTopic == "" {
			ldr.addError("KAFKA_INBOUND_TOPIC, KAFKA_OUTBOUND_TOPIC and KAFKA_ACK_TOPIC are required")
		}
		if c.Kafka.ConsumerGroup == "" {
			ldr.addError("KAFKA_CONSUMER_GROUP is required")
		}
	case ModeWebhook:
		if !strings.HasPrefix(c.Webhook.Path, "/") {
			ldr.addError("WEBHOOK_PATH must start with /")
		}
		if c.Providers.WhatsAppProvider == "twilio" {
			tw := c.Providers.Twilio
			if tw.AccountSID == "" || tw.AuthToken == "" || tw.PhoneNumber == "" {
				ldr.addError("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER are required when WHATSAPP_PROVIDER=twilio")
			}
		}
		if c.Webhook.ValidateSignature {
			if c.Providers.Twilio.AuthToken == "" {
				ldr.addError("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURE is set")
			}
			if u, err := url.Parse(c.Webhook.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
				ldr.addError("WEBHOOK_PUBLIC_URL must be an absolute URL when TWILIO_VALIDATE_SIGNATURE is set")
			}
		}
	case ModeCheck:
	default:
		ldr.addError(fmt.Sprintf("unknown mode %q", mode))
	}

	return ldr.validate()
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	raw := l.getString(key, "", required)
	if raw == "" {
		return def
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	raw := l.getString(key, "", required)
	if raw == "" {
		return def
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid boolean", key))
		return def
	}
	return parsed
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
