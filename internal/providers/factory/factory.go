package factory

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/onvotar-bot/internal/config"
	"github.com/example/onvotar-bot/internal/lookup"
	waprovider "github.com/example/onvotar-bot/internal/providers/whatsapp"
)

// WhatsApp constructs the configured WhatsApp provider. Supports mock and
// Twilio backends.
func WhatsApp(cfg config.ProviderConfig, timeouts config.TimeoutConfig, logger zerolog.Logger) (waprovider.Provider, error) {
	backend := normalize(cfg.WhatsAppProvider, "mock")
	switch backend {
	case "twilio":
		provider, err := waprovider.NewTwilioProvider(cfg.Twilio, logger, waprovider.WithTwilioTimeout(timeouts.ProviderTimeout()))
		if err != nil {
			return nil, fmt.Errorf("factory: twilio whatsapp provider init: %w", err)
		}
		logger.Info().
			Str("backend", "twilio").
			Msg("whatsapp provider initialised")
		return provider, nil
	case "mock":
		provider := waprovider.NewMockProvider(logger)
		logger.Info().
			Str("backend", "mock").
			Msg("whatsapp provider initialised")
		return provider, nil
	default:
		return nil, fmt.Errorf("factory: unsupported whatsapp provider backend %q", cfg.WhatsAppProvider)
	}
}

// Lookup constructs the configured polling-place lookup backend. Supports
// http and mock backends.
func Lookup(cfg config.LookupConfig, logger zerolog.Logger) (lookup.Client, error) {
	backend := normalize(cfg.Backend, "mock")
	switch backend {
	case "http":
		var opts []lookup.HTTPOption
		if cfg.AuthToken != "" {
			opts = append(opts, lookup.WithAuthToken(cfg.AuthToken))
		}
		client, err := lookup.NewHTTPClient(cfg.URL, logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("factory: http lookup init: %w", err)
		}
		logger.Info().
			Str("backend", "http").
			Msg("lookup backend initialised")
		return client, nil
	case "mock":
		scenario, err := lookup.ParseScenario(cfg.MockScenario)
		if err != nil {
			return nil, fmt.Errorf("factory: mock lookup init: %w", err)
		}
		logger.Info().
			Str("backend", "mock").
			Str("scenario", string(scenario)).
			Msg("lookup backend initialised")
		return lookup.NewMockClient(logger, lookup.WithMockScenario(scenario)), nil
	default:
		return nil, fmt.Errorf("factory: unsupported lookup backend %q", cfg.Backend)
	}
}

func normalize(value, def string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return def
	}
	return value
}
