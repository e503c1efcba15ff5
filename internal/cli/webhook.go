package cli

import (
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/example/onvotar-bot/internal/config"
	"github.com/example/onvotar-bot/internal/providers/factory"
	"github.com/example/onvotar-bot/internal/server"
	"github.com/example/onvotar-bot/internal/webhook"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Answer Twilio WhatsApp webhooks over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runWebhook,
}

func init() {
	rootCmd.AddCommand(webhookCmd)
}

func runWebhook(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(config.ModeWebhook, nil)
	if err != nil {
		return err
	}
	cfg := a.cfg
	log := a.log

	provider, err := factory.WhatsApp(cfg.Providers, cfg.Timeouts, log.With().Str("component", "whatsapp_provider").Logger())
	if err != nil {
		return err
	}
	transport, err := webhook.NewTransport(provider, cfg.Providers.Twilio.PhoneNumber)
	if err != nil {
		return err
	}
	engine, err := a.newEngine(transport)
	if err != nil {
		return err
	}

	var opts []webhook.Option
	if cfg.Webhook.ValidateSignature {
		verifier, err := webhook.NewSignatureVerifier(cfg.Providers.Twilio.AuthToken)
		if err != nil {
			return err
		}
		opts = append(opts, webhook.WithSignatureVerification(verifier, cfg.Webhook.PublicURL))
	}
	handler, err := webhook.NewHandler(engine, log, opts...)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Addr:            cfg.App.HTTPAddr,
		Gatherer:        a.registry,
		Mount:           func(r chi.Router) { handler.Register(r, cfg.Webhook.Path) },
		ShutdownTimeout: cfg.Timeouts.ShutdownTimeout(),
		Logger:          log,
	})

	log.Info().
		Str("path", cfg.Webhook.Path).
		Bool("signature_validation", cfg.Webhook.ValidateSignature).
		Msg("webhook started")
	return srv.Run(cmd.Context())
}
