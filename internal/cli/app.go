package cli

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/example/onvotar-bot/internal/config"
	"github.com/example/onvotar-bot/internal/logger"
	"github.com/example/onvotar-bot/internal/metrics"
	"github.com/example/onvotar-bot/internal/providers/factory"
	"github.com/example/onvotar-bot/internal/worker"
)

// app holds what every command builds before wiring its transport.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	responder *worker.Responder
}

func bootstrap(mode config.Mode, logOut io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	var writers []io.Writer
	if logOut != nil {
		writers = append(writers, logOut)
	}
	base, err := logger.New(cfg.App.Env, cfg.App.LogLevel, writers...)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	log := base.With().Str("mode", string(mode)).Logger()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	client, err := factory.Lookup(cfg.Lookup, log.With().Str("component", "lookup").Logger())
	if err != nil {
		return nil, err
	}
	responder, err := worker.NewResponder(worker.ResponderConfig{
		LookupTimeout:        cfg.Lookup.Timeout(),
		ReplyOnLookupFailure: cfg.Lookup.ReplyOnLookupFailure,
	}, client, m, log)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		log:       log,
		registry:  registry,
		metrics:   m,
		responder: responder,
	}, nil
}

func (a *app) newEngine(transport worker.Transport) (*worker.Engine, error) {
	fp, err := worker.NewFingerprinter([]byte(a.cfg.Privacy.FingerprintKey))
	if err != nil {
		return nil, err
	}
	if a.cfg.Privacy.FingerprintKey == "" {
		a.log.Warn().Msg("FINGERPRINT_KEY not set; sender fingerprints only correlate within this process")
	}
	return worker.NewEngine(worker.Config{
		WorkerConcurrency: a.cfg.Kafka.WorkerConcurrency,
		HandleTimeout:     a.cfg.Lookup.Timeout() + a.cfg.Timeouts.ProviderTimeout(),
	}, worker.Dependencies{
		Responder:     a.responder,
		Transport:     transport,
		Fingerprinter: fp,
		Metrics:       a.metrics,
		Logger:        a.log,
	})
}
