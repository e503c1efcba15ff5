package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/onvotar-bot/internal/config"
	"github.com/example/onvotar-bot/internal/kafka/consumer"
	"github.com/example/onvotar-bot/internal/kafka/producer"
	kafkapublisher "github.com/example/onvotar-bot/internal/kafka/publisher"
	"github.com/example/onvotar-bot/internal/server"
	"github.com/example/onvotar-bot/internal/worker"
)

var errConsumerStopped = errors.New("kafka consumer stopped")

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Answer chat events from Kafka",
	Long: `Consumes inbound chat events from Kafka, answers them and publishes the
replies and acknowledgements back for the session layer to deliver.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := bootstrap(config.ModeWorker, nil)
	if err != nil {
		return err
	}
	cfg := a.cfg
	log := a.log

	prod, err := producer.New(cfg.Kafka.Brokers, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := prod.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}()

	transport, err := kafkapublisher.NewTransport(prod, cfg.Kafka.OutboundTopic, cfg.Kafka.AckTopic, log)
	if err != nil {
		return err
	}
	engine, err := a.newEngine(transport)
	if err != nil {
		return err
	}

	cons, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, log, cfg.Kafka.CommitOnSuccessOnly)
	if err != nil {
		return err
	}
	defer func() {
		if err := cons.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka consumer")
		}
	}()

	srv := server.New(server.Options{
		Addr:     cfg.App.HTTPAddr,
		Gatherer: a.registry,
		Checks: map[string]server.ReadinessCheck{
			"kafka_consumer": readiness(cons.IsReady, "no consumer group session"),
			"kafka_producer": readiness(prod.IsReady, "producer cannot reach brokers"),
		},
		ShutdownTimeout: cfg.Timeouts.ShutdownTimeout(),
		Logger:          log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("inbound_topic", cfg.Kafka.InboundTopic).Msg("worker started")
		err := cons.Consume(gctx, []string{cfg.Kafka.InboundTopic}, worker.KafkaHandler(engine, cons))

		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Timeouts.ShutdownTimeout())
		defer cancel()
		if derr := engine.Drain(drainCtx); derr != nil {
			log.Error().Err(derr).Msg("in-flight events did not finish before shutdown")
		}

		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err == nil && gctx.Err() == nil {
			return errConsumerStopped
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	log.Info().Msg("worker stopped")
	return nil
}

func readiness(ready func() bool, reason string) server.ReadinessCheck {
	return func(context.Context) error {
		if !ready() {
			return errors.New(reason)
		}
		return nil
	}
}
