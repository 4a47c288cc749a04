package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arc-sec/siem-pipeline/internal/aggregator"
	"github.com/arc-sec/siem-pipeline/internal/broker"
	"github.com/arc-sec/siem-pipeline/internal/config"
	"github.com/arc-sec/siem-pipeline/internal/correlator"
	"github.com/arc-sec/siem-pipeline/internal/filter"
	"github.com/arc-sec/siem-pipeline/internal/logging"
	"github.com/arc-sec/siem-pipeline/internal/normalizer"
	"github.com/arc-sec/siem-pipeline/internal/ops"
	"github.com/arc-sec/siem-pipeline/internal/rules"
	"github.com/arc-sec/siem-pipeline/internal/storage"
	"github.com/arc-sec/siem-pipeline/internal/telemetry"
	"github.com/arc-sec/siem-pipeline/internal/writer"
)

// runnable is a worker loop that blocks until its context is done.
type runnable interface {
	Run(ctx context.Context) error
}

// stageOpts selects which clients a stage needs.
type stageOpts struct {
	broker     bool
	clickhouse bool
	chSettings clickhouse.Settings
}

// buildFunc wires a stage worker from its clients. conn is nil unless
// opts.clickhouse is set; client is nil unless opts.broker is set.
type buildFunc func(s *config.Settings, logger *zap.Logger, client *broker.Client, conn storage.Conn) (runnable, error)

// runStage is the shared stage lifecycle: config, logger, optional tracer,
// clients, ops server, worker loop, graceful shutdown on SIGINT/SIGTERM.
func runStage(name string, opts stageOpts, build buildFunc) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(name, settings.LogLevel, string(settings.Env), settings.InstanceName)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		tp, err := telemetry.InitTracer(ctx, name, endpoint)
		if err != nil {
			logger.Error("failed to init tracer", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(context.Background()) }()
			logger.Info("tracer initialized", zap.String("endpoint", endpoint))
		}
	}

	var client *broker.Client
	if opts.broker {
		client, err = broker.NewClient(ctx, settings.Redis, logger)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
	}

	var conn storage.Conn
	if opts.clickhouse {
		conn, err = storage.Open(ctx, settings.ClickHouse, logger, opts.chSettings)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()
	}

	if settings.OpsAddr != "" {
		srv := ops.NewServer(logger, nil)
		srv.Start(settings.OpsAddr)
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	work, err := build(settings, logger, client, conn)
	if err != nil {
		return err
	}

	err = work.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("worker shut down cleanly")
	return nil
}

func newNormalizerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalizer",
		Short: "Consume RAW, normalize into the UEM schema, publish to NORMALIZED",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage("normalizer", stageOpts{broker: true, clickhouse: true},
				func(s *config.Settings, logger *zap.Logger, client *broker.Client, conn storage.Conn) (runnable, error) {
					store := rules.NewStore(conn, logger)
					reloader := rules.NewReloader(store.NormalizerRules, s.Normalizer.ReloadInterval, logger)
					return normalizer.NewWorker(client, s.Streams, s.Normalizer, reloader, logger), nil
				})
		},
	}
}

func newFilterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "filter",
		Short: "Consume NORMALIZED, apply filter rules, publish to FILTERED",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage("filter", stageOpts{broker: true, clickhouse: true},
				func(s *config.Settings, logger *zap.Logger, client *broker.Client, conn storage.Conn) (runnable, error) {
					store := rules.NewStore(conn, logger)
					reloader := rules.NewReloader(store.FilterRules, s.Filter.ReloadInterval, logger)
					return filter.NewWorker(client, s.Streams, s.Filter, reloader, logger), nil
				})
		},
	}
}

func newWriterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "writer",
		Short: "Consume FILTERED and bulk-insert events into the column store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage("writer", stageOpts{broker: true, clickhouse: true, chSettings: storage.WriterSettings()},
				func(s *config.Settings, logger *zap.Logger, client *broker.Client, conn storage.Conn) (runnable, error) {
					if s.Writer.Mode == config.WriterModeGroup {
						return writer.NewGroupWorker(client, conn, s.Streams, s.Writer, logger), nil
					}
					return writer.NewWorker(client, conn, s.Streams, s.Writer, logger), nil
				})
		},
	}
}

func newStreamCorrelatorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stream-correlator",
		Short: "Consume FILTERED and emit threshold alerts over sliding windows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage("stream_corr", stageOpts{broker: true, clickhouse: true},
				func(s *config.Settings, logger *zap.Logger, client *broker.Client, conn storage.Conn) (runnable, error) {
					store := rules.NewStore(conn, logger)
					reloader := rules.NewReloader(store.StreamRules, s.StreamCorr.ReloadInterval, logger)
					return correlator.NewStreamWorker(client, s.Streams, s.StreamCorr, conn, reloader, logger), nil
				})
		},
	}
}

func newBatchCorrelatorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch-correlator",
		Short: "Run scheduled SQL correlation rules over the events table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage("batch_corr", stageOpts{clickhouse: true},
				func(s *config.Settings, logger *zap.Logger, _ *broker.Client, conn storage.Conn) (runnable, error) {
					store := rules.NewStore(conn, logger)
					return correlator.NewBatchWorker(conn, store, s.BatchCorr, logger), nil
				})
		},
	}
}

func newAlertsAggregatorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alerts-aggregator",
		Short: "Rebuild the alerts_agg rollup from alerts_raw",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage("alert_agg", stageOpts{clickhouse: true},
				func(s *config.Settings, logger *zap.Logger, _ *broker.Client, conn storage.Conn) (runnable, error) {
					return aggregator.NewWorker(conn, s.AlertAgg, logger), nil
				})
		},
	}
}
