package filter

import (
	"context"

	"go.uber.org/zap"

	"github.com/arc-sec/siem-pipeline/internal/broker"
	"github.com/arc-sec/siem-pipeline/internal/config"
	"github.com/arc-sec/siem-pipeline/internal/event"
	"github.com/arc-sec/siem-pipeline/internal/rules"
)

// Worker consumes the NORMALIZED stream with a client-side cursor, applies
// the filter rule set and publishes surviving events to FILTERED.
type Worker struct {
	client   *broker.Client
	consumer *broker.CursorConsumer
	reloader *rules.Reloader[rules.FilterRule]
	out      string
	log      *zap.Logger
}

// NewWorker wires a filter worker.
func NewWorker(
	client *broker.Client,
	streams config.Streams,
	cfg config.Filter,
	reloader *rules.Reloader[rules.FilterRule],
	logger *zap.Logger,
) *Worker {
	return &Worker{
		client:   client,
		consumer: broker.NewCursorConsumer(client, streams.Normalized, broker.StartID, cfg.BatchSize, logger),
		reloader: reloader,
		out:      streams.Filtered,
		log:      logger,
	}
}

// Run loads rules, starts the periodic reload and consumes until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.reloader.Load(ctx); err != nil {
		return err
	}
	go w.reloader.Run(ctx)

	w.log.Info("filter worker started",
		zap.String("out_stream", w.out),
		zap.Int("rules_count", len(w.reloader.Rules())),
	)

	for {
		msgs, err := w.consumer.Next(ctx)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			continue
		}

		ruleSet := w.reloader.Rules()
		var passed, dropped, tagged int

		for _, msg := range msgs {
			w.consumer.Advance(msg.ID)

			ev := event.FromValues(msg.Values)
			decision, final := Apply(ruleSet, ev)

			if decision == DecisionDrop {
				dropped++
				continue
			}
			if decision == DecisionTag {
				tagged++
			}

			if err := w.client.Publish(ctx, w.out, final.Values()); err != nil {
				w.log.Error("failed to publish filtered event",
					zap.String("msg_id", msg.ID),
					zap.Error(err),
				)
				continue
			}
			passed++
		}

		w.log.Info("filter batch processed",
			zap.Int("events_read", len(msgs)),
			zap.Int("events_passed", passed),
			zap.Int("events_dropped", dropped),
			zap.Int("events_tagged", tagged),
			zap.String("last_id", w.consumer.LastID()),
		)
	}
}
