package normalizer

import (
	"context"

	"go.uber.org/zap"

	"github.com/arc-sec/siem-pipeline/internal/broker"
	"github.com/arc-sec/siem-pipeline/internal/config"
	"github.com/arc-sec/siem-pipeline/internal/event"
	"github.com/arc-sec/siem-pipeline/internal/rules"
)

// Worker consumes the RAW stream with a client-side cursor, normalizes each
// record and publishes the result to the NORMALIZED stream.
//
// Delivery is at-least-once: the cursor advances as records are published,
// so a crash mid-batch re-emits the unpublished remainder on restart.
type Worker struct {
	client   *broker.Client
	consumer *broker.CursorConsumer
	reloader *rules.Reloader[rules.NormalizerRule]
	out      string
	log      *zap.Logger
}

// NewWorker wires a normalizer worker. The reloader must not have been
// started; Run performs the initial rule load.
func NewWorker(
	client *broker.Client,
	streams config.Streams,
	cfg config.Normalizer,
	reloader *rules.Reloader[rules.NormalizerRule],
	logger *zap.Logger,
) *Worker {
	return &Worker{
		client:   client,
		consumer: broker.NewCursorConsumer(client, streams.Raw, broker.StartID, cfg.BatchSize, logger),
		reloader: reloader,
		out:      streams.Normalized,
		log:      logger,
	}
}

// Run loads rules and consumes until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.reloader.Load(ctx); err != nil {
		return err
	}
	go w.reloader.Run(ctx)

	w.log.Info("normalizer worker started",
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
		normalized := 0

		for _, msg := range msgs {
			w.consumer.Advance(msg.ID)

			raw := event.RawFromValues(msg.Values)
			uem, ok := Normalize(ruleSet, raw, w.log)
			if !ok {
				w.log.Debug("no normalizer rule matched", zap.String("msg_id", msg.ID))
				continue
			}

			if err := w.client.Publish(ctx, w.out, uem.Values()); err != nil {
				// Documented limitation: the event is dropped rather than
				// retried inline, at-least-once is broken on this edge.
				w.log.Error("failed to publish normalized event",
					zap.String("msg_id", msg.ID),
					zap.Error(err),
				)
				continue
			}
			normalized++
		}

		w.log.Info("normalizer batch processed",
			zap.Int("raw_events_read", len(msgs)),
			zap.Int("normalized_events", normalized),
			zap.String("last_id", w.consumer.LastID()),
		)
	}
}
