package correlator

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arc-sec/siem-pipeline/internal/broker"
	"github.com/arc-sec/siem-pipeline/internal/config"
	"github.com/arc-sec/siem-pipeline/internal/event"
	"github.com/arc-sec/siem-pipeline/internal/rules"
	"github.com/arc-sec/siem-pipeline/internal/storage"
)

// StreamWorker consumes FILTERED through a consumer group, maintains the
// per-(rule, entity) sliding windows and bulk-inserts threshold alerts.
//
// Messages are acknowledged only after the alert batch lands in the column
// store; a failed insert leaves the batch unacked for redelivery
// (at-least-once, dedup by alert_id downstream).
type StreamWorker struct {
	group    *broker.GroupConsumer
	conn     storage.Conn
	windows  *WindowStore
	reloader *rules.Reloader[rules.StreamRule]
	now      func() time.Time
	tracer   trace.Tracer
	log      *zap.Logger
}

// NewStreamWorker wires a stream correlator worker.
func NewStreamWorker(
	client *broker.Client,
	streams config.Streams,
	cfg config.StreamCorr,
	conn storage.Conn,
	reloader *rules.Reloader[rules.StreamRule],
	logger *zap.Logger,
) *StreamWorker {
	return &StreamWorker{
		group:    broker.NewGroupConsumer(client, streams.Filtered, cfg.Group, cfg.Consumer, cfg.BatchSize, logger),
		conn:     conn,
		windows:  NewWindowStore(client),
		reloader: reloader,
		now:      time.Now,
		tracer:   otel.Tracer("stream-correlator"),
		log:      logger,
	}
}

// Run ensures the consumer group, loads rules and consumes until ctx is done.
func (w *StreamWorker) Run(ctx context.Context) error {
	if err := w.group.EnsureGroup(ctx); err != nil {
		return err
	}
	if err := w.reloader.Load(ctx); err != nil {
		return err
	}
	go w.reloader.Run(ctx)

	w.log.Info("stream correlator started",
		zap.Int("rules_count", len(w.reloader.Rules())),
	)

	for {
		msgs, err := w.group.Next(ctx)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			continue
		}
		w.processBatch(ctx, msgs)
	}
}

func (w *StreamWorker) processBatch(ctx context.Context, msgs []redis.XMessage) {
	ctx, span := w.tracer.Start(ctx, "streamcorr.processBatch",
		trace.WithAttributes(attribute.Int("batch.size", len(msgs))),
	)
	defer span.End()

	now := w.now().UTC()
	nowSec := float64(now.UnixNano()) / float64(time.Second)
	ruleSet := w.reloader.Rules()

	var (
		alerts []Alert
		ids    = make([]string, 0, len(msgs))
	)

	for _, msg := range msgs {
		ids = append(ids, msg.ID)
		ev := event.FromValues(msg.Values)

		for i := range ruleSet {
			rule := &ruleSet[i]
			if rule.Pattern != rules.PatternThreshold {
				continue
			}
			if rule.Expr == nil || !rule.Expr.Eval(ev) {
				continue
			}

			entityKey := ev.Get(rule.EntityField)
			if entityKey == "" {
				// Nothing to correlate on.
				continue
			}

			hits, ok := w.shouldAlert(ctx, rule, entityKey, msg.ID, nowSec)
			if ok {
				alerts = append(alerts, newStreamAlert(*rule, entityKey, now, hits))
			}
		}
	}

	if len(alerts) > 0 {
		if err := insertAlerts(ctx, w.conn, alerts); err != nil {
			span.RecordError(err)
			w.log.Error("failed to insert alerts batch",
				zap.Int("rows", len(alerts)),
				zap.Error(err),
			)
			// Not acked: the batch will be redelivered.
			return
		}
		w.log.Info("inserted alerts batch", zap.Int("alerts_inserted", len(alerts)))
	}

	if err := w.group.Ack(ctx, ids...); err != nil {
		span.RecordError(err)
		w.log.Error("failed to ack batch", zap.Int("ids", len(ids)), zap.Error(err))
		return
	}

	w.log.Info("stream correlator batch processed",
		zap.Int("events_processed", len(msgs)),
		zap.Int("alerts_created", len(alerts)),
	)
}

// shouldAlert updates the sliding window for (rule, entity) and applies the
// threshold and re-alert suppression checks. It returns the current window
// size and whether a new alert must be emitted.
func (w *StreamWorker) shouldAlert(ctx context.Context, rule *rules.StreamRule, entityKey, msgID string, now float64) (int64, bool) {
	count, lastAlert, err := w.windows.Update(ctx, rule.ID, entityKey, msgID, now, rule.WindowS)
	if err != nil {
		w.log.Error("sliding window update failed",
			zap.Uint32("rule_id", rule.ID),
			zap.String("entity_key", entityKey),
			zap.Error(err),
		)
		return 0, false
	}

	if count < int64(rule.Threshold) {
		return count, false
	}

	// At most one alert per window per (rule, entity).
	if lastAlert > 0 && now-lastAlert < float64(rule.WindowS) {
		return count, false
	}

	if err := w.windows.MarkAlert(ctx, rule.ID, entityKey, now); err != nil {
		w.log.Error("failed to record last alert time",
			zap.Uint32("rule_id", rule.ID),
			zap.String("entity_key", entityKey),
			zap.Error(err),
		)
		return count, false
	}
	return count, true
}
