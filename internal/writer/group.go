package writer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arc-sec/siem-pipeline/internal/broker"
	"github.com/arc-sec/siem-pipeline/internal/config"
	"github.com/arc-sec/siem-pipeline/internal/event"
	"github.com/arc-sec/siem-pipeline/internal/storage"
)

// GroupWorker is the consumer-group writer variant. Records are acked only
// after the bulk insert succeeds; malformed records are acked immediately so
// they cannot block the group cursor.
type GroupWorker struct {
	group *broker.GroupConsumer
	conn  storage.Conn
	now   func() time.Time
	log   *zap.Logger
}

// NewGroupWorker wires a group-mode writer.
func NewGroupWorker(client *broker.Client, conn storage.Conn, streams config.Streams, cfg config.Writer, logger *zap.Logger) *GroupWorker {
	return &GroupWorker{
		group: broker.NewGroupConsumer(client, streams.Filtered, cfg.Group, cfg.Consumer, cfg.BatchSize, logger),
		conn:  conn,
		now:   time.Now,
		log:   logger,
	}
}

// Run ensures the group and consumes until ctx is done.
func (w *GroupWorker) Run(ctx context.Context) error {
	if err := w.group.EnsureGroup(ctx); err != nil {
		return err
	}

	w.log.Info("writer started in group mode")

	for {
		msgs, err := w.group.Next(ctx)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			continue
		}

		now := w.now()
		rows := make([]Row, 0, len(msgs))
		okIDs := make([]string, 0, len(msgs))
		var badIDs []string

		for _, msg := range msgs {
			row, err := BuildRow(event.FromValues(msg.Values), now)
			if err != nil {
				w.log.Error("skipping malformed record",
					zap.String("msg_id", msg.ID),
					zap.Error(err),
				)
				badIDs = append(badIDs, msg.ID)
				continue
			}
			rows = append(rows, row)
			okIDs = append(okIDs, msg.ID)
		}

		// Malformed records are acked regardless of the insert outcome.
		if err := w.group.Ack(ctx, badIDs...); err != nil {
			w.log.Error("failed to ack malformed records", zap.Error(err))
		}

		if len(rows) > 0 {
			if err := insertRows(ctx, w.conn, rows); err != nil {
				// Not acked: the rows will be redelivered.
				w.log.Error("failed to insert events batch",
					zap.Int("rows", len(rows)),
					zap.Error(err),
				)
				continue
			}
		}

		if err := w.group.Ack(ctx, okIDs...); err != nil {
			w.log.Error("failed to ack batch", zap.Error(err))
			continue
		}

		w.log.Info("writer batch inserted",
			zap.Int("events_read", len(msgs)),
			zap.Int("rows_inserted", len(rows)),
		)
	}
}
