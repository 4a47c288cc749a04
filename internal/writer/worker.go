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

// Worker consumes FILTERED with a client-side cursor persisted as a broker
// key. The cursor advances only after a successful bulk insert, so a failed
// batch is re-read from the same range on the next iteration. Single
// instance only: there is one last_id key.
type Worker struct {
	client    *broker.Client
	conn      storage.Conn
	stream    string
	cfg       config.Writer
	now       func() time.Time
	log       *zap.Logger
}

// NewWorker wires a cursor-mode writer.
func NewWorker(client *broker.Client, conn storage.Conn, streams config.Streams, cfg config.Writer, logger *zap.Logger) *Worker {
	return &Worker{
		client: client,
		conn:   conn,
		stream: streams.Filtered,
		cfg:    cfg,
		now:    time.Now,
		log:    logger,
	}
}

// Run restores the cursor and consumes until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	lastID, err := w.client.GetString(ctx, w.cfg.LastIDKey)
	if err != nil {
		w.log.Error("failed to load writer last_id", zap.Error(err))
		lastID = ""
	}
	if lastID == "" {
		lastID = broker.StartID
	}

	consumer := broker.NewCursorConsumer(w.client, w.stream, lastID, w.cfg.BatchSize, w.log)

	w.log.Info("writer started",
		zap.String("stream", w.stream),
		zap.String("last_id", lastID),
		zap.Int("batch_size", w.cfg.BatchSize),
	)

	for {
		msgs, err := consumer.Next(ctx)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			continue
		}

		now := w.now()
		rows := make([]Row, 0, len(msgs))
		maxID := ""

		for _, msg := range msgs {
			maxID = msg.ID

			row, err := BuildRow(event.FromValues(msg.Values), now)
			if err != nil {
				w.log.Error("skipping malformed record",
					zap.String("msg_id", msg.ID),
					zap.Error(err),
				)
				continue
			}
			rows = append(rows, row)
		}

		if len(rows) > 0 {
			if err := insertRows(ctx, w.conn, rows); err != nil {
				// Cursor stays put; the same range is retried.
				w.log.Error("failed to insert events batch",
					zap.Int("rows", len(rows)),
					zap.Error(err),
				)
				continue
			}
		}

		consumer.Advance(maxID)
		if err := w.client.SetString(ctx, w.cfg.LastIDKey, maxID); err != nil {
			w.log.Error("failed to persist writer last_id",
				zap.String("last_id", maxID),
				zap.Error(err),
			)
		}

		w.log.Info("writer batch inserted",
			zap.Int("events_read", len(msgs)),
			zap.Int("rows_inserted", len(rows)),
			zap.String("last_id", maxID),
		)
	}
}
