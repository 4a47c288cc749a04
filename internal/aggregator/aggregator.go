// Package aggregator periodically rebuilds the alerts_agg rollup from
// alerts_raw.
package aggregator

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arc-sec/siem-pipeline/internal/config"
	"github.com/arc-sec/siem-pipeline/internal/storage"
)

// aggInsertQuery groups alerts_raw by (rule_id, entity_key), keeping the
// worst severity, the widest time span, up to three context samples and an
// open status if any member is still open.
const aggInsertQuery = `
INSERT INTO alerts_agg
(
    ts,
    agg_id,
    rule_id,
    rule_name,
    severity_agg,
    ts_first,
    ts_last,
    count_alerts,
    unique_entities,
    entity_key,
    group_key_json,
    samples_json,
    status
)
SELECT
    now() AS ts,
    generateUUIDv4() AS agg_id,
    rule_id,
    any(rule_name) AS rule_name,
    max(severity) AS severity_agg,
    min(ts_first) AS ts_first,
    max(ts_last) AS ts_last,
    count(*) AS count_alerts,
    countDistinct(entity_key) AS unique_entities,
    entity_key,
    concat('{"entity_key":"', entity_key, '"}') AS group_key_json,
    toJSONString(arraySlice(groupArray(context_json), 1, 3)) AS samples_json,
    if(max(status) = 'open', 'open', 'closed') AS status
FROM alerts_raw
GROUP BY rule_id, entity_key`

// Worker rebuilds alerts_agg on a fixed cadence. The truncate and the
// insert are not transactional across the pair: readers may briefly observe
// an empty aggregate, which is accepted at this rebuild cadence.
type Worker struct {
	conn storage.Conn
	cfg  config.AlertAgg
	log  *zap.Logger
}

// NewWorker wires an alerts aggregator.
func NewWorker(conn storage.Conn, cfg config.AlertAgg, logger *zap.Logger) *Worker {
	return &Worker{conn: conn, cfg: cfg, log: logger}
}

// Run rebuilds once immediately, then on every interval tick until ctx is
// done.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("alerts aggregator started",
		zap.Duration("interval", w.cfg.Interval),
	)

	w.runOnce(ctx)

	c := cron.New()
	spec := fmt.Sprintf("@every %ds", int(w.cfg.Interval.Seconds()))
	if _, err := c.AddFunc(spec, func() { w.runOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule alerts aggregator: %w", err)
	}
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (w *Worker) runOnce(ctx context.Context) {
	groups, err := w.rebuild(ctx)
	if err != nil {
		w.log.Error("alert aggregation failed", zap.Error(err))
		return
	}
	w.log.Info("alert aggregation completed", zap.Uint64("groups_count", groups))
}

func (w *Worker) rebuild(ctx context.Context) (uint64, error) {
	if err := w.conn.Exec(ctx, "TRUNCATE TABLE alerts_agg"); err != nil {
		return 0, fmt.Errorf("truncate alerts_agg: %w", err)
	}
	if err := w.conn.Exec(ctx, aggInsertQuery); err != nil {
		return 0, fmt.Errorf("rebuild alerts_agg: %w", err)
	}

	rows, err := w.conn.Query(ctx, "SELECT count() FROM alerts_agg")
	if err != nil {
		return 0, fmt.Errorf("count alerts_agg: %w", err)
	}
	defer rows.Close()

	var groups uint64
	if rows.Next() {
		if err := rows.Scan(&groups); err != nil {
			return 0, fmt.Errorf("scan alerts_agg count: %w", err)
		}
	}
	return groups, rows.Err()
}
