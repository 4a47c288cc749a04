package correlator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arc-sec/siem-pipeline/internal/config"
	"github.com/arc-sec/siem-pipeline/internal/rules"
	"github.com/arc-sec/siem-pipeline/internal/storage"
)

// windowToken is substituted with the rule's window_s in sql_template.
const windowToken = "{WINDOW_S}"

// BatchWorker periodically executes the enabled batch correlation rules.
// Each rule is an opaque idempotent INSERT INTO alerts_raw SELECT statement
// over the events table; per-rule failures are logged and do not abort the
// sweep. The worker keeps no in-memory state.
type BatchWorker struct {
	conn  storage.Conn
	store *rules.Store
	cfg   config.BatchCorr
	log   *zap.Logger
}

// NewBatchWorker wires a batch correlator.
func NewBatchWorker(conn storage.Conn, store *rules.Store, cfg config.BatchCorr, logger *zap.Logger) *BatchWorker {
	return &BatchWorker{conn: conn, store: store, cfg: cfg, log: logger}
}

// Run sweeps once immediately, then on every interval tick until ctx is done.
func (w *BatchWorker) Run(ctx context.Context) error {
	w.log.Info("batch correlator started",
		zap.Duration("interval", w.cfg.Interval),
	)

	w.runOnce(ctx)

	c := cron.New()
	spec := fmt.Sprintf("@every %ds", int(w.cfg.Interval.Seconds()))
	if _, err := c.AddFunc(spec, func() { w.runOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule batch correlator: %w", err)
	}
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (w *BatchWorker) runOnce(ctx context.Context) {
	ruleSet, err := w.store.BatchRules(ctx)
	if err != nil {
		w.log.Error("failed to load batch correlation rules", zap.Error(err))
		return
	}
	if len(ruleSet) == 0 {
		w.log.Info("no enabled batch correlation rules found")
		return
	}

	for _, rule := range ruleSet {
		stmt := strings.ReplaceAll(rule.SQLTemplate, windowToken, strconv.FormatUint(uint64(rule.WindowS), 10))
		if err := w.conn.Exec(ctx, stmt); err != nil {
			w.log.Error("batch rule execution failed",
				zap.Uint32("rule_id", rule.ID),
				zap.String("name", rule.Name),
				zap.Uint32("window_s", rule.WindowS),
				zap.Error(err),
			)
			continue
		}
		w.log.Info("batch rule executed",
			zap.Uint32("rule_id", rule.ID),
			zap.String("name", rule.Name),
			zap.Uint32("window_s", rule.WindowS),
		)
	}
}
