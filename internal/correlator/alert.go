package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arc-sec/siem-pipeline/internal/rules"
	"github.com/arc-sec/siem-pipeline/internal/storage"
)

// Alert is one row destined for alerts_raw.
type Alert struct {
	TS          time.Time
	AlertID     uuid.UUID
	RuleID      uint32
	RuleName    string
	Severity    string
	TSFirst     time.Time
	TSLast      time.Time
	WindowS     uint32
	EntityKey   string
	Hits        uint32
	ContextJSON string
	Source      string
	Status      string
}

type alertContext struct {
	RuleID      uint32 `json:"rule_id"`
	EntityKey   string `json:"entity_key"`
	Description string `json:"description"`
}

// newStreamAlert builds an open stream-sourced alert. The window is pinned
// to [now-window_s, now] and hits carries the current window cardinality.
func newStreamAlert(rule rules.StreamRule, entityKey string, now time.Time, hits int64) Alert {
	ctx, _ := json.Marshal(alertContext{
		RuleID:      rule.ID,
		EntityKey:   entityKey,
		Description: rule.Description,
	})

	return Alert{
		TS:          now,
		AlertID:     uuid.New(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Severity:    rule.Severity,
		TSFirst:     now.Add(-time.Duration(rule.WindowS) * time.Second),
		TSLast:      now,
		WindowS:     rule.WindowS,
		EntityKey:   entityKey,
		Hits:        uint32(hits),
		ContextJSON: string(ctx),
		Source:      "stream",
		Status:      "open",
	}
}

const insertAlertsQuery = `
INSERT INTO alerts_raw
(ts, alert_id, rule_id, rule_name, severity,
 ts_first, ts_last, window_s, entity_key,
 hits, context_json, source, status)`

// insertAlerts bulk-inserts a batch of alerts into alerts_raw.
func insertAlerts(ctx context.Context, conn storage.Conn, alerts []Alert) error {
	batch, err := conn.PrepareBatch(ctx, insertAlertsQuery)
	if err != nil {
		return fmt.Errorf("prepare alerts batch: %w", err)
	}

	for _, a := range alerts {
		if err := batch.Append(
			a.TS, a.AlertID, a.RuleID, a.RuleName, a.Severity,
			a.TSFirst, a.TSLast, a.WindowS, a.EntityKey,
			a.Hits, a.ContextJSON, a.Source, a.Status,
		); err != nil {
			return fmt.Errorf("append alert %s: %w", a.AlertID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send alerts batch: %w", err)
	}
	return nil
}
