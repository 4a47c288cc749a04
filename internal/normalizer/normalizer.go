// Package normalizer turns raw ingress events into Unified Event Model
// records.
package normalizer

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/arc-sec/siem-pipeline/internal/event"
	"github.com/arc-sec/siem-pipeline/internal/rules"
)

// Normalize applies the first enabled rule to a raw event and returns the
// UEM event, or ok=false when no rules are loaded.
//
// Rule selection is deliberately simplified: event_matcher is reserved and
// not evaluated, so the first rule in (priority, id) order wins. After the
// mapping runs, event.provider falls back to the raw source_type and
// event.original to the raw message (or a stringified raw event when the
// message field is absent), so both are never empty on output.
func Normalize(ruleSet []rules.NormalizerRule, raw event.Raw, logger *zap.Logger) (event.Event, bool) {
	if len(ruleSet) == 0 {
		return nil, false
	}
	rule := ruleSet[0]

	uem := make(event.Event, len(rule.Mapping)+2)
	for _, m := range rule.Mapping {
		value, err := m.Expr.Search(raw)
		if err != nil {
			logger.Error("failed to apply uem_mapping expression",
				zap.Uint32("rule_id", rule.ID),
				zap.String("uem_field", m.Field),
				zap.Error(err),
			)
			value = ""
		}
		uem[m.Field] = value
	}

	if uem[event.FieldProvider] == "" {
		uem[event.FieldProvider] = raw[event.RawSourceType]
	}
	if uem[event.FieldOriginal] == "" {
		if message, ok := raw[event.RawMessage]; ok {
			uem[event.FieldOriginal] = message
		} else {
			uem[event.FieldOriginal] = stringifyRaw(raw)
		}
	}

	return uem, true
}

// stringifyRaw renders a raw event for the event.original fallback when the
// source provided no message line.
func stringifyRaw(raw event.Raw) string {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprintf("%v", map[string]string(raw))
	}
	return string(data)
}
