// Package filter applies rule-driven pass/drop/tag decisions to normalized
// events.
package filter

import (
	"strings"

	"github.com/arc-sec/siem-pipeline/internal/event"
	"github.com/arc-sec/siem-pipeline/internal/rules"
)

// Decision is the filter outcome for one event.
type Decision string

const (
	DecisionPass Decision = "pass"
	DecisionDrop Decision = "drop"
	DecisionTag  Decision = "tag"
)

// Apply evaluates rules in (priority, id) order against the event and
// returns the decision together with the (possibly tagged) event.
//
// Rules with a nil expression are skipped. A matching drop rule returns
// immediately; the first matching tag rule appends its tags and stops
// iteration; a matching pass rule stops iteration without tagging. Any
// accumulated tags are written to the `tags` field, comma-joined after a
// pre-existing value.
//
// Apply is pure in (event, ruleSet): the input event is never mutated.
func Apply(ruleSet []rules.FilterRule, ev event.Event) (Decision, event.Event) {
	result := ev.Clone()
	var tags []string

	for i := range ruleSet {
		rule := &ruleSet[i]
		if rule.Expr == nil {
			continue
		}
		if !rule.Expr.Eval(ev) {
			continue
		}

		switch rule.Action {
		case rules.ActionDrop:
			return DecisionDrop, result
		case rules.ActionTag:
			tags = append(tags, rule.Tags...)
		}
		// Both tag and pass stop iteration on first match.
		break
	}

	if len(tags) > 0 {
		joined := strings.Join(tags, ",")
		if existing := result[event.FieldTags]; existing != "" {
			result[event.FieldTags] = existing + "," + joined
		} else {
			result[event.FieldTags] = joined
		}
		return DecisionTag, result
	}

	return DecisionPass, result
}
