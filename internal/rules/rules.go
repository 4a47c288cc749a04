// Package rules loads the pipeline rule sets from the column store and keeps
// them fresh with a periodic reloader.
//
// A rule list is never mutated in place: loaders build a complete new slice
// and publish it with a single atomic swap, so consumers capture a
// consistent set once per event and use it throughout.
package rules

import (
	"github.com/arc-sec/siem-pipeline/internal/fexpr"
	"github.com/arc-sec/siem-pipeline/internal/mapexpr"
)

// Action is a filter rule outcome.
type Action string

const (
	ActionPass Action = "pass"
	ActionDrop Action = "drop"
	ActionTag  Action = "tag"
)

// PatternThreshold is the only stream correlation pattern currently handled.
const PatternThreshold = "threshold"

// FieldMapping binds one UEM field to its compiled extraction expression.
type FieldMapping struct {
	Field string
	Expr  *mapexpr.Expr
}

// NormalizerRule maps raw events into the UEM schema. EventMatcher is
// reserved and not evaluated: the first enabled rule is applied to every
// event until a matcher language is settled.
type NormalizerRule struct {
	ID           uint32
	Priority     uint16
	SourceType   string
	EventMatcher string
	Mapping      []FieldMapping
}

// FilterRule decides pass/drop/tag for normalized events.
// Expr is nil when the rule's expression failed to parse at load time; such
// rules are skipped during evaluation.
type FilterRule struct {
	ID          uint32
	Name        string
	Description string
	Priority    uint16
	Action      Action
	Tags        []string
	ExprText    string
	Expr        fexpr.Expr
}

// StreamRule is a threshold correlation rule over a sliding time window.
type StreamRule struct {
	ID          uint32
	Name        string
	Description string
	Severity    string
	Pattern     string
	WindowS     uint32
	Threshold   uint32
	ExprText    string
	Expr        fexpr.Expr
	EntityField string
}

// BatchRule is an opaque templated statement run on a schedule; the literal
// token {WINDOW_S} is replaced with WindowS before execution.
type BatchRule struct {
	ID          uint32
	Name        string
	WindowS     uint32
	SQLTemplate string
}
