package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/arc-sec/siem-pipeline/internal/fexpr"
	"github.com/arc-sec/siem-pipeline/internal/mapexpr"
	"github.com/arc-sec/siem-pipeline/internal/storage"
)

// Store reads rule tables from the column store.
type Store struct {
	conn storage.Conn
	log  *zap.Logger
}

// NewStore creates a rule store over an open connection.
func NewStore(conn storage.Conn, logger *zap.Logger) *Store {
	return &Store{conn: conn, log: logger}
}

const normalizerRulesQuery = `
SELECT id, priority, source_type, event_matcher, uem_mapping
FROM normalizer_rules
WHERE enabled = 1
ORDER BY priority ASC, id ASC`

// NormalizerRules loads enabled normalizer rules in (priority, id) order.
// Mapping expressions are compiled here; an entry that fails to compile is
// logged and excluded without invalidating the rest of the rule.
func (s *Store) NormalizerRules(ctx context.Context) ([]NormalizerRule, error) {
	rows, err := s.conn.Query(ctx, normalizerRulesQuery)
	if err != nil {
		return nil, fmt.Errorf("query normalizer_rules: %w", err)
	}
	defer rows.Close()

	var out []NormalizerRule
	for rows.Next() {
		var (
			rule       NormalizerRule
			mappingRaw string
		)
		if err := rows.Scan(&rule.ID, &rule.Priority, &rule.SourceType, &rule.EventMatcher, &mappingRaw); err != nil {
			return nil, fmt.Errorf("scan normalizer_rules: %w", err)
		}

		var mapping map[string]string
		if err := json.Unmarshal([]byte(mappingRaw), &mapping); err != nil {
			s.log.Error("failed to parse uem_mapping JSON",
				zap.Uint32("rule_id", rule.ID),
				zap.Error(err),
			)
			continue
		}

		fields := make([]string, 0, len(mapping))
		for field := range mapping {
			fields = append(fields, field)
		}
		sort.Strings(fields)

		for _, field := range fields {
			expr, err := mapexpr.Compile(mapping[field])
			if err != nil {
				s.log.Error("failed to compile uem_mapping expression",
					zap.Uint32("rule_id", rule.ID),
					zap.String("uem_field", field),
					zap.String("expr", mapping[field]),
					zap.Error(err),
				)
				continue
			}
			rule.Mapping = append(rule.Mapping, FieldMapping{Field: field, Expr: expr})
		}

		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read normalizer_rules: %w", err)
	}

	s.log.Info("loaded normalizer rules", zap.Int("count", len(out)))
	return out, nil
}

const filterRulesQuery = `
SELECT id, name, description, priority, expr, action, tags
FROM filter_rules
WHERE enabled = 1
ORDER BY priority ASC, id ASC`

// FilterRules loads enabled filter rules in (priority, id) order. A rule
// whose expression fails to parse keeps a nil Expr and is skipped at
// evaluation time; the rest of the set stays intact.
func (s *Store) FilterRules(ctx context.Context) ([]FilterRule, error) {
	rows, err := s.conn.Query(ctx, filterRulesQuery)
	if err != nil {
		return nil, fmt.Errorf("query filter_rules: %w", err)
	}
	defer rows.Close()

	var out []FilterRule
	for rows.Next() {
		var (
			rule   FilterRule
			action string
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.Priority, &rule.ExprText, &action, &rule.Tags); err != nil {
			return nil, fmt.Errorf("scan filter_rules: %w", err)
		}
		rule.Action = Action(action)

		if rule.ExprText != "" {
			expr, err := fexpr.Parse(rule.ExprText)
			if err != nil {
				s.log.Error("failed to parse filter expr",
					zap.Uint32("rule_id", rule.ID),
					zap.String("expr", rule.ExprText),
					zap.Error(err),
				)
			} else {
				rule.Expr = expr
			}
		}

		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read filter_rules: %w", err)
	}

	s.log.Info("loaded filter rules", zap.Int("count", len(out)))
	return out, nil
}

const streamRulesQuery = `
SELECT id, name, description, severity, pattern, window_s, threshold, expr, entity_field
FROM correlation_rules_stream
WHERE enabled = 1
ORDER BY id`

// StreamRules loads enabled stream correlation rules.
func (s *Store) StreamRules(ctx context.Context) ([]StreamRule, error) {
	rows, err := s.conn.Query(ctx, streamRulesQuery)
	if err != nil {
		return nil, fmt.Errorf("query correlation_rules_stream: %w", err)
	}
	defer rows.Close()

	var out []StreamRule
	for rows.Next() {
		var rule StreamRule
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description, &rule.Severity, &rule.Pattern,
			&rule.WindowS, &rule.Threshold, &rule.ExprText, &rule.EntityField,
		); err != nil {
			return nil, fmt.Errorf("scan correlation_rules_stream: %w", err)
		}

		if rule.ExprText != "" {
			expr, err := fexpr.Parse(rule.ExprText)
			if err != nil {
				s.log.Error("failed to parse stream correlation expr",
					zap.Uint32("rule_id", rule.ID),
					zap.String("expr", rule.ExprText),
					zap.Error(err),
				)
			} else {
				rule.Expr = expr
			}
		}

		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read correlation_rules_stream: %w", err)
	}

	s.log.Info("loaded stream correlation rules", zap.Int("count", len(out)))
	return out, nil
}

const batchRulesQuery = `
SELECT id, name, window_s, sql_template
FROM correlation_rules_batch
WHERE enabled = 1
ORDER BY id`

// BatchRules loads enabled batch correlation rules ordered by id.
func (s *Store) BatchRules(ctx context.Context) ([]BatchRule, error) {
	rows, err := s.conn.Query(ctx, batchRulesQuery)
	if err != nil {
		return nil, fmt.Errorf("query correlation_rules_batch: %w", err)
	}
	defer rows.Close()

	var out []BatchRule
	for rows.Next() {
		var rule BatchRule
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.WindowS, &rule.SQLTemplate); err != nil {
			return nil, fmt.Errorf("scan correlation_rules_batch: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read correlation_rules_batch: %w", err)
	}

	s.log.Info("loaded batch correlation rules", zap.Int("count", len(out)))
	return out, nil
}
