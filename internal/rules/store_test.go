package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-sec/siem-pipeline/internal/storage/storagetest"
)

func TestNormalizerRules(t *testing.T) {
	conn := &storagetest.FakeConn{
		QueryFunc: func(query string) ([][]any, error) {
			require.Contains(t, query, "normalizer_rules")
			return [][]any{
				{uint32(1), uint16(10), "syslog", "", `{"event.category":"cat","source.ip":"src_ip"}`},
			}, nil
		},
	}
	store := NewStore(conn, zaptest.NewLogger(t))

	loaded, err := store.NormalizerRules(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	rule := loaded[0]
	assert.Equal(t, uint32(1), rule.ID)
	assert.Equal(t, "syslog", rule.SourceType)
	require.Len(t, rule.Mapping, 2)
	// Mapping entries come out in sorted field order.
	assert.Equal(t, "event.category", rule.Mapping[0].Field)
	assert.Equal(t, "source.ip", rule.Mapping[1].Field)
}

// A mapping entry that fails to compile is dropped; the rest of the rule
// survives.
func TestNormalizerRulesBadMappingEntry(t *testing.T) {
	conn := &storagetest.FakeConn{
		QueryFunc: func(string) ([][]any, error) {
			return [][]any{
				{uint32(1), uint16(10), "syslog", "", `{"event.category":"cat","source.ip":"bad["}`},
			}, nil
		},
	}
	store := NewStore(conn, zaptest.NewLogger(t))

	loaded, err := store.NormalizerRules(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Len(t, loaded[0].Mapping, 1)
	assert.Equal(t, "event.category", loaded[0].Mapping[0].Field)
}

// A row whose uem_mapping is not valid JSON is skipped entirely.
func TestNormalizerRulesBadJSON(t *testing.T) {
	conn := &storagetest.FakeConn{
		QueryFunc: func(string) ([][]any, error) {
			return [][]any{
				{uint32(1), uint16(10), "syslog", "", `not json`},
				{uint32(2), uint16(20), "http_json", "", `{}`},
			}, nil
		},
	}
	store := NewStore(conn, zaptest.NewLogger(t))

	loaded, err := store.NormalizerRules(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, uint32(2), loaded[0].ID)
}

func TestFilterRules(t *testing.T) {
	conn := &storagetest.FakeConn{
		QueryFunc: func(query string) ([][]any, error) {
			require.Contains(t, query, "filter_rules")
			return [][]any{
				{uint32(1), "drop-debug", "", uint16(1), "log.level == 'debug'", "drop", []string{}},
				{uint32(2), "tag-auth", "", uint16(2), "event.category == 'auth'", "tag", []string{"auth"}},
			}, nil
		},
	}
	store := NewStore(conn, zaptest.NewLogger(t))

	loaded, err := store.FilterRules(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, ActionDrop, loaded[0].Action)
	assert.NotNil(t, loaded[0].Expr)
	assert.Equal(t, ActionTag, loaded[1].Action)
	assert.Equal(t, []string{"auth"}, loaded[1].Tags)
}

// A filter rule with an unparseable expression is kept with a nil Expr so
// the rest of the set stays intact.
func TestFilterRulesParseFailureKeepsRule(t *testing.T) {
	conn := &storagetest.FakeConn{
		QueryFunc: func(string) ([][]any, error) {
			return [][]any{
				{uint32(1), "broken", "", uint16(1), "a == ", "drop", []string{}},
				{uint32(2), "ok", "", uint16(2), "b == '1'", "drop", []string{}},
			}, nil
		},
	}
	store := NewStore(conn, zaptest.NewLogger(t))

	loaded, err := store.FilterRules(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Nil(t, loaded[0].Expr)
	assert.NotNil(t, loaded[1].Expr)
}

func TestStreamRules(t *testing.T) {
	conn := &storagetest.FakeConn{
		QueryFunc: func(query string) ([][]any, error) {
			require.Contains(t, query, "correlation_rules_stream")
			return [][]any{
				{uint32(1), "brute-force", "", "high", "threshold", uint32(60), uint32(5), "event.category == 'auth'", "source.ip"},
			}, nil
		},
	}
	store := NewStore(conn, zaptest.NewLogger(t))

	loaded, err := store.StreamRules(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	rule := loaded[0]
	assert.Equal(t, "brute-force", rule.Name)
	assert.Equal(t, PatternThreshold, rule.Pattern)
	assert.Equal(t, uint32(60), rule.WindowS)
	assert.Equal(t, uint32(5), rule.Threshold)
	assert.Equal(t, "source.ip", rule.EntityField)
	assert.NotNil(t, rule.Expr)
}

func TestBatchRules(t *testing.T) {
	conn := &storagetest.FakeConn{
		QueryFunc: func(query string) ([][]any, error) {
			require.Contains(t, query, "correlation_rules_batch")
			return [][]any{
				{uint32(7), "spike", uint32(300), "INSERT INTO alerts_raw SELECT ... {WINDOW_S}"},
			}, nil
		},
	}
	store := NewStore(conn, zaptest.NewLogger(t))

	loaded, err := store.BatchRules(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, uint32(7), loaded[0].ID)
	assert.True(t, strings.Contains(loaded[0].SQLTemplate, "{WINDOW_S}"))
}
