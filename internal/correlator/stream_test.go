package correlator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap/zaptest"

	"github.com/arc-sec/siem-pipeline/internal/broker"
	"github.com/arc-sec/siem-pipeline/internal/fexpr"
	"github.com/arc-sec/siem-pipeline/internal/rules"
	"github.com/arc-sec/siem-pipeline/internal/storage/storagetest"
)

func newTestClient(t *testing.T) *broker.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &broker.Client{RDB: rdb, Log: zaptest.NewLogger(t)}
}

func TestWindowStoreUpdate(t *testing.T) {
	ctx := context.Background()
	windows := NewWindowStore(newTestClient(t))

	count, lastAlert, err := windows.Update(ctx, 1, "10.0.0.1", "1-1", 100, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, float64(0), lastAlert)

	count, _, err = windows.Update(ctx, 1, "10.0.0.1", "1-2", 110, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, _, err = windows.Update(ctx, 1, "10.0.0.1", "1-3", 120, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Members older than now-window_s are evicted.
	count, _, err = windows.Update(ctx, 1, "10.0.0.1", "1-4", 200, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestWindowStoreMarkAlert(t *testing.T) {
	ctx := context.Background()
	windows := NewWindowStore(newTestClient(t))

	require.NoError(t, windows.MarkAlert(ctx, 1, "10.0.0.1", 120))

	_, lastAlert, err := windows.Update(ctx, 1, "10.0.0.1", "1-1", 125, 60)
	require.NoError(t, err)
	assert.Equal(t, float64(120), lastAlert)
}

// Windows are keyed per (rule, entity); different entities do not share state.
func TestWindowStoreSeparateEntities(t *testing.T) {
	ctx := context.Background()
	windows := NewWindowStore(newTestClient(t))

	_, _, err := windows.Update(ctx, 1, "10.0.0.1", "1-1", 100, 60)
	require.NoError(t, err)

	count, _, err := windows.Update(ctx, 1, "10.0.0.2", "1-2", 100, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, _, err = windows.Update(ctx, 2, "10.0.0.1", "1-3", 100, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func newTestWorker(t *testing.T, client *broker.Client, conn *storagetest.FakeConn, ruleSet []rules.StreamRule, at time.Time) *StreamWorker {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reloader := rules.NewReloader(func(context.Context) ([]rules.StreamRule, error) {
		return ruleSet, nil
	}, 0, logger)
	require.NoError(t, reloader.Load(context.Background()))

	return &StreamWorker{
		group:    broker.NewGroupConsumer(client, "filtered", "stream-correlator", "c1", 10, logger),
		conn:     conn,
		windows:  NewWindowStore(client),
		reloader: reloader,
		now:      func() time.Time { return at },
		tracer:   otel.Tracer("test"),
		log:      logger,
	}
}

func thresholdRule(t *testing.T, threshold uint32) rules.StreamRule {
	t.Helper()
	rule := rules.StreamRule{
		ID:          1,
		Name:        "ssh-brute-force",
		Severity:    "high",
		Pattern:     rules.PatternThreshold,
		WindowS:     60,
		Threshold:   threshold,
		ExprText:    "event.category == 'auth'",
		EntityField: "source.ip",
	}
	expr, err := fexpr.Parse(rule.ExprText)
	require.NoError(t, err)
	rule.Expr = expr
	return rule
}

func TestShouldAlertThreshold(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	rule := thresholdRule(t, 3)
	w := newTestWorker(t, client, &storagetest.FakeConn{}, []rules.StreamRule{rule}, time.Unix(100, 0))

	hits, ok := w.shouldAlert(ctx, &rule, "10.0.0.1", "1-1", 100)
	assert.False(t, ok)
	assert.Equal(t, int64(1), hits)

	_, ok = w.shouldAlert(ctx, &rule, "10.0.0.1", "1-2", 101)
	assert.False(t, ok)

	hits, ok = w.shouldAlert(ctx, &rule, "10.0.0.1", "1-3", 102)
	assert.True(t, ok)
	assert.Equal(t, int64(3), hits)

	// Above threshold but still inside the alerted window: suppressed.
	_, ok = w.shouldAlert(ctx, &rule, "10.0.0.1", "1-4", 103)
	assert.False(t, ok)
}

func TestShouldAlertReAlertsAfterWindow(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	rule := thresholdRule(t, 1)
	w := newTestWorker(t, client, &storagetest.FakeConn{}, []rules.StreamRule{rule}, time.Unix(100, 0))

	_, ok := w.shouldAlert(ctx, &rule, "10.0.0.1", "1-1", 100)
	assert.True(t, ok)

	_, ok = w.shouldAlert(ctx, &rule, "10.0.0.1", "1-2", 130)
	assert.False(t, ok)

	// now - last_alert >= window_s permits a new alert.
	_, ok = w.shouldAlert(ctx, &rule, "10.0.0.1", "1-3", 170)
	assert.True(t, ok)
}

func publishAuthEvents(t *testing.T, client *broker.Client, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, client.Publish(context.Background(), "filtered", map[string]interface{}{
			"event.category": "auth",
			"source.ip":      "1.2.3.4",
		}))
	}
}

func TestProcessBatchInsertsAndAcks(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	conn := &storagetest.FakeConn{}
	w := newTestWorker(t, client, conn, []rules.StreamRule{thresholdRule(t, 3)}, time.Unix(1000, 0))

	require.NoError(t, w.group.EnsureGroup(ctx))
	publishAuthEvents(t, client, 3)

	msgs, err := w.group.Next(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	w.processBatch(ctx, msgs)

	rows := conn.SentRows()
	require.Len(t, rows, 1)
	assert.Equal(t, uint32(1), rows[0][2])     // rule_id
	assert.Equal(t, "high", rows[0][4])        // severity
	assert.Equal(t, "1.2.3.4", rows[0][8])     // entity_key
	assert.Equal(t, uint32(3), rows[0][9])     // hits
	assert.Equal(t, "stream", rows[0][11])     // source
	assert.Equal(t, "open", rows[0][12])       // status

	pending, err := client.RDB.XPending(ctx, "filtered", "stream-correlator").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

// A failed alerts insert leaves the whole batch pending for redelivery.
func TestProcessBatchInsertFailureLeavesPending(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	conn := &storagetest.FakeConn{SendErr: errors.New("column store down")}
	w := newTestWorker(t, client, conn, []rules.StreamRule{thresholdRule(t, 3)}, time.Unix(1000, 0))

	require.NoError(t, w.group.EnsureGroup(ctx))
	publishAuthEvents(t, client, 3)

	msgs, err := w.group.Next(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	w.processBatch(ctx, msgs)

	assert.Empty(t, conn.SentRows())
	pending, err := client.RDB.XPending(ctx, "filtered", "stream-correlator").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), pending.Count)

	// Redelivery after the alert window was marked: the batch acks without
	// emitting a duplicate alert.
	conn.SendErr = nil
	w.processBatch(ctx, msgs)

	assert.Empty(t, conn.SentRows())
	pending, err = client.RDB.XPending(ctx, "filtered", "stream-correlator").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

// Events whose entity field is empty never create window state or alerts.
func TestProcessBatchSkipsEmptyEntity(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	conn := &storagetest.FakeConn{}
	w := newTestWorker(t, client, conn, []rules.StreamRule{thresholdRule(t, 1)}, time.Unix(1000, 0))

	require.NoError(t, w.group.EnsureGroup(ctx))
	require.NoError(t, client.Publish(ctx, "filtered", map[string]interface{}{
		"event.category": "auth",
	}))

	msgs, err := w.group.Next(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	w.processBatch(ctx, msgs)

	assert.Empty(t, conn.SentRows())
	pending, err := client.RDB.XPending(ctx, "filtered", "stream-correlator").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}
