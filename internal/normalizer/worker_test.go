package normalizer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-sec/siem-pipeline/internal/broker"
	"github.com/arc-sec/siem-pipeline/internal/config"
	"github.com/arc-sec/siem-pipeline/internal/rules"
)

func newTestClient(t *testing.T) *broker.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &broker.Client{RDB: rdb, Log: zaptest.NewLogger(t)}
}

func TestWorkerNormalizesRawStream(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	logger := zaptest.NewLogger(t)

	ruleSet := []rules.NormalizerRule{{
		ID:      1,
		Mapping: []rules.FieldMapping{mustMapping(t, "source.ip", "src_ip")},
	}}
	reloader := rules.NewReloader(func(context.Context) ([]rules.NormalizerRule, error) {
		return ruleSet, nil
	}, 0, logger)

	w := NewWorker(client, config.Streams{Raw: "raw", Normalized: "normalized"},
		config.Normalizer{BatchSize: 10}, reloader, logger)

	require.NoError(t, client.Publish(ctx, "raw", map[string]interface{}{
		"source":      "fw01",
		"source_type": "syslog",
		"message":     "login failed",
		"src_ip":      "10.0.0.1",
	}))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = w.Run(runCtx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		n, err := client.RDB.XLen(ctx, "normalized").Result()
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	msgs, err := client.RDB.XRange(ctx, "normalized", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "10.0.0.1", msgs[0].Values["source.ip"])
	assert.Equal(t, "syslog", msgs[0].Values["event.provider"])
	assert.Equal(t, "login failed", msgs[0].Values["event.original"])
}
