// Package correlator detects threshold rule matches over sliding time
// windows (stream correlator) and runs scheduled SQL correlation rules
// (batch correlator).
package correlator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/arc-sec/siem-pipeline/internal/broker"
)

// WindowStore keeps per-(rule, entity) sliding-window state in the broker:
// an ordered set of message ids scored by arrival time, plus a scalar with
// the last alert emission time.
//
// The add / evict / count / read-last-alert sequence is pipelined but not
// atomic across commands; correctness relies on the documented single-writer
// constraint for each (rule, entity).
type WindowStore struct {
	rdb *redis.Client
}

// NewWindowStore creates a window store over the broker connection.
func NewWindowStore(client *broker.Client) *WindowStore {
	return &WindowStore{rdb: client.RDB}
}

func windowKey(ruleID uint32, entityKey string) string {
	return fmt.Sprintf("stream_corr:rule:%d:ent:%s", ruleID, entityKey)
}

func lastAlertKey(ruleID uint32, entityKey string) string {
	return fmt.Sprintf("stream_corr:last_alert:%d:%s", ruleID, entityKey)
}

// Update inserts member at time now (unix seconds), evicts window members
// with score <= now-windowS and returns the resulting window size together
// with the last alert timestamp (0 when no alert has been emitted yet).
func (s *WindowStore) Update(ctx context.Context, ruleID uint32, entityKey, member string, now float64, windowS uint32) (count int64, lastAlert float64, err error) {
	zkey := windowKey(ruleID, entityKey)
	akey := lastAlertKey(ruleID, entityKey)
	windowStart := now - float64(windowS)

	var (
		cardCmd *redis.IntCmd
		lastCmd *redis.StringCmd
	)
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, zkey, redis.Z{Score: now, Member: member})
		pipe.ZRemRangeByScore(ctx, zkey, "-inf", strconv.FormatFloat(windowStart, 'f', -1, 64))
		cardCmd = pipe.ZCard(ctx, zkey)
		lastCmd = pipe.Get(ctx, akey)
		return nil
	})
	// Pipelined returns redis.Nil when the last-alert key is absent; the
	// remaining commands have still executed.
	if err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("window update %s: %w", zkey, err)
	}

	count = cardCmd.Val()
	if raw, getErr := lastCmd.Result(); getErr == nil && raw != "" {
		lastAlert, _ = strconv.ParseFloat(raw, 64)
	}
	return count, lastAlert, nil
}

// MarkAlert records now as the last alert emission for (rule, entity),
// suppressing re-alerts until the window has passed.
func (s *WindowStore) MarkAlert(ctx context.Context, ruleID uint32, entityKey string, now float64) error {
	key := lastAlertKey(ruleID, entityKey)
	if err := s.rdb.Set(ctx, key, strconv.FormatFloat(now, 'f', -1, 64), 0).Err(); err != nil {
		return fmt.Errorf("mark alert %s: %w", key, err)
	}
	return nil
}
