// Package broker wraps the Redis client with the stream operations the
// pipeline stages share: capped appends, cursor-mode reads, consumer-group
// reads with explicit ack, and the scalar keys used for resume cursors.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arc-sec/siem-pipeline/internal/config"
)

// MaxStreamLen is the approximate cap applied on every stream append.
// Eviction is best-effort (XADD MAXLEN ~).
const MaxStreamLen = 1_000_000

// Client wraps a Redis connection shared by a worker process.
type Client struct {
	RDB *redis.Client
	Log *zap.Logger
}

// NewClient connects to the broker and verifies the connection.
func NewClient(ctx context.Context, cfg config.Redis, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		DB:       cfg.DB,
		Password: cfg.Password,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("broker ping: %w", err)
	}

	logger.Info("broker connected", zap.String("addr", cfg.Addr()), zap.Int("db", cfg.DB))
	return &Client{RDB: rdb, Log: logger}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.RDB.Close()
}

// Publish appends a record to a stream with the approximate cap.
func (c *Client) Publish(ctx context.Context, stream string, values map[string]interface{}) error {
	err := c.RDB.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: MaxStreamLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

// GetString reads a scalar key; a missing key returns "".
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	v, err := c.RDB.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

// SetString writes a scalar key without expiry.
func (c *Client) SetString(ctx context.Context, key, value string) error {
	if err := c.RDB.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
