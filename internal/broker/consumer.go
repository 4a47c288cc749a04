package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// StartID is the sentinel cursor before any record has been read.
	StartID = "0-0"

	defaultBlock  = 5 * time.Second
	errorBackoff  = time.Second
	groupStartAll = ">"
)

// CursorConsumer reads a stream with a client-side cursor (XREAD after
// last_id). The cursor is advanced explicitly by the caller, only after all
// downstream side effects for a record have succeeded.
type CursorConsumer struct {
	client *Client
	stream string
	lastID string
	count  int64
	block  time.Duration
	log    *zap.Logger
}

// NewCursorConsumer creates a cursor consumer starting after startID
// (use StartID to read the stream from the beginning).
func NewCursorConsumer(client *Client, stream, startID string, count int, logger *zap.Logger) *CursorConsumer {
	return &CursorConsumer{
		client: client,
		stream: stream,
		lastID: startID,
		count:  int64(count),
		block:  defaultBlock,
		log:    logger,
	}
}

// LastID returns the current cursor position.
func (c *CursorConsumer) LastID() string {
	return c.lastID
}

// Advance moves the cursor past id. Ids are lexicographically monotone, so
// the largest processed id is always the last one handed out.
func (c *CursorConsumer) Advance(id string) {
	c.lastID = id
}

// Next blocks for the next batch of records after the cursor. It returns an
// empty batch on block timeout, retries transport errors with a one-second
// backoff without advancing the cursor, and returns only when records are
// available or ctx is done.
func (c *CursorConsumer) Next(ctx context.Context) ([]redis.XMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		streams, err := c.client.RDB.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.stream, c.lastID},
			Count:   c.count,
			Block:   c.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			// Block timeout with no records.
			return nil, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Error("broker read failed",
				zap.String("stream", c.stream),
				zap.String("last_id", c.lastID),
				zap.Error(err),
			)
			sleepCtx(ctx, errorBackoff)
			continue
		}

		for _, s := range streams {
			if s.Stream == c.stream && len(s.Messages) > 0 {
				return s.Messages, nil
			}
		}
		return nil, nil
	}
}

// GroupConsumer reads a stream through a broker-side consumer group with
// explicit acknowledgment.
type GroupConsumer struct {
	client   *Client
	stream   string
	group    string
	consumer string
	count    int64
	block    time.Duration
	log      *zap.Logger
}

// NewGroupConsumer creates a consumer-group reader.
func NewGroupConsumer(client *Client, stream, group, consumer string, count int, logger *zap.Logger) *GroupConsumer {
	return &GroupConsumer{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		count:    int64(count),
		block:    defaultBlock,
		log:      logger,
	}
}

// EnsureGroup creates the consumer group at StartID with MKSTREAM.
// BUSYGROUP means the group already exists and is not an error.
func (g *GroupConsumer) EnsureGroup(ctx context.Context) error {
	err := g.client.RDB.XGroupCreateMkStream(ctx, g.stream, g.group, StartID).Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			g.log.Info("consumer group already exists",
				zap.String("stream", g.stream),
				zap.String("group", g.group),
			)
			return nil
		}
		return fmt.Errorf("create group %s on %s: %w", g.group, g.stream, err)
	}

	g.log.Info("consumer group created",
		zap.String("stream", g.stream),
		zap.String("group", g.group),
	)
	return nil
}

// Next blocks for the next batch of records past the group cursor.
// Semantics mirror CursorConsumer.Next.
func (g *GroupConsumer) Next(ctx context.Context) ([]redis.XMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		streams, err := g.client.RDB.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    g.group,
			Consumer: g.consumer,
			Streams:  []string{g.stream, groupStartAll},
			Count:    g.count,
			Block:    g.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.log.Error("broker group read failed",
				zap.String("stream", g.stream),
				zap.String("group", g.group),
				zap.Error(err),
			)
			sleepCtx(ctx, errorBackoff)
			continue
		}

		for _, s := range streams {
			if s.Stream == g.stream && len(s.Messages) > 0 {
				return s.Messages, nil
			}
		}
		return nil, nil
	}
}

// Ack acknowledges processed record ids.
func (g *GroupConsumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := g.client.RDB.XAck(ctx, g.stream, g.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s/%s: %w", g.stream, g.group, err)
	}
	return nil
}
