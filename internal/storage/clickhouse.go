// Package storage opens ClickHouse connections and narrows the driver
// surface to what the pipeline actually uses, so workers accept an interface
// and tests can fake it.
package storage

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/arc-sec/siem-pipeline/internal/config"
)

// Conn is the subset of driver.Conn used by the pipeline.
type Conn interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open connects over the native protocol. Extra session settings (e.g.
// insert_deduplicate for the writer) may be supplied.
func Open(ctx context.Context, cfg config.ClickHouse, logger *zap.Logger, settings clickhouse.Settings) (Conn, error) {
	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr()},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: cfg.Timeout,
		ReadTimeout: cfg.Timeout,
	}
	if len(settings) > 0 {
		opts.Settings = settings
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	logger.Info("column store connected",
		zap.String("addr", cfg.Addr()),
		zap.String("database", cfg.Database),
	)
	return conn, nil
}

// WriterSettings enables server-side insert deduplication so redelivered
// batches do not duplicate rows (at-least-once upstream, dedup at the sink).
func WriterSettings() clickhouse.Settings {
	return clickhouse.Settings{"insert_deduplicate": 1}
}
