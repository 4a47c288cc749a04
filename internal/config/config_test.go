package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDev, s.Env)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, "127.0.0.1:6379", s.Redis.Addr())
	assert.Equal(t, "127.0.0.1:9000", s.ClickHouse.Addr())
	assert.Equal(t, "siem", s.ClickHouse.Database)
	assert.Equal(t, 10*time.Second, s.ClickHouse.Timeout)

	assert.Equal(t, "raw", s.Streams.Raw)
	assert.Equal(t, "normalized", s.Streams.Normalized)
	assert.Equal(t, "filtered", s.Streams.Filtered)

	assert.Equal(t, 100, s.Normalizer.BatchSize)
	assert.Equal(t, time.Duration(0), s.Normalizer.ReloadInterval)
	assert.Equal(t, 30*time.Second, s.Filter.ReloadInterval)
	assert.Equal(t, WriterModeCursor, s.Writer.Mode)
	assert.Equal(t, "writer:last_id", s.Writer.LastIDKey)
	assert.Equal(t, 200, s.StreamCorr.BatchSize)
	assert.Equal(t, 60*time.Second, s.BatchCorr.Interval)
	assert.Equal(t, 30*time.Second, s.AlertAgg.Interval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SIEM_ENV", "prod")
	t.Setenv("SIEM_REDIS_HOST", "broker.internal")
	t.Setenv("SIEM_REDIS_PORT", "6380")
	t.Setenv("SIEM_WRITER_MODE", "group")
	t.Setenv("SIEM_WRITER_BATCH_SIZE", "500")
	t.Setenv("SIEM_NORMALIZER_RELOAD_SEC", "15")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvProd, s.Env)
	assert.Equal(t, "broker.internal:6380", s.Redis.Addr())
	assert.Equal(t, WriterModeGroup, s.Writer.Mode)
	assert.Equal(t, 500, s.Writer.BatchSize)
	assert.Equal(t, 15*time.Second, s.Normalizer.ReloadInterval)
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("SIEM_ENV", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIEM_ENV")
}

func TestLoadInvalidWriterMode(t *testing.T) {
	t.Setenv("SIEM_WRITER_MODE", "broadcast")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIEM_WRITER_MODE")
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("SIEM_WRITER_BATCH_SIZE", "many")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIEM_WRITER_BATCH_SIZE")
}
