// Package config loads per-stage settings from the environment.
//
// Every pipeline stage reads the same SIEM_* variables for the broker and the
// column store, plus a handful of stage-specific knobs (batch sizes, consumer
// group names, tick intervals). Outside prod a .env file at the working
// directory is loaded first, mirroring local development setups. When
// VAULT_ADDR is set, broker and column-store passwords may be overlaid from a
// Vault KV v2 secret.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Env is the deployment environment.
type Env string

const (
	EnvDev   Env = "dev"
	EnvStage Env = "stage"
	EnvProd  Env = "prod"
)

// Stream keys and state keys in the broker.
const (
	DefaultRawStream        = "raw"
	DefaultNormalizedStream = "normalized"
	DefaultFilteredStream   = "filtered"
	DefaultWriterLastIDKey  = "writer:last_id"
)

// Redis holds broker connection settings.
type Redis struct {
	Host     string
	Port     int
	DB       int
	Password string
}

// Addr returns the host:port dial address.
func (r Redis) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// ClickHouse holds column-store connection settings (native protocol).
type ClickHouse struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Timeout  time.Duration
}

// Addr returns the host:port dial address.
func (c ClickHouse) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Streams holds the broker stream key names.
type Streams struct {
	Raw        string
	Normalized string
	Filtered   string
}

// Normalizer holds normalizer-stage settings.
type Normalizer struct {
	BatchSize int
	// ReloadInterval of 0 keeps the original startup-only rule load.
	ReloadInterval time.Duration
}

// Filter holds filter-stage settings.
type Filter struct {
	BatchSize      int
	ReloadInterval time.Duration
}

// WriterMode selects how the writer consumes the FILTERED stream.
type WriterMode string

const (
	// WriterModeCursor tracks last_id in a broker key (single instance only).
	WriterModeCursor WriterMode = "cursor"
	// WriterModeGroup uses a consumer group with per-message acks.
	WriterModeGroup WriterMode = "group"
)

// Writer holds writer-stage settings.
type Writer struct {
	BatchSize int
	Mode      WriterMode
	LastIDKey string
	Group     string
	Consumer  string
}

// StreamCorr holds stream-correlator settings.
type StreamCorr struct {
	BatchSize      int
	Group          string
	Consumer       string
	ReloadInterval time.Duration
}

// BatchCorr holds batch-correlator settings.
type BatchCorr struct {
	Interval time.Duration
}

// AlertAgg holds alerts-aggregator settings.
type AlertAgg struct {
	Interval time.Duration
}

// Settings is the full per-process configuration.
type Settings struct {
	Env          Env
	LogLevel     string
	InstanceName string
	OpsAddr      string

	Redis      Redis
	ClickHouse ClickHouse
	Streams    Streams

	Normalizer Normalizer
	Filter     Filter
	Writer     Writer
	StreamCorr StreamCorr
	BatchCorr  BatchCorr
	AlertAgg   AlertAgg
}

// Load reads settings from the environment, applying the .env file outside
// prod and the optional Vault overlay.
func Load() (*Settings, error) {
	env := Env(strings.ToLower(getEnv("SIEM_ENV", string(EnvDev))))
	switch env {
	case EnvDev, EnvStage, EnvProd:
	default:
		return nil, fmt.Errorf("invalid SIEM_ENV %q", env)
	}

	if env != EnvProd {
		// Best effort: a missing .env is fine.
		_ = godotenv.Load()
	}

	if err := overlayVaultSecrets(); err != nil {
		return nil, fmt.Errorf("vault overlay: %w", err)
	}

	redisPort, err := intEnv("SIEM_REDIS_PORT", 6379)
	if err != nil {
		return nil, err
	}
	redisDB, err := intEnv("SIEM_REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	chPort, err := intEnv("SIEM_CH_PORT", 9000)
	if err != nil {
		return nil, err
	}
	chTimeout, err := intEnv("SIEM_CH_TIMEOUT_SECS", 10)
	if err != nil {
		return nil, err
	}

	normBatch, err := intEnv("SIEM_NORMALIZER_BATCH_SIZE", 100)
	if err != nil {
		return nil, err
	}
	normReload, err := intEnv("SIEM_NORMALIZER_RELOAD_SEC", 0)
	if err != nil {
		return nil, err
	}
	filterBatch, err := intEnv("SIEM_FILTER_BATCH_SIZE", 100)
	if err != nil {
		return nil, err
	}
	filterReload, err := intEnv("SIEM_FILTER_RELOAD_SEC", 30)
	if err != nil {
		return nil, err
	}
	writerBatch, err := intEnv("SIEM_WRITER_BATCH_SIZE", 100)
	if err != nil {
		return nil, err
	}
	corrBatch, err := intEnv("SIEM_STREAM_CORR_BATCH_SIZE", 200)
	if err != nil {
		return nil, err
	}
	corrReload, err := intEnv("SIEM_STREAM_CORR_RELOAD_SEC", 60)
	if err != nil {
		return nil, err
	}
	batchCorrInterval, err := intEnv("SIEM_BATCH_CORR_INTERVAL_SEC", 60)
	if err != nil {
		return nil, err
	}
	alertAggInterval, err := intEnv("SIEM_ALERT_AGG_INTERVAL_SEC", 30)
	if err != nil {
		return nil, err
	}

	writerMode := WriterMode(getEnv("SIEM_WRITER_MODE", string(WriterModeCursor)))
	switch writerMode {
	case WriterModeCursor, WriterModeGroup:
	default:
		return nil, fmt.Errorf("invalid SIEM_WRITER_MODE %q", writerMode)
	}

	s := &Settings{
		Env:          env,
		LogLevel:     strings.ToLower(getEnv("SIEM_LOG_LEVEL", "info")),
		InstanceName: getEnv("SIEM_INSTANCE_NAME", "default"),
		OpsAddr:      getEnv("SIEM_OPS_ADDR", ""),
		Redis: Redis{
			Host:     getEnv("SIEM_REDIS_HOST", "127.0.0.1"),
			Port:     redisPort,
			DB:       redisDB,
			Password: os.Getenv("SIEM_REDIS_PASSWORD"),
		},
		ClickHouse: ClickHouse{
			Host:     getEnv("SIEM_CH_HOST", "127.0.0.1"),
			Port:     chPort,
			Database: getEnv("SIEM_CH_DB", "siem"),
			User:     getEnv("SIEM_CH_USER", "siem_admin"),
			Password: os.Getenv("SIEM_CH_PASSWORD"),
			Timeout:  time.Duration(chTimeout) * time.Second,
		},
		Streams: Streams{
			Raw:        getEnv("SIEM_REDIS_STREAM_RAW", DefaultRawStream),
			Normalized: getEnv("SIEM_REDIS_STREAM_NORMALIZED", DefaultNormalizedStream),
			Filtered:   getEnv("SIEM_REDIS_STREAM_FILTERED", DefaultFilteredStream),
		},
		Normalizer: Normalizer{
			BatchSize:      normBatch,
			ReloadInterval: time.Duration(normReload) * time.Second,
		},
		Filter: Filter{
			BatchSize:      filterBatch,
			ReloadInterval: time.Duration(filterReload) * time.Second,
		},
		Writer: Writer{
			BatchSize: writerBatch,
			Mode:      writerMode,
			LastIDKey: getEnv("SIEM_WRITER_LAST_ID_KEY", DefaultWriterLastIDKey),
			Group:     getEnv("SIEM_WRITER_GROUP", "writer"),
			Consumer:  getEnv("SIEM_WRITER_CONSUMER", "writer-1"),
		},
		StreamCorr: StreamCorr{
			BatchSize:      corrBatch,
			Group:          getEnv("SIEM_STREAM_CORR_GROUP", "stream_corr"),
			Consumer:       getEnv("SIEM_STREAM_CORR_CONSUMER", "stream_corr-1"),
			ReloadInterval: time.Duration(corrReload) * time.Second,
		},
		BatchCorr: BatchCorr{
			Interval: time.Duration(batchCorrInterval) * time.Second,
		},
		AlertAgg: AlertAgg{
			Interval: time.Duration(alertAggInterval) * time.Second,
		},
	}

	return s, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}
