// Package config holds service defaults and the environment/file loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Server defaults
const (
	DefaultPort        = "8080"
	DefaultDataDir     = "./data/telemetryd"
	DefaultMaxMemoryMB = 48
)

// Partitioning and lifecycle defaults
const (
	DefaultPartitionWidth   = 7 * 24 * time.Hour
	DefaultCompressionAge   = 7 * 24 * time.Hour
	DefaultRetentionHorizon = 5 * 365 * 24 * time.Hour
	DefaultRollupRetention  = 10 * 365 * 24 * time.Hour
	LifecycleInterval       = 1 * time.Hour
	BadgerGCInterval        = 10 * time.Minute
)

// Heartbeat defaults. The timeout is 3x an assumed 5-minute reporting
// interval; there is no canonical value, so it is configuration.
const (
	DefaultHeartbeatTimeout = 15 * time.Minute
	HeartbeatSweepInterval  = 1 * time.Minute
)

// Query limits
const (
	QueryMaxLimit      = 1000
	QueryDefaultLimit  = 100
	QueryDefaultWindow = 24 * time.Hour
	QueryTimeout       = 30 * time.Second
)

// Ingest limits
const (
	IngestTimeout      = 5 * time.Second
	IngestNotifyBuffer = 1024

	// Buckets that lost a notification to a full buffer are recomputed
	// from raw rows on this cadence.
	RollupRepairInterval = 30 * time.Second
	DefaultRollupField = "value"
)

// Device list pagination
const (
	DevicesDefaultPageSize = 20
	DevicesMaxPageSize     = 100
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
)

// DeletePolicy controls what device deletion does with existing readings.
type DeletePolicy string

const (
	// DeleteRestrict rejects deletion while readings exist.
	DeleteRestrict DeletePolicy = "restrict"
	// DeleteCascade removes the device's readings and rollups with it.
	DeleteCascade DeletePolicy = "cascade"
)

// Config holds all runtime configuration.
type Config struct {
	ServiceName string
	Port        string
	DataDir     string
	InMemory    bool
	MaxMemoryMB int64

	PartitionWidth   time.Duration
	CompressionAge   time.Duration
	RetentionHorizon time.Duration
	RollupRetention  time.Duration

	HeartbeatTimeout time.Duration
	RollupField      string
	DeletePolicy     DeletePolicy
}

// fileConfig is the optional YAML config file shape. Environment variables
// override anything set here.
type fileConfig struct {
	Port             string `yaml:"port"`
	DataDir          string `yaml:"data_dir"`
	MaxMemoryMB      int64  `yaml:"max_memory_mb"`
	PartitionWidth   string `yaml:"partition_width"`
	CompressionAge   string `yaml:"compression_age"`
	RetentionHorizon string `yaml:"retention_horizon"`
	RollupRetention  string `yaml:"rollup_retention"`
	HeartbeatTimeout string `yaml:"heartbeat_timeout"`
	RollupField      string `yaml:"rollup_field"`
	DeletePolicy     string `yaml:"delete_policy"`
}

// Load builds the configuration from defaults, the optional YAML file named
// by TELEMETRYD_CONFIG, and TELEMETRYD_* environment variables, in that
// order of precedence.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:      "telemetryd",
		Port:             DefaultPort,
		DataDir:          DefaultDataDir,
		MaxMemoryMB:      DefaultMaxMemoryMB,
		PartitionWidth:   DefaultPartitionWidth,
		CompressionAge:   DefaultCompressionAge,
		RetentionHorizon: DefaultRetentionHorizon,
		RollupRetention:  DefaultRollupRetention,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
		RollupField:      DefaultRollupField,
		DeletePolicy:     DeleteRestrict,
	}

	if path := os.Getenv("TELEMETRYD_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("TELEMETRYD_PORT", cfg.Port)
	cfg.DataDir = getEnv("TELEMETRYD_DATA_DIR", cfg.DataDir)
	cfg.InMemory = getEnvBool("TELEMETRYD_IN_MEMORY", cfg.InMemory)
	cfg.MaxMemoryMB = getEnvInt64("TELEMETRYD_MAX_MEMORY_MB", cfg.MaxMemoryMB)
	cfg.PartitionWidth = getEnvDuration("TELEMETRYD_PARTITION_WIDTH", cfg.PartitionWidth)
	cfg.CompressionAge = getEnvDuration("TELEMETRYD_COMPRESSION_AGE", cfg.CompressionAge)
	cfg.RetentionHorizon = getEnvDuration("TELEMETRYD_RETENTION_HORIZON", cfg.RetentionHorizon)
	cfg.RollupRetention = getEnvDuration("TELEMETRYD_ROLLUP_RETENTION", cfg.RollupRetention)
	cfg.HeartbeatTimeout = getEnvDuration("TELEMETRYD_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	cfg.RollupField = getEnv("TELEMETRYD_ROLLUP_FIELD", cfg.RollupField)
	if v := os.Getenv("TELEMETRYD_DELETE_POLICY"); v != "" {
		cfg.DeletePolicy = DeletePolicy(v)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}
	if fc.Port != "" {
		c.Port = fc.Port
	}
	if fc.DataDir != "" {
		c.DataDir = fc.DataDir
	}
	if fc.MaxMemoryMB > 0 {
		c.MaxMemoryMB = fc.MaxMemoryMB
	}
	if fc.RollupField != "" {
		c.RollupField = fc.RollupField
	}
	if fc.DeletePolicy != "" {
		c.DeletePolicy = DeletePolicy(fc.DeletePolicy)
	}
	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{fc.PartitionWidth, &c.PartitionWidth},
		{fc.CompressionAge, &c.CompressionAge},
		{fc.RetentionHorizon, &c.RetentionHorizon},
		{fc.RollupRetention, &c.RollupRetention},
		{fc.HeartbeatTimeout, &c.HeartbeatTimeout},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) validate() error {
	if c.PartitionWidth <= 0 {
		return fmt.Errorf("partition width must be positive, got %v", c.PartitionWidth)
	}
	if c.RetentionHorizon < c.CompressionAge {
		return fmt.Errorf("retention horizon %v is shorter than compression age %v",
			c.RetentionHorizon, c.CompressionAge)
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat timeout must be positive, got %v", c.HeartbeatTimeout)
	}
	switch c.DeletePolicy {
	case DeleteRestrict, DeleteCascade:
	default:
		return fmt.Errorf("unknown delete policy %q (want %q or %q)",
			c.DeletePolicy, DeleteRestrict, DeleteCascade)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
