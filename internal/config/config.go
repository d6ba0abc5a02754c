// Package config loads the trace backbone's configuration through the same
// priority cascade the teacher's cmd/gasoline-cmd/config loader uses
// (defaults < global file < project file < env vars < flags), generalized
// to the nested YAML document §6 "Configuration" describes
// (streaming.auth.api_keys, snapshots.max_retention_ms, ...) rather than
// the teacher's flat JSON file, and parsed with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalConfigPath and ProjectConfigPath are the two cascade file
// locations, the trace-backbone analogues of the teacher's
// ~/.gasoline/config.json and ./.gasoline.json.
const (
	GlobalConfigPath  = "/etc/traceback/config.yaml"
	ProjectConfigPath = "./traceback.yaml"
)

// AuthConfig is §6 "streaming.auth".
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKeys []string `yaml:"api_keys"`
}

// RateLimitConfig is §6 "streaming.rate_limit".
type RateLimitConfig struct {
	WindowMs          int `yaml:"window_ms"`
	MaxMessages       int `yaml:"max_messages"`
	MaxBytesPerWindow int `yaml:"max_bytes_per_window"`
}

// BackpressureConfig is §6 "streaming.backpressure".
type BackpressureConfig struct {
	HighWater    int  `yaml:"high_water"`
	LowWater     int  `yaml:"low_water"`
	MaxQueueSize int  `yaml:"max_queue_size"`
	DropOldest   bool `yaml:"drop_oldest"`
}

// StreamingConfig is §6's "Streaming:" key group.
type StreamingConfig struct {
	Port                int                `yaml:"port"`
	MaxConnections      int                `yaml:"max_connections"`
	HeartbeatIntervalMs int                `yaml:"heartbeat_interval_ms"`
	MaxMessageSize      int64              `yaml:"max_message_size"`
	Auth                AuthConfig         `yaml:"auth"`
	RateLimit           RateLimitConfig    `yaml:"rate_limit"`
	Backpressure        BackpressureConfig `yaml:"backpressure"`
	BinaryProtocol      bool               `yaml:"binary_protocol"`
	HistoricalDataLimit int                `yaml:"historical_data_limit"`
}

// SnapshotsConfig is §6's "Snapshots:" key group.
type SnapshotsConfig struct {
	AutomaticIntervalMs  int  `yaml:"automatic_interval_ms"`
	MaxRetentionMs       int  `yaml:"max_retention_ms"`
	MaxSnapshotsPerSession int `yaml:"max_snapshots_per_session"`
	IncrementalEnabled   bool `yaml:"incremental_enabled"`
	ChecksumValidation   bool `yaml:"checksum_validation"`
	TaggedOnlyLongTerm   bool `yaml:"tagged_only_long_term"`
}

// Config holds every recognized key from §6 "Configuration" plus the
// storage location and retention-sweep schedule the store/collector need
// to be constructed, since spec.md describes the keys but not the process
// wiring (SPEC_FULL.md's cmd/tracebackd supplement).
type Config struct {
	Enabled                   bool            `yaml:"enabled"`
	SamplingRate              float64         `yaml:"sampling_rate"`
	BufferSize                int             `yaml:"buffer_size"`
	FlushIntervalMs           int             `yaml:"flush_interval_ms"`
	BatchSize                 int             `yaml:"batch_size"`
	StorageRetentionMs        int64           `yaml:"storage_retention_ms"`
	StorageRetentionErrorMs   int64           `yaml:"storage_retention_error_ms"`
	CompressionEnabled        bool            `yaml:"compression_enabled"`
	CompressionThresholdBytes int             `yaml:"compression_threshold_bytes"`
	RealtimeStreaming         bool            `yaml:"realtime_streaming"`
	PerformanceMonitoring     bool            `yaml:"performance_monitoring"`
	MaxEventsPerAgent         int             `yaml:"max_events_per_agent"`
	RetentionSweepSpec        string          `yaml:"retention_sweep_spec"`
	StoragePath               string          `yaml:"storage_path"`
	MetricsAddr               string          `yaml:"metrics_addr"`
	Streaming                 StreamingConfig `yaml:"streaming"`
	Snapshots                 SnapshotsConfig `yaml:"snapshots"`
}

// Defaults returns the base configuration, the bottom of the cascade.
func Defaults() Config {
	return Config{
		Enabled:                   true,
		SamplingRate:              1.0,
		BufferSize:                10000,
		FlushIntervalMs:           2000,
		BatchSize:                 100,
		StorageRetentionMs:        int64(7 * 24 * time.Hour / time.Millisecond),
		StorageRetentionErrorMs:   int64(30 * 24 * time.Hour / time.Millisecond),
		CompressionEnabled:        true,
		CompressionThresholdBytes: 1024,
		RealtimeStreaming:         true,
		PerformanceMonitoring:     false,
		MaxEventsPerAgent:         1000,
		RetentionSweepSpec:        "@every 1h",
		StoragePath:               "traceback.db",
		MetricsAddr:               ":9090",
		Streaming: StreamingConfig{
			Port:                8765,
			MaxConnections:      1000,
			HeartbeatIntervalMs: 30000,
			MaxMessageSize:      1 << 20,
			Auth:                AuthConfig{Enabled: false},
			RateLimit: RateLimitConfig{
				WindowMs:          60000,
				MaxMessages:       1000,
				MaxBytesPerWindow: 10 << 20,
			},
			Backpressure: BackpressureConfig{
				HighWater:    1 << 20,
				LowWater:     1 << 18,
				MaxQueueSize: 1000,
				DropOldest:   true,
			},
			BinaryProtocol:      false,
			HistoricalDataLimit: 100,
		},
		Snapshots: SnapshotsConfig{
			AutomaticIntervalMs:    30000,
			MaxRetentionMs:         int64(24 * time.Hour / time.Millisecond),
			MaxSnapshotsPerSession: 1000,
			IncrementalEnabled:     true,
			ChecksumValidation:     true,
			TaggedOnlyLongTerm:     false,
		},
	}
}

// FlagOverrides holds values explicitly set via CLI flags. A nil pointer
// means the flag was not set, so a lower-priority value is kept — the same
// "pointer means present" trick the teacher's FlagOverrides uses.
type FlagOverrides struct {
	StoragePath       *string
	StreamingPort     *int
	SamplingRate      *float64
	MetricsAddr       *string
	AuthEnabled       *bool
}

// Load builds the final configuration by applying the cascade: defaults <
// global file < project file < env vars < flags.
func Load(flags *FlagOverrides) (Config, error) {
	cfg := Defaults()

	if err := mergeFile(&cfg, GlobalConfigPath); err != nil {
		return cfg, fmt.Errorf("global config: %w", err)
	}
	if err := mergeFile(&cfg, ProjectConfigPath); err != nil {
		return cfg, fmt.Errorf("project config: %w", err)
	}
	applyEnv(&cfg)
	if flags != nil {
		applyFlags(&cfg, flags)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// mergeFile reads a YAML file at path and merges it into cfg. A missing
// file is not an error — the cascade simply moves to the next layer.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnv applies TRACEBACK_* environment variable overrides (§6
// "Configuration").
func applyEnv(cfg *Config) {
	if v := os.Getenv("TRACEBACK_STORAGE_PATH"); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv("TRACEBACK_SAMPLING_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SamplingRate = f
		}
	}
	if v := os.Getenv("TRACEBACK_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BufferSize = n
		}
	}
	if v := os.Getenv("TRACEBACK_STREAMING_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Streaming.Port = n
		}
	}
	if v := os.Getenv("TRACEBACK_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("TRACEBACK_AUTH_API_KEYS"); v != "" {
		cfg.Streaming.Auth.Enabled = true
		cfg.Streaming.Auth.APIKeys = strings.Split(v, ",")
	}
	if os.Getenv("TRACEBACK_DISABLE") == "1" {
		cfg.Enabled = false
	}
}

// applyFlags applies CLI flag overrides, the highest-priority cascade
// layer.
func applyFlags(cfg *Config, flags *FlagOverrides) {
	if flags.StoragePath != nil {
		cfg.StoragePath = *flags.StoragePath
	}
	if flags.StreamingPort != nil {
		cfg.Streaming.Port = *flags.StreamingPort
	}
	if flags.SamplingRate != nil {
		cfg.SamplingRate = *flags.SamplingRate
	}
	if flags.MetricsAddr != nil {
		cfg.MetricsAddr = *flags.MetricsAddr
	}
	if flags.AuthEnabled != nil {
		cfg.Streaming.Auth.Enabled = *flags.AuthEnabled
	}
}

// Validate checks configuration values are within acceptable ranges.
func (c Config) Validate() error {
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be 0..1, got %v", c.SamplingRate)
	}
	if c.Streaming.Port < 1 || c.Streaming.Port > 65535 {
		return fmt.Errorf("streaming.port must be 1-65535, got %d", c.Streaming.Port)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.Streaming.Auth.Enabled && len(c.Streaming.Auth.APIKeys) == 0 {
		return fmt.Errorf("streaming.auth.enabled is true but no api_keys configured")
	}
	return nil
}

// FlushInterval returns FlushIntervalMs as a time.Duration.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// RetentionDefault returns StorageRetentionMs as a time.Duration.
func (c Config) RetentionDefault() time.Duration {
	return time.Duration(c.StorageRetentionMs) * time.Millisecond
}

// RetentionError returns StorageRetentionErrorMs as a time.Duration.
func (c Config) RetentionError() time.Duration {
	return time.Duration(c.StorageRetentionErrorMs) * time.Millisecond
}

// HeartbeatInterval returns Streaming.HeartbeatIntervalMs as a
// time.Duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Streaming.HeartbeatIntervalMs) * time.Millisecond
}

// RateLimitWindow returns Streaming.RateLimit.WindowMs as a time.Duration.
func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.Streaming.RateLimit.WindowMs) * time.Millisecond
}

// AutomaticSnapshotInterval returns Snapshots.AutomaticIntervalMs as a
// time.Duration.
func (c Config) AutomaticSnapshotInterval() time.Duration {
	return time.Duration(c.Snapshots.AutomaticIntervalMs) * time.Millisecond
}

// SnapshotMaxRetention returns Snapshots.MaxRetentionMs as a
// time.Duration.
func (c Config) SnapshotMaxRetention() time.Duration {
	return time.Duration(c.Snapshots.MaxRetentionMs) * time.Millisecond
}
