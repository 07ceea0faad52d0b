// Package config loads the collector's YAML configuration, grounded on
// ELIDA's internal/config/config.go (yaml.Unmarshal into nested structs with
// defaults applied post-unmarshal, then environment-variable overrides).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"collector/internal/normalize"
)

// Config holds all configuration for the collector.
type Config struct {
	Ingest         IngestConfig         `yaml:"ingest"`
	Storage        StorageConfig        `yaml:"storage"`
	Retention      RetentionConfig      `yaml:"retention"`
	Privacy        PrivacyConfig        `yaml:"privacy"`
	Priority       PriorityConfig       `yaml:"priority"`
	ActivityDetail ActivityDetailConfig `yaml:"activity_detail"`
	Bus            BusConfig            `yaml:"bus"`
	StateKV        StateKVConfig        `yaml:"state_kv"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// IngestConfig configures the HTTP ingest server.
type IngestConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"` // X-Collector-Token; empty disables auth
}

// StorageConfig configures the embedded SQLite database.
type StorageConfig struct {
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	// EncryptionEnabled turns on at-rest AES-256-GCM encryption of raw_json.
	// The key itself is never stored in config: it comes from
	// DATA_COLLECTOR_ENC_KEY or EncryptionKeyFile.
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
	EncryptionKeyFile string `yaml:"encryption_key_file"`
}

// RetentionConfig mirrors storage.RetentionPolicy, layered through YAML.
type RetentionConfig struct {
	RawEventsDays         int           `yaml:"raw_events_days"`
	SessionsDays          int           `yaml:"sessions_days"`
	RoutineCandidatesDays int           `yaml:"routine_candidates_days"`
	HandoffQueueDays      int           `yaml:"handoff_queue_days"`
	DailySummariesDays    int           `yaml:"daily_summaries_days"`
	PatternSummariesDays  int           `yaml:"pattern_summaries_days"`
	LLMInputsDays         int           `yaml:"llm_inputs_days"`
	MaxDBMB               int           `yaml:"max_db_mb"`
	BatchSize             int           `yaml:"batch_size"`
	Interval              time.Duration `yaml:"interval"`
}

// PrivacyConfig points at the privacy-rules YAML document.
type PrivacyConfig struct {
	RulesPath string `yaml:"rules_path"`
}

// PriorityConfig configures the classify/debounce/synthesize stage.
type PriorityConfig struct {
	DebounceSeconds     float64  `yaml:"debounce_seconds"`
	FocusEventTypes     []string `yaml:"focus_event_types"`
	FocusBlockEventType string   `yaml:"focus_block_event_type"`
	DropP2WhenQueueOver float64  `yaml:"drop_p2_when_queue_over"`
	P0EventTypes        []string `yaml:"p0_event_types"`
	P1EventTypes        []string `yaml:"p1_event_types"`
	P2EventTypes        []string `yaml:"p2_event_types"`
}

// ActivityDetailConfig controls how the bus turns os.app_focus_block events
// into activity_details rows, mirroring original_source/config.py's
// ActivityDetailConfig dataclass.
type ActivityDetailConfig struct {
	Enabled        bool     `yaml:"enabled"`
	MinDurationSec int      `yaml:"min_duration_sec"`
	StoreHint      bool     `yaml:"store_hint"`
	FullTitleApps  []string `yaml:"full_title_apps"`
	MaxTitleLen    int      `yaml:"max_title_len"`
}

// BusConfig configures the EventBus's queue and batching behavior.
type BusConfig struct {
	ValidationLevel     string        `yaml:"validation_level"` // "lenient" or "strict"
	QueueSize           int           `yaml:"queue_size"`
	InsertBatchSize     int           `yaml:"insert_batch_size"`
	InsertFlushInterval time.Duration `yaml:"insert_flush_interval"`
	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryBackoffMS      int           `yaml:"retry_backoff_ms"`
}

// StateKVConfig selects the watermark backend.
type StateKVConfig struct {
	Backend string             `yaml:"backend"` // "sqlite" or "redis"
	Redis   StateKVRedisConfig `yaml:"redis"`
}

// StateKVRedisConfig mirrors statekv.RedisConfig for YAML loading.
type StateKVRedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// TelemetryConfig mirrors telemetry.Config for YAML loading.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// LoggingConfig configures the slog JSON handler and the default directory
// summary/report CLIs write their output files into.
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
	Dir    string `yaml:"dir"`
}

// Load reads and parses the configuration file, falling back to defaults
// when path does not exist.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path) // #nosec G304 -- config path from trusted CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config with sensible default values, matching
// original_source/config.py's built-in defaults.
func Defaults() *Config {
	return &Config{
		Ingest: IngestConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		Storage: StorageConfig{
			Path:          "data/collector.db",
			WALMode:       true,
			BusyTimeoutMS: 5000,
		},
		Retention: RetentionConfig{
			RawEventsDays:         90,
			SessionsDays:          180,
			RoutineCandidatesDays: 180,
			HandoffQueueDays:      30,
			DailySummariesDays:    365,
			PatternSummariesDays:  365,
			LLMInputsDays:         30,
			MaxDBMB:               512,
			BatchSize:             500,
			Interval:              1 * time.Hour,
		},
		Privacy: PrivacyConfig{
			RulesPath: "configs/privacy_rules.yaml",
		},
		Priority: PriorityConfig{
			DebounceSeconds:     2.0,
			FocusEventTypes:     []string{"os.foreground_changed"},
			FocusBlockEventType: "os.app_focus_block",
			DropP2WhenQueueOver: 0.8,
		},
		ActivityDetail: ActivityDetailConfig{
			Enabled:        false,
			MinDurationSec: 5,
			StoreHint:      true,
			MaxTitleLen:    256,
		},
		Bus: BusConfig{
			ValidationLevel:     string(normalize.Lenient),
			QueueSize:           1000,
			InsertBatchSize:     100,
			InsertFlushInterval: 1 * time.Second,
			RetryAttempts:       3,
			RetryBackoffMS:      50,
		},
		StateKV: StateKVConfig{
			Backend: "sqlite",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Exporter:    "none",
			ServiceName: "collector",
		},
		Logging: LoggingConfig{
			Format: "json",
			Level:  "info",
			Dir:    "logs",
		},
	}
}

// applyEnvOverrides applies environment variable overrides, mirroring
// ELIDA's applyEnvOverrides pattern under this module's env prefix.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATA_COLLECTOR_HOST"); v != "" {
		c.Ingest.Host = v
	}
	if v := os.Getenv("DATA_COLLECTOR_PORT"); v != "" {
		if n, err := parsePort(v); err == nil {
			c.Ingest.Port = n
		}
	}
	if v := os.Getenv("DATA_COLLECTOR_TOKEN"); v != "" {
		c.Ingest.Token = v
	}
	if v := os.Getenv("DATA_COLLECTOR_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if os.Getenv("DATA_COLLECTOR_ENCRYPTION_ENABLED") == "true" {
		c.Storage.EncryptionEnabled = true
	}
	if v := os.Getenv("DATA_COLLECTOR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DATA_COLLECTOR_STATE_KV_BACKEND"); v != "" {
		c.StateKV.Backend = v
	}
	if v := os.Getenv("DATA_COLLECTOR_REDIS_ADDR"); v != "" {
		c.StateKV.Redis.Addr = v
	}

	if os.Getenv("DATA_COLLECTOR_TELEMETRY_ENABLED") == "true" {
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("DATA_COLLECTOR_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = v
	}
	if v := os.Getenv("DATA_COLLECTOR_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = "otlp"
		c.Telemetry.Endpoint = v
	}
}

func parsePort(v string) (int, error) {
	var n int
	_, err := fmt.Sscanf(v, "%d", &n)
	return n, err
}

// validate checks that the configuration is internally consistent.
func (c *Config) validate() error {
	if c.Ingest.Port <= 0 {
		return fmt.Errorf("ingest port must be positive")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	if c.Bus.ValidationLevel != string(normalize.Lenient) && c.Bus.ValidationLevel != string(normalize.Strict) {
		return fmt.Errorf("bus validation_level must be %q or %q, got %q", normalize.Lenient, normalize.Strict, c.Bus.ValidationLevel)
	}
	if c.StateKV.Backend != "sqlite" && c.StateKV.Backend != "redis" {
		return fmt.Errorf("state_kv backend must be \"sqlite\" or \"redis\", got %q", c.StateKV.Backend)
	}
	return nil
}
