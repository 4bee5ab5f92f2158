// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/nested-progress/internal/logging"
)

// Storage backends for run transcripts.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging logging.Config `mapstructure:"logging"`
	Tracker TrackerConfig  `mapstructure:"tracker"`
	Hub     HubConfig      `mapstructure:"hub"`
	Server  ServerConfig   `mapstructure:"server"`
	Storage StorageConfig  `mapstructure:"storage"`
	DB      DBConfig       `mapstructure:"db"`
	PubSub  PubSubConfig   `mapstructure:"pubsub"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Tracing TracingConfig  `mapstructure:"tracing"`
}

// TrackerConfig sets the options of the root scope each run opens.
type TrackerConfig struct {
	Logging bool `mapstructure:"logging"`
	Timing  bool `mapstructure:"timing"`
	// ModifierInterval is the high-frequency interval of the modifier loop.
	ModifierInterval int `mapstructure:"modifier_interval"`
}

// HubConfig controls event batching.
type HubConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxRuns         int           `mapstructure:"max_runs"`
	// WorkDelay slows simulated work so progress is observable over HTTP.
	WorkDelay time.Duration `mapstructure:"work_delay"`
	// APIKey, when set, is required on every /api request.
	APIKey string `mapstructure:"api_key"`
	// LaunchRPS limits POST /api/runs per client; 0 disables the limit.
	LaunchRPS   float64 `mapstructure:"launch_rps"`
	LaunchBurst int     `mapstructure:"launch_burst"`
}

// StorageConfig selects where run transcripts are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the run repository. An empty DSN keeps runs in
// memory.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// PubSubConfig holds the completion topic. Without a project ID notifications
// stay in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig toggles the Prometheus sink and the /metrics route.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig toggles the OpenTelemetry tracer provider whose trace context
// run notifications carry.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment. Environment variables use the
// PROGRESS_ prefix with dots replaced by underscores, e.g. PROGRESS_DB_DSN.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROGRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracker.logging", false)
	v.SetDefault("tracker.timing", false)
	v.SetDefault("tracker.modifier_interval", 10)
	v.SetDefault("hub.buffer_size", 1024)
	v.SetDefault("hub.max_batch_events", 256)
	v.SetDefault("hub.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("hub.sink_timeout", 5*time.Second)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_runs", 4)
	v.SetDefault("server.work_delay", time.Duration(0))
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.launch_rps", 0.0)
	v.SetDefault("server.launch_burst", 4)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.base_dir", "transcripts")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "runs/")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "run-completed")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.enabled", true)
	v.SetDefault("tracing.service_name", "nested-progress")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Server.MaxRuns <= 0 {
		return fmt.Errorf("server.max_runs must be > 0")
	}
	if c.Server.WorkDelay < 0 {
		return fmt.Errorf("server.work_delay must be >= 0")
	}
	if c.Server.LaunchRPS < 0 {
		return fmt.Errorf("server.launch_rps must be >= 0")
	}
	if c.Tracker.ModifierInterval < 1 {
		return fmt.Errorf("tracker.modifier_interval must be >= 1")
	}
	if c.Hub.BufferSize < 0 || c.Hub.MaxBatchEvents < 0 {
		return fmt.Errorf("hub sizes must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case BackendGCS:
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be one of memory, local, gcs", c.Storage.Backend)
	}
	if c.DB.MinConns > c.DB.MaxConns {
		return fmt.Errorf("db.min_conns must not exceed db.max_conns")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}
