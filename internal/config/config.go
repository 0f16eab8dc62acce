package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Features FeaturesConfig `mapstructure:"features"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// IngestConfig holds reading-source configuration
type IngestConfig struct {
	Source              string        `mapstructure:"source"` // "file" or "http"
	FilePath            string        `mapstructure:"file_path"`
	HTTPEndpoint        string        `mapstructure:"http_endpoint"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelayBase      time.Duration `mapstructure:"retry_delay_base"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
}

// PipelineConfig holds coordinator buffer and handoff configuration
type PipelineConfig struct {
	HistorySize    int    `mapstructure:"history_size"`
	AlertQueueSize int    `mapstructure:"alert_queue_size"`
	AlertLogSize   int    `mapstructure:"alert_log_size"`
	OverflowPolicy string `mapstructure:"overflow_policy"` // "block" or "drop-oldest"
}

// FeaturesConfig holds feature-extraction tuning
type FeaturesConfig struct {
	WindowSize           int     `mapstructure:"window_size"`
	MinSamples           int     `mapstructure:"min_samples"`
	SustainedK           int     `mapstructure:"sustained_k"`
	HumidityThreshold    float64 `mapstructure:"humidity_threshold"`
	LeafWetnessThreshold float64 `mapstructure:"leaf_wetness_threshold"`
	AnomalyCap           float64 `mapstructure:"anomaly_cap"`
	// AnomalyWeights overrides the built-in per-signal z-score weights
	// when non-empty, keyed by signal name.
	AnomalyWeights map[string]float64 `mapstructure:"anomaly_weights"`
}

// RiskConfig holds risk-scoring cutpoints and limits
type RiskConfig struct {
	MediumCutpoint     int `mapstructure:"medium_cutpoint"`
	HighCutpoint       int `mapstructure:"high_cutpoint"`
	MaxRecommendations int `mapstructure:"max_recommendations"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	DBPath         string        `mapstructure:"db_path"`
	MaxRows        int           `mapstructure:"max_rows"`
	RotateInterval time.Duration `mapstructure:"rotate_interval"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("CROPSENTINEL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Ingest defaults
	v.SetDefault("ingest.source", "file")
	v.SetDefault("ingest.file_path", "./sensor_data.jsonl")
	v.SetDefault("ingest.http_endpoint", "http://localhost:8080/api/sensors")
	v.SetDefault("ingest.poll_interval", "5s")
	v.SetDefault("ingest.timeout", "30s")
	v.SetDefault("ingest.max_retries", 3)
	v.SetDefault("ingest.retry_delay_base", "1s")
	v.SetDefault("ingest.max_idle_conns", 10)
	v.SetDefault("ingest.max_idle_conns_per_host", 2)
	v.SetDefault("ingest.idle_conn_timeout", "90s")

	// Pipeline defaults
	v.SetDefault("pipeline.history_size", 60)
	v.SetDefault("pipeline.alert_queue_size", 64)
	v.SetDefault("pipeline.alert_log_size", 100)
	v.SetDefault("pipeline.overflow_policy", "block")

	// Feature extraction defaults
	v.SetDefault("features.window_size", 15)
	v.SetDefault("features.min_samples", 3)
	v.SetDefault("features.sustained_k", 3)
	v.SetDefault("features.humidity_threshold", 80.0)
	v.SetDefault("features.leaf_wetness_threshold", 70.0)
	v.SetDefault("features.anomaly_cap", 3.0)

	// Risk defaults
	v.SetDefault("risk.medium_cutpoint", 45)
	v.SetDefault("risk.high_cutpoint", 75)
	v.SetDefault("risk.max_recommendations", 5)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", "./data/cropsentinel.db")
	v.SetDefault("storage.max_rows", 10000)
	v.SetDefault("storage.rotate_interval", "10m")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9100")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid. Any violation
// is fatal at startup, never at per-reading time.
func (c *Config) Validate() error {
	switch c.Ingest.Source {
	case "file":
		if c.Ingest.FilePath == "" {
			return fmt.Errorf("ingest.file_path is required for the file source")
		}
	case "http":
		if c.Ingest.HTTPEndpoint == "" {
			return fmt.Errorf("ingest.http_endpoint is required for the http source")
		}
		if c.Ingest.PollInterval < time.Second {
			return fmt.Errorf("ingest.poll_interval must be at least 1 second")
		}
	default:
		return fmt.Errorf("ingest.source must be one of: file, http")
	}

	if c.Pipeline.HistorySize < 1 {
		return fmt.Errorf("pipeline.history_size must be at least 1")
	}
	if c.Pipeline.AlertQueueSize < 1 {
		return fmt.Errorf("pipeline.alert_queue_size must be at least 1")
	}
	if c.Pipeline.AlertLogSize < 1 {
		return fmt.Errorf("pipeline.alert_log_size must be at least 1")
	}
	if c.Pipeline.OverflowPolicy != "block" && c.Pipeline.OverflowPolicy != "drop-oldest" {
		return fmt.Errorf("pipeline.overflow_policy must be one of: block, drop-oldest")
	}

	if c.Features.WindowSize < 0 {
		return fmt.Errorf("features.window_size must not be negative")
	}
	if c.Features.MinSamples < 1 {
		return fmt.Errorf("features.min_samples must be at least 1")
	}
	// A passthrough window reports a sample count of 1, and a bounded window
	// never exceeds its capacity; a min_samples above that ceiling would keep
	// the context in cold start forever.
	if c.Features.WindowSize == 0 && c.Features.MinSamples > 1 {
		return fmt.Errorf("features.min_samples must be 1 when features.window_size is 0")
	}
	if c.Features.WindowSize > 0 && c.Features.MinSamples > c.Features.WindowSize {
		return fmt.Errorf("features.min_samples must not exceed features.window_size")
	}
	if c.Features.SustainedK < 1 {
		return fmt.Errorf("features.sustained_k must be at least 1")
	}
	if c.Features.HumidityThreshold < 0 || c.Features.HumidityThreshold > 100 {
		return fmt.Errorf("features.humidity_threshold must be between 0 and 100")
	}
	if c.Features.LeafWetnessThreshold < 0 || c.Features.LeafWetnessThreshold > 100 {
		return fmt.Errorf("features.leaf_wetness_threshold must be between 0 and 100")
	}
	if c.Features.AnomalyCap <= 0 {
		return fmt.Errorf("features.anomaly_cap must be positive")
	}
	for signal, weight := range c.Features.AnomalyWeights {
		if weight < 0 {
			return fmt.Errorf("features.anomaly_weights.%s must not be negative", signal)
		}
	}

	if c.Risk.MediumCutpoint < 0 || c.Risk.MediumCutpoint > 100 {
		return fmt.Errorf("risk.medium_cutpoint must be between 0 and 100")
	}
	if c.Risk.HighCutpoint < 0 || c.Risk.HighCutpoint > 100 {
		return fmt.Errorf("risk.high_cutpoint must be between 0 and 100")
	}
	if c.Risk.MediumCutpoint >= c.Risk.HighCutpoint {
		return fmt.Errorf("risk.medium_cutpoint must be below risk.high_cutpoint")
	}
	if c.Risk.MaxRecommendations < 1 {
		return fmt.Errorf("risk.max_recommendations must be at least 1")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Storage.Enabled {
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required when storage is enabled")
		}
		if c.Storage.MaxRows < 1 {
			return fmt.Errorf("storage.max_rows must be at least 1")
		}
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
