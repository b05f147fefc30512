// Package config loads the server configuration from a YAML file and applies
// defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no explicit path is given.
const DefaultConfigPath = "equilens.yaml"

// Duration parses YAML duration strings like "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler, accepting either a Go duration
// string or a plain number of nanoseconds. Integer scalars also decode into
// strings, so the node tag decides which form applies.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var asInt int64
		if errDecode := value.Decode(&asInt); errDecode != nil {
			return fmt.Errorf("config: invalid duration value")
		}
		*d = Duration(asInt)
		return nil
	}
	var asString string
	if errDecode := value.Decode(&asString); errDecode != nil {
		return fmt.Errorf("config: invalid duration value")
	}
	parsed, errParse := time.ParseDuration(asString)
	if errParse != nil {
		return fmt.Errorf("config: parse duration %q: %w", asString, errParse)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
	Queues   QueuesConfig   `yaml:"queues"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds the storage DSN (PostgreSQL or SQLite).
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig holds the optional Redis URL for the queue status mirror.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// EngineConfig points at the external collaborators.
type EngineConfig struct {
	AnalysisURL     string   `yaml:"analysis_url"`
	RendererURL     string   `yaml:"renderer_url"`
	MailURL         string   `yaml:"mail_url"`
	WebhookEndpoint string   `yaml:"webhook_endpoint"`
	Timeout         Duration `yaml:"timeout"`
}

// LaneConfig tunes one queue lane.
type LaneConfig struct {
	Workers     int      `yaml:"workers"`
	MaxAttempts int      `yaml:"max_attempts"`
	BackoffBase Duration `yaml:"backoff_base"`
	Retention   Duration `yaml:"retention"`
}

// QueuesConfig tunes the three lanes.
type QueuesConfig struct {
	Analysis      LaneConfig `yaml:"analysis"`
	Reports       LaneConfig `yaml:"reports"`
	Notifications LaneConfig `yaml:"notifications"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ResolveConfigPath returns the effective config file path.
func ResolveConfigPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return DefaultConfigPath
	}
	return trimmed
}

// Load reads and parses the config file, then applies defaults. A missing
// file yields the default configuration.
func Load(path string) (Config, error) {
	cfg := Config{}
	resolved := ResolveConfigPath(path)

	raw, errRead := os.ReadFile(resolved)
	if errRead != nil {
		if os.IsNotExist(errRead) {
			return applyDefaults(cfg), nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", resolved, errRead)
	}
	if errUnmarshal := yaml.Unmarshal(raw, &cfg); errUnmarshal != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", resolved, errUnmarshal)
	}
	return applyDefaults(cfg), nil
}

// applyDefaults fills unset fields.
func applyDefaults(cfg Config) Config {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8317"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "equilens.db"
	}
	if cfg.Engine.Timeout <= 0 {
		cfg.Engine.Timeout = Duration(10 * time.Minute)
	}
	cfg.Queues.Analysis = laneDefaults(cfg.Queues.Analysis, 3)
	cfg.Queues.Reports = laneDefaults(cfg.Queues.Reports, 3)
	cfg.Queues.Notifications = laneDefaults(cfg.Queues.Notifications, 5)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return cfg
}

// laneDefaults fills unset lane fields.
func laneDefaults(lane LaneConfig, attempts int) LaneConfig {
	if lane.Workers <= 0 {
		lane.Workers = 2
	}
	if lane.MaxAttempts <= 0 {
		lane.MaxAttempts = attempts
	}
	if lane.BackoffBase <= 0 {
		lane.BackoffBase = Duration(2 * time.Second)
	}
	if lane.Retention <= 0 {
		lane.Retention = Duration(7 * 24 * time.Hour)
	}
	return lane
}
