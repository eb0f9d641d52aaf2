package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config represents the main taskweave configuration.
type Config struct {
	// Server holds backend connection settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Project selects the default project for conversations
	Project ProjectConfig `json:"project" mapstructure:"project"`

	// Sync controls the local task snapshot
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics exposition
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory for transcripts and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds backend connection settings.
type ServerConfig struct {
	BaseURL        string `json:"base_url" mapstructure:"base_url"`
	APIKey         string `json:"api_key" mapstructure:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	// Transport selects how turn streams are opened: sse or websocket.
	Transport string `json:"transport" mapstructure:"transport"`
}

// ProjectConfig holds the default project selection.
type ProjectConfig struct {
	ID string `json:"id" mapstructure:"id"`
}

// SyncConfig controls the task snapshot syncer.
type SyncConfig struct {
	// Schedule is a cron spec for periodic reconciliation. Empty
	// disables the periodic pass; refresh signals still apply.
	Schedule string `json:"schedule" mapstructure:"schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds metrics exposition settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:        "http://localhost:8080",
			TimeoutSeconds: 30,
			Transport:      "sse",
		},
		Sync: SyncConfig{
			Schedule: "",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   50,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config. The API key is
// masked; use the raw struct only when building clients.
func (c *Config) String() string {
	clone := *c
	if clone.Server.APIKey != "" {
		clone.Server.APIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server base_url is required")
	}
	if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		return fmt.Errorf("server base_url must start with http:// or https://")
	}
	if c.Server.TimeoutSeconds < 0 {
		return fmt.Errorf("server timeout_seconds must be >= 0")
	}

	switch c.Server.Transport {
	case "", "sse", "websocket":
	default:
		return fmt.Errorf("invalid server transport: %s (must be: sse, websocket)", c.Server.Transport)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.Logging.Level)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics addr is required when metrics are enabled")
	}

	return nil
}
