package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Memory struct {
		// TrackGuards enables detection of overlapping access windows.
		TrackGuards bool `yaml:"track_guards" json:"track_guards"`
	} `yaml:"memory" json:"memory"`

	Prompt struct {
		MaxLength int  `yaml:"max_length" json:"max_length"`
		Confirm   bool `yaml:"confirm" json:"confirm"`
	} `yaml:"prompt" json:"prompt"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" json:"enabled"`
		Address string `yaml:"address" json:"address"`
	} `yaml:"metrics" json:"metrics"`

	Log struct {
		Level       string `yaml:"level" json:"level"`
		Format      string `yaml:"format" json:"format"` // json, console
		Development bool   `yaml:"development" json:"development"`
	} `yaml:"log" json:"log"`
}

// LoadConfig loads configuration from a file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config

	// Determine file format based on extension
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}

	// Apply defaults
	if cfg.Prompt.MaxLength == 0 {
		cfg.Prompt.MaxLength = 1024
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":9090"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that have no sensible default
func (c *Config) Validate() error {
	if c.Prompt.MaxLength < 0 {
		return fmt.Errorf("invalid prompt max_length: %d", c.Prompt.MaxLength)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Log.Format)
	}

	return nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Memory.TrackGuards = false
	cfg.Prompt.MaxLength = 1024
	cfg.Prompt.Confirm = false
	cfg.Metrics.Enabled = false
	cfg.Metrics.Address = ":9090"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}
