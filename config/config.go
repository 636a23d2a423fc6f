// Copyright (c) Rivermesh
// SPDX-License-Identifier: Apache-2.0

// Package config loads courier configuration from YAML.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a courier deployment.
type Config struct {
	Resend ResendConfig `yaml:"resend"`
	Log    LogConfig    `yaml:"log"`
	WS     WSConfig     `yaml:"ws"`
}

// ResendConfig holds resend module settings.
type ResendConfig struct {
	// Maximum transmission attempts per tracked message.
	MaxResends int `yaml:"max_resends"`

	// Delay between attempts (0 = retry immediately).
	Interval time.Duration `yaml:"interval"`

	// Scope tracking keys by destination.
	FilterByDestination bool `yaml:"filter_by_destination"`

	// Enable OpenTelemetry instruments.
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
}

// WSConfig holds websocket transport settings.
type WSConfig struct {
	Addr            string        `yaml:"addr"`
	Path            string        `yaml:"path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default creates a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Resend: ResendConfig{
			MaxResends: 3,
			Interval:   20 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		WS: WSConfig{
			Addr:            ":8443",
			Path:            "/courier",
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Load reads a YAML configuration file, applying defaults for anything the
// file leaves unset.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Resend.MaxResends <= 0 {
		return fmt.Errorf("resend.max_resends must be positive, got %d", c.Resend.MaxResends)
	}
	if c.Resend.Interval < 0 {
		return fmt.Errorf("resend.interval cannot be negative, got %s", c.Resend.Interval)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Logger builds a slog logger from the logging configuration.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
