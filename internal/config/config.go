// Package config loads process configuration for the host and client
// binaries from environment variables, optionally seeded by a .env file.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all process configuration.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	LogLevel  string `env:"NFR_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"NFR_LOG_FORMAT" envDefault:"json"`

	PrimaryAddr         string `env:"NFR_PRIMARY_ADDR" envDefault:":4001"`
	SecondaryAddr       string `env:"NFR_SECONDARY_ADDR" envDefault:":4002"`
	PrimaryTransport    string `env:"NFR_PRIMARY_TRANSPORT" envDefault:"tcp"`
	SecondaryTransport  string `env:"NFR_SECONDARY_TRANSPORT" envDefault:"tcp"`

	MetricsAddr string `env:"NFR_METRICS_ADDR" envDefault:":9400"`

	ConnectRetries       int           `env:"NFR_CONNECT_RETRIES" envDefault:"30"`
	ConnectRetryInterval time.Duration `env:"NFR_CONNECT_RETRY_INTERVAL" envDefault:"500ms"`
}

// Load reads configuration from a .env file (optional) and the process
// environment. Priority: ENV vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate rejects missing addresses and unknown transport tags before the
// relay starts.
func (c *Config) Validate() error {
	if c.PrimaryAddr == "" {
		return fmt.Errorf("NFR_PRIMARY_ADDR is required")
	}
	if c.SecondaryAddr == "" {
		return fmt.Errorf("NFR_SECONDARY_ADDR is required")
	}
	for name, t := range map[string]string{
		"NFR_PRIMARY_TRANSPORT":   c.PrimaryTransport,
		"NFR_SECONDARY_TRANSPORT": c.SecondaryTransport,
	} {
		if t != "tcp" && t != "rdma" {
			return fmt.Errorf("%s must be one of: tcp, rdma (got: %s)", name, t)
		}
	}
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("NFR_LOG_LEVEL must be one of: trace, debug, info, warn, error, fatal (got: %s)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("NFR_LOG_FORMAT must be one of: json, console (got: %s)", c.LogFormat)
	}
	if c.ConnectRetries < 1 {
		return fmt.Errorf("NFR_CONNECT_RETRIES must be > 0, got %d", c.ConnectRetries)
	}
	return nil
}

// LogConfig logs the loaded configuration using structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("primary_addr", c.PrimaryAddr).
		Str("secondary_addr", c.SecondaryAddr).
		Str("primary_transport", c.PrimaryTransport).
		Str("secondary_transport", c.SecondaryTransport).
		Str("metrics_addr", c.MetricsAddr).
		Int("connect_retries", c.ConnectRetries).
		Dur("connect_retry_interval", c.ConnectRetryInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
