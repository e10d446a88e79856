// Package config loads frame-fleet's configuration from environment
// variables (with an optional .env file for local development), validates
// it, and logs the resolved values.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every configuration option a node recognizes.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if unset
type Config struct {
	// Broker endpoint
	BrokerHost string `env:"BROKER_HOST" envDefault:"127.0.0.1"`
	BrokerPort int    `env:"BROKER_PORT" envDefault:"4222"`

	// Heartbeat publish cadence and snapshot swap cadence
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"500ms"`

	// Detection model
	DetectorModelPath string `env:"DETECTOR_MODEL_PATH" envDefault:""`

	// Reliable broadcast mode
	UseHashRB bool `env:"USE_HASH_RB" envDefault:"false"`

	// Ambient ops surface
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from an optional .env file and the process
// environment. Environment variables always win over .env file values.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		}
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

// Validate checks configuration for internally inconsistent or
// out-of-range values.
func (c *Config) Validate() error {
	if c.BrokerHost == "" {
		return fmt.Errorf("BROKER_HOST is required")
	}
	if c.BrokerPort <= 0 || c.BrokerPort > 65535 {
		return fmt.Errorf("BROKER_PORT must be a valid port, got %d", c.BrokerPort)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be > 0, got %s", c.HeartbeatInterval)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of json, pretty (got %s)", c.LogFormat)
	}

	return nil
}

// BrokerURL builds the nats:// connection URL from host and port.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("nats://%s:%d", c.BrokerHost, c.BrokerPort)
}

// LogConfig logs the resolved configuration once at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("broker_host", c.BrokerHost).
		Int("broker_port", c.BrokerPort).
		Dur("heartbeat_interval", c.HeartbeatInterval).
		Bool("use_hash_rb", c.UseHashRB).
		Str("http_addr", c.HTTPAddr).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
