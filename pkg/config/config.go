// Package config loads and validates oktant configuration.
//
// Precedence: environment variables > oktant.yaml > built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the umbrella configuration object returned by Load and used
// throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Engine *EngineConfig `yaml:"engine"`
	Okta   *OktaConfig   `yaml:"okta"`
	Server *ServerConfig `yaml:"server"`
	Slack  *SlackConfig  `yaml:"slack"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Port the API server listens on.
	Port int `yaml:"port"`

	// WSWriteTimeout bounds a single WebSocket write to a slow client.
	WSWriteTimeoutSeconds int `yaml:"ws_write_timeout_seconds"`
}

// SlackConfig contains optional Slack notification settings.
// Notifications are disabled when BotToken is empty.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:                  8000,
		WSWriteTimeoutSeconds: 10,
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Load reads oktant.yaml from configDir (if present), applies environment
// overrides, and validates the result. A missing yaml file is not an error —
// defaults plus environment are a complete configuration.
func Load(configDir string) (*Config, error) {
	cfg := &Config{
		configDir: configDir,
		Engine:    DefaultEngineConfig(),
		Okta:      DefaultOktaConfig(),
		Server:    DefaultServerConfig(),
		Slack:     &SlackConfig{},
	}

	path := filepath.Join(configDir, "oktant.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	e := c.Engine
	if e.BatchSize <= 0 {
		return fmt.Errorf("engine.batch_size must be positive, got %d", e.BatchSize)
	}
	if e.BatchThreshold <= 0 {
		return fmt.Errorf("engine.batch_threshold must be positive, got %d", e.BatchThreshold)
	}
	if e.EventBusCapacity <= 0 {
		return fmt.Errorf("engine.event_bus_capacity must be positive, got %d", e.EventBusCapacity)
	}
	if e.OwnerQuota <= 0 {
		return fmt.Errorf("engine.owner_quota must be positive, got %d", e.OwnerQuota)
	}
	if e.OktaConcurrentLimit <= 0 {
		return fmt.Errorf("engine.okta_concurrent_limit must be positive, got %d", e.OktaConcurrentLimit)
	}
	for name, d := range map[string]int64{
		"api_step_timeout": int64(e.APIStepTimeout),
		"sql_step_timeout": int64(e.SQLStepTimeout),
		"script_timeout":   int64(e.ScriptTimeout),
	} {
		if d <= 0 {
			return fmt.Errorf("engine.%s must be positive", name)
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
