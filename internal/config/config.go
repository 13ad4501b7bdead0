// Package config loads the daemon configuration from a JSON file and fills
// in defaults for anything the operator leaves out.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"orchestrall/pkg/logger"
)

// Config is everything the daemon needs at startup.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Registry RegistryConfig `json:"registry"`
	Storage  StorageConfig  `json:"storage"`
	Events   EventsConfig   `json:"events"`
	Runtime  RuntimeConfig  `json:"runtime"`
	Health   HealthConfig   `json:"health"`
	Logging  logger.Config  `json:"logging"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Address string `json:"address"`
}

// RegistryConfig locates the plugin and client directories on disk.
type RegistryConfig struct {
	PluginsRoot string `json:"plugins_root"`
	ClientsRoot string `json:"clients_root"`
}

// StorageConfig selects the activation store backend.
type StorageConfig struct {
	Driver string `json:"driver"` // memory or mysql
	DSN    string `json:"dsn"`
}

// EventsConfig selects the lifecycle event stream backend.
type EventsConfig struct {
	Driver string `json:"driver"` // memory, redis or rabbitmq
	// Redis
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Stream   string `json:"stream"`
	// RabbitMQ
	URL   string `json:"url"`
	Queue string `json:"queue"`
}

// RuntimeConfig tunes the lifecycle manager.
type RuntimeConfig struct {
	HookTimeoutSeconds int    `json:"hook_timeout_seconds"`
	HookFailurePolicy  string `json:"hook_failure_policy"` // rollback or retain
}

// HealthConfig tunes the periodic health sweep.
type HealthConfig struct {
	IntervalSeconds     int `json:"interval_seconds"`
	CheckTimeoutSeconds int `json:"check_timeout_seconds"`
}

// Load parses the JSON configuration at path. Relative directories are
// resolved against the configuration file's own directory.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("configuration path is empty")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// Default returns the configuration used when no file is supplied, rooted
// at the given directory.
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Registry.PluginsRoot == "" {
		c.Registry.PluginsRoot = filepath.Join(baseDir, "plugins")
	} else if !filepath.IsAbs(c.Registry.PluginsRoot) {
		c.Registry.PluginsRoot = filepath.Join(baseDir, c.Registry.PluginsRoot)
	}

	if c.Registry.ClientsRoot == "" {
		c.Registry.ClientsRoot = filepath.Join(baseDir, "clients")
	} else if !filepath.IsAbs(c.Registry.ClientsRoot) {
		c.Registry.ClientsRoot = filepath.Join(baseDir, c.Registry.ClientsRoot)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}

	if c.Runtime.HookTimeoutSeconds <= 0 {
		c.Runtime.HookTimeoutSeconds = 30
	}
	if c.Runtime.HookFailurePolicy == "" {
		c.Runtime.HookFailurePolicy = "rollback"
	}

	if c.Health.IntervalSeconds <= 0 {
		c.Health.IntervalSeconds = 300
	}
	if c.Health.CheckTimeoutSeconds <= 0 {
		c.Health.CheckTimeoutSeconds = 10
	}
}

// HookTimeout returns the hook deadline as a duration.
func (c *Config) HookTimeout() time.Duration {
	return time.Duration(c.Runtime.HookTimeoutSeconds) * time.Second
}

// HealthInterval returns the sweep interval as a duration.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Health.IntervalSeconds) * time.Second
}

// HealthCheckTimeout returns the per-probe deadline as a duration.
func (c *Config) HealthCheckTimeout() time.Duration {
	return time.Duration(c.Health.CheckTimeoutSeconds) * time.Second
}
