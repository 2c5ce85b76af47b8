// Package config handles configuration loading and validation for gitmesh.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ReplicationConfig holds the replica placement and health monitor knobs.
// The core treats these values as immutable for the lifetime of a process.
// Duration fields arrive as strings like "10m" and are resolved by Load.
type ReplicationConfig struct {
	MinReplicaCount int    `yaml:"min_replica_count"` // healthy replica floor
	HealBatchSize   int    `yaml:"heal_batch_size"`   // repositories healed per cycle
	HeartbeatRaw    string `yaml:"heartbeat_timeout"`
	IntervalRaw     string `yaml:"health_check_interval"`
	StaleWindowRaw  string `yaml:"stale_node_window"`
	StepTimeoutRaw  string `yaml:"heal_step_timeout"`

	// Resolved durations, populated by Load.
	HeartbeatTimeout    time.Duration `yaml:"-"`
	HealthCheckInterval time.Duration `yaml:"-"`
	StaleNodeWindow     time.Duration `yaml:"-"`
	HealStepTimeout     time.Duration `yaml:"-"`
}

// Config is the process configuration.
type Config struct {
	DataDir     string            `yaml:"data_dir"` // object storage root
	DBPath      string            `yaml:"db_path"`  // catalog database path
	Listen      string            `yaml:"listen"`   // metrics/health endpoint
	LogLevel    string            `yaml:"log_level"`
	Replication ReplicationConfig `yaml:"replication"`
}

// Load reads a YAML config file and applies defaults. An empty path
// yields the pure defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.DataDir == "" {
		c.DataDir = "/var/lib/gitmesh/repos"
	}
	if strings.HasPrefix(c.DataDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			c.DataDir = filepath.Join(homeDir, c.DataDir[2:])
		}
	}
	if c.DBPath == "" {
		c.DBPath = "/var/lib/gitmesh/catalog.db"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:9618"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	r := &c.Replication
	if r.MinReplicaCount == 0 {
		r.MinReplicaCount = 3
	}
	if r.MinReplicaCount < 1 {
		return fmt.Errorf("min_replica_count must be at least 1, got %d", r.MinReplicaCount)
	}
	if r.HealBatchSize == 0 {
		r.HealBatchSize = 10
	}

	var err error
	if r.HeartbeatTimeout, err = durationOrDefault(r.HeartbeatRaw, 10*time.Minute); err != nil {
		return fmt.Errorf("heartbeat_timeout: %w", err)
	}
	if r.HealthCheckInterval, err = durationOrDefault(r.IntervalRaw, 10*time.Minute); err != nil {
		return fmt.Errorf("health_check_interval: %w", err)
	}
	if r.StaleNodeWindow, err = durationOrDefault(r.StaleWindowRaw, time.Hour); err != nil {
		return fmt.Errorf("stale_node_window: %w", err)
	}
	if r.HealStepTimeout, err = durationOrDefault(r.StepTimeoutRaw, 30*time.Second); err != nil {
		return fmt.Errorf("heal_step_timeout: %w", err)
	}
	return nil
}

func durationOrDefault(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}
