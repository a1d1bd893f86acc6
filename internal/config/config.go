// ============================================================================
// coresched Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: Load the YAML configuration file (default: configs/default.yaml)
//
// Sections:
//   scheduler:  cores, scheme, quantum, strict
//   simulation: workers, timeout
//   trace:      path, buffer_size, flush_interval_ms, sync_on_append
//   report:     path
//   metrics:    enabled, port
//   server:     port
//   log:        level, format
//
// Values missing from the file keep the defaults from Default(). CLI flags
// override file values after loading.
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/coresched/pkg/types"
)

var (
	ErrInvalidCores   = errors.New("config: scheduler.cores must be at least 1")
	ErrInvalidQuantum = errors.New("config: scheduler.quantum must be at least 1 for rr")
	ErrInvalidWorkers = errors.New("config: simulation.workers must be at least 1")
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Scheduler struct {
		Cores   int          `yaml:"cores"`
		Scheme  types.Scheme `yaml:"scheme"`
		Quantum int          `yaml:"quantum"`
		Strict  bool         `yaml:"strict"`
	} `yaml:"scheduler"`

	Simulation struct {
		Workers int           `yaml:"workers"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"simulation"`

	Trace struct {
		Path            string `yaml:"path"`
		BufferSize      int    `yaml:"buffer_size"`
		FlushIntervalMs int    `yaml:"flush_interval_ms"`
		SyncOnAppend    bool   `yaml:"sync_on_append"`
	} `yaml:"trace"`

	Report struct {
		Path string `yaml:"path"`
	} `yaml:"report"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Scheduler.Cores = 1
	cfg.Scheduler.Scheme = types.FCFS
	cfg.Scheduler.Quantum = 2
	cfg.Simulation.Workers = 4
	cfg.Simulation.Timeout = 30 * time.Second
	cfg.Trace.BufferSize = 256
	cfg.Trace.FlushIntervalMs = 1000
	cfg.Metrics.Port = 9090
	cfg.Server.Port = 50051
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Load reads path on top of Default() and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default() when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Scheduler.Cores < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidCores, c.Scheduler.Cores)
	}
	if !c.Scheduler.Scheme.Valid() {
		return fmt.Errorf("config: unknown scheme %d", int(c.Scheduler.Scheme))
	}
	if c.Scheduler.Scheme == types.RR && c.Scheduler.Quantum < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantum, c.Scheduler.Quantum)
	}
	if c.Simulation.Workers < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkers, c.Simulation.Workers)
	}
	return nil
}

// FlushInterval returns the trace flush interval as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Trace.FlushIntervalMs) * time.Millisecond
}
