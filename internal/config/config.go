// ============================================================================
// Batchkit Configuration - Endpoint Fleet and Runtime Settings
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: YAML configuration loading for both the endpoint fleet (hot-
// reloadable, drives the hotswap engine) and the orchestrator's runtime
// settings (loaded once at startup by the CLI).
//
// Lineage:
//   Grounded on cli.Config + loadConfig of the raft-recovery project this
//   module was derived from (not part of this module): a plain struct
//   decoded with gopkg.in/yaml.v3, read with os.ReadFile.
//
// ============================================================================

package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/batchkit/pkg/types"
)

// FleetConfig maps logical endpoint name to its opaque configuration. Two
// FleetConfigs are compared for the hotswap engine's unchanged-endpoint
// check by deep value equality of the decoded maps.
type FleetConfig map[string]types.EndpointConfig

// LoadFleet reads and parses the endpoint fleet configuration file. strict
// turns on the decoder's KnownFields option (the orchestrator's
// strict_config setting); because the file decodes into plain maps, every
// key is accepted either way.
func LoadFleet(path string, strict bool) (FleetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoint config %s: %w", path, err)
	}

	var raw map[string]map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.KnownFields(true)
	}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse endpoint config %s: %w", path, err)
	}

	fleet := make(FleetConfig, len(raw))
	for name, cfg := range raw {
		fleet[name] = types.EndpointConfig(cfg)
	}
	return fleet, nil
}

// RuntimeConfig holds the orchestrator's process-wide settings, loaded once
// at startup by the CLI's run command.
type RuntimeConfig struct {
	ConfigFile              string        `yaml:"config_file"`
	StrictConfig            bool          `yaml:"strict_config"`
	LogFolder               string        `yaml:"log_folder"`
	CacheSearchDirs         []string      `yaml:"cache_search_dirs"`
	MaxRetries              int           `yaml:"max_retries"`
	RunSummaryInterval      time.Duration `yaml:"run_summary_interval"`
	DebugLoopInterval       time.Duration `yaml:"debug_loop_interval"`
	SingletonRunSummaryPath string        `yaml:"singleton_run_summary_path"`
	StatusRootDir           string        `yaml:"status_root_dir"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

// DefaultRuntimeConfig returns settings matching the orchestrator's
// documented defaults: bounded retries, a periodic run-summary cadence, and
// the debug loop disabled (interval 0).
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		ConfigFile:         "configs/endpoints.yaml",
		LogFolder:          "logs",
		MaxRetries:         3,
		RunSummaryInterval: 5 * time.Second,
		DebugLoopInterval:  0,
		StatusRootDir:      "batches",
	}
}

// LoadRuntime reads the orchestrator's runtime settings from path, applying
// DefaultRuntimeConfig for any field the file leaves zero-valued where a
// zero value would be nonsensical (durations and max retries).
func LoadRuntime(path string) (RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read runtime config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse runtime config %s: %w", path, err)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRuntimeConfig().MaxRetries
	}
	if cfg.RunSummaryInterval <= 0 {
		cfg.RunSummaryInterval = DefaultRuntimeConfig().RunSummaryInterval
	}
	return cfg, nil
}
