// Package config loads the run configuration consumed by the coordinator,
// the storage handles and the manifest manager.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	otterlog "github.com/opentargets/otter/pkg/log"
)

// Config is the run-wide configuration, immutable once loaded.
type Config struct {
	Step        string          `yaml:"step"`
	Steps       []string        `yaml:"steps"`
	ConfigPath  string          `yaml:"config_path"`
	WorkPath    string          `yaml:"work_path"`
	ReleaseURI  string          `yaml:"release_uri"`
	PoolSize    int             `yaml:"pool_size"`
	LogLevel    otterlog.Level  `yaml:"log_level"`
	RunnerName  string          `yaml:"runner_name"`
}

// DefaultPoolSize is used when pool_size is unset or non-positive.
const DefaultPoolSize = 4

// Load reads a YAML config file and applies OTTER_* environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{ConfigPath: path}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = otterlog.InfoLevel
	}
	if cfg.RunnerName == "" {
		cfg.RunnerName = "otter"
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OTTER_STEP"); v != "" {
		cfg.Step = v
	}
	if v := os.Getenv("OTTER_WORK_PATH"); v != "" {
		cfg.WorkPath = v
	}
	if v := os.Getenv("OTTER_RELEASE_URI"); v != "" {
		cfg.ReleaseURI = v
	}
	if v := os.Getenv("OTTER_RUNNER_NAME"); v != "" {
		cfg.RunnerName = v
	}
}
