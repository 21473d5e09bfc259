// Package config provides configuration loading and validation for stashd.
// Supports YAML files with environment variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/stashd-io/stashd/internal/prune"
)

// Config holds all configuration for a stashd server.
type Config struct {
	Datastores    []DatastoreConfig   `yaml:"datastores"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DatastoreConfig describes one datastore and its maintenance policy.
type DatastoreConfig struct {
	// Name is the datastore identifier, unique within the server.
	Name string `yaml:"name"`

	// Path is the datastore root directory.
	Path string `yaml:"path"`

	// Comment is a free-form operator note.
	Comment string `yaml:"comment,omitempty"`

	// GCSchedule is a cron expression for automatic garbage collection.
	// Empty disables scheduled GC for this datastore.
	GCSchedule string `yaml:"gcSchedule,omitempty"`

	// PruneSchedule is a cron expression for automatic pruning.
	// Empty disables scheduled pruning for this datastore.
	PruneSchedule string `yaml:"pruneSchedule,omitempty"`

	// GCRemoveDespiteDamage lets scheduled GC delete unreferenced chunks
	// even when snapshot manifests failed to decode.
	GCRemoveDespiteDamage bool `yaml:"gcRemoveDespiteDamage,omitempty"`

	// Keep is the retention policy applied by scheduled prune runs.
	Keep prune.Options `yaml:"keep,omitempty"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"STASHD_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"STASHD_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"STASHD_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Observability: ObservabilityConfig{
			MetricsAddr: ":9633",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load loads configuration from the path in STASHD_CONFIG, falling back to
// defaults with environment overrides when the variable is unset.
func Load() (*Config, error) {
	if path := os.Getenv("STASHD_CONFIG"); path != "" {
		return LoadFromPath(path)
	}
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a YAML file, applies environment
// overrides and validates the result.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overrides config values from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("STASHD_METRICS_ADDR"); v != "" {
		c.Observability.MetricsAddr = v
	}
	if v := os.Getenv("STASHD_LOG_LEVEL"); v != "" {
		c.Observability.LogLevel = v
	}
	if v := os.Getenv("STASHD_LOG_FORMAT"); v != "" {
		c.Observability.LogFormat = v
	}
}

// Validate checks the configuration for errors that would surface later as
// confusing runtime failures.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Datastores))
	for i, ds := range c.Datastores {
		if ds.Name == "" {
			return fmt.Errorf("datastore %d: name is required", i)
		}
		if ds.Path == "" {
			return fmt.Errorf("datastore %q: path is required", ds.Name)
		}
		if _, dup := seen[ds.Name]; dup {
			return fmt.Errorf("datastore %q: duplicate name", ds.Name)
		}
		seen[ds.Name] = struct{}{}

		for field, spec := range map[string]string{
			"gcSchedule":    ds.GCSchedule,
			"pruneSchedule": ds.PruneSchedule,
		} {
			if spec == "" {
				continue
			}
			if _, err := cron.ParseStandard(spec); err != nil {
				return fmt.Errorf("datastore %q: invalid %s %q: %w", ds.Name, field, spec, err)
			}
		}

		// A scheduled prune with no keep counts would delete every
		// unprotected snapshot. Refuse the configuration instead.
		if ds.PruneSchedule != "" && ds.Keep.IsEmpty() {
			return fmt.Errorf("datastore %q: pruneSchedule set but keep policy is empty", ds.Name)
		}
	}
	return nil
}

// Datastore returns the configuration for one datastore by name.
func (c *Config) Datastore(name string) (DatastoreConfig, bool) {
	for _, ds := range c.Datastores {
		if ds.Name == name {
			return ds, true
		}
	}
	return DatastoreConfig{}, false
}
