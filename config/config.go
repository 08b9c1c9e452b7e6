// Package config provides configuration loading and management for Stagehand.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Stagehand configuration.
// It is injected explicitly into constructors; there is no
// process-wide mutable configuration state.
type Config struct {
	Workflows WorkflowsConfig `yaml:"workflows"`
	Storage   StorageConfig   `yaml:"storage"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	NATS      NATSConfig      `yaml:"nats"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// WorkflowsConfig configures where phase graph definitions live.
type WorkflowsConfig struct {
	// Dir is the directory containing workflow definition YAML files.
	// Each file defines one named phase graph.
	Dir string `yaml:"dir"`
}

// StorageConfig configures the durable session state store.
type StorageConfig struct {
	// Backend selects the store implementation: "file" or "nats".
	Backend string `yaml:"backend"`
	// Root is the session directory root for the file backend.
	Root string `yaml:"root"`
}

// ArtifactsConfig configures the execution-verification artifact store.
type ArtifactsConfig struct {
	// Root is the directory delegated workers write proof artifacts into.
	Root string `yaml:"root"`
	// MinContentBytes is the minimum trimmed artifact size accepted as
	// proof of completion.
	MinContentBytes int `yaml:"min_content_bytes"`
	// WaitTimeout bounds how long `advance --wait` blocks for an
	// artifact to appear.
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// NATSConfig configures the NATS connection used by the KV store
// and the dispatch queue.
type NATSConfig struct {
	// URL is the NATS server URL (empty = nats.DefaultURL).
	URL string `yaml:"url"`
	// DispatchStream is the work-queue stream name for reasoning
	// hand-off records.
	DispatchStream string `yaml:"dispatch_stream"`
}

// MetricsConfig configures the optional metrics endpoint.
type MetricsConfig struct {
	// Addr is the listen address for `stagehand serve` (e.g. ":9464").
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Workflows: WorkflowsConfig{
			Dir: ".stagehand/workflows",
		},
		Storage: StorageConfig{
			Backend: "file",
			Root:    ".stagehand/sessions",
		},
		Artifacts: ArtifactsConfig{
			Root:            ".stagehand/artifacts",
			MinContentBytes: 80,
			WaitTimeout:     10 * time.Minute,
		},
		NATS: NATSConfig{
			URL:            "",
			DispatchStream: "STAGEHAND_DISPATCH",
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "nats":
	default:
		return fmt.Errorf("storage.backend must be \"file\" or \"nats\", got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "file" && c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required for the file backend")
	}
	if c.Artifacts.Root == "" {
		return fmt.Errorf("artifacts.root is required")
	}
	if c.Artifacts.MinContentBytes < 0 {
		return fmt.Errorf("artifacts.min_content_bytes must not be negative")
	}
	if c.NATS.DispatchStream == "" {
		return fmt.Errorf("nats.dispatch_stream is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence
// for non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Workflows.Dir != "" {
		c.Workflows.Dir = other.Workflows.Dir
	}

	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.Root != "" {
		c.Storage.Root = other.Storage.Root
	}

	if other.Artifacts.Root != "" {
		c.Artifacts.Root = other.Artifacts.Root
	}
	if other.Artifacts.MinContentBytes != 0 {
		c.Artifacts.MinContentBytes = other.Artifacts.MinContentBytes
	}
	if other.Artifacts.WaitTimeout != 0 {
		c.Artifacts.WaitTimeout = other.Artifacts.WaitTimeout
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.DispatchStream != "" {
		c.NATS.DispatchStream = other.NATS.DispatchStream
	}

	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}
