// Package config holds the application configuration: where the store and
// calibration sources live, how the engine scores, and how certificates are
// signed. Calibration sources themselves are JSON and fail fast in the
// registry; this file-level config is YAML with forgiving defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"calfuse/internal/policy"
)

// Config holds all calfuse configuration.
type Config struct {
	// Calibration source directory (global.json, epistemic.json, ...).
	// Empty means the embedded defaults.
	SourceDir string `yaml:"source_dir"`

	// Persistence
	DatabasePath string `yaml:"database_path"`
	AuditLogPath string `yaml:"audit_log_path"`

	// Engine
	Engine EngineConfig `yaml:"engine"`

	// Policy
	Policy PolicyConfig `yaml:"policy"`

	// Certificate signing
	Signing SigningConfig `yaml:"signing"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig configures the calibration worker pool and scoring profile.
type EngineConfig struct {
	Workers      int     `yaml:"workers"`
	Relaxed      bool    `yaml:"relaxed"`
	NeutralScore float64 `yaml:"neutral_score"`
}

// PolicyConfig configures quality bands, the execution gate, and drift
// detection defaults.
type PolicyConfig struct {
	Bands             []policy.BandSpec `yaml:"bands"`
	MinExecutionScore float64           `yaml:"min_execution_score"`
	DriftWindow       int               `yaml:"drift_window"`
	DriftThreshold    float64           `yaml:"drift_threshold"`
}

// SigningConfig configures the certificate signer. An empty key runs
// unkeyed: certificates stay content-addressed but unsigned.
type SigningConfig struct {
	KeyID string `yaml:"key_id"`
	Key   string `yaml:"key"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "data/calfuse.db",
		AuditLogPath: "data/calfuse_audit.jsonl",
		Engine: EngineConfig{
			Workers:      4,
			NeutralScore: 0.5,
		},
		Policy: PolicyConfig{
			Bands:             policy.DefaultBands(),
			MinExecutionScore: policy.DefaultMinExecutionScore,
			DriftWindow:       50,
			DriftThreshold:    0.15,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment variables override either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides overrides file values from the environment. The signing
// key in particular should come from the environment, not from disk.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CALFUSE_DB"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("CALFUSE_SOURCES"); v != "" {
		c.SourceDir = v
	}
	if v := os.Getenv("CALFUSE_AUDIT_LOG"); v != "" {
		c.AuditLogPath = v
	}
	if v := os.Getenv("CALFUSE_SIGNING_KEY"); v != "" {
		c.Signing.Key = v
	}
	if v := os.Getenv("CALFUSE_SIGNING_KEY_ID"); v != "" {
		c.Signing.KeyID = v
	}
	if v := os.Getenv("CALFUSE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Engine.Workers = n
		}
	}
	if v := os.Getenv("CALFUSE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// BuildPolicy constructs the calibration policy from the configured bands.
func (c *Config) BuildPolicy() (*policy.Policy, error) {
	bands := c.Policy.Bands
	if len(bands) == 0 {
		bands = policy.DefaultBands()
	}
	minExec := c.Policy.MinExecutionScore
	if minExec == 0 {
		minExec = policy.DefaultMinExecutionScore
	}
	return policy.New(bands, minExec)
}
