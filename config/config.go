// Package config provides configuration loading and management for Conversant.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/neurodataworks/conversant/llm"
)

// Config represents the complete Conversant configuration.
type Config struct {
	Language  LanguageConfig  `yaml:"language"`
	Converter ConverterConfig `yaml:"converter"`
	Intake    IntakeConfig    `yaml:"intake"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	NATS      NATSConfig      `yaml:"nats"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Engine    EngineConfig    `yaml:"engine"`
}

// LanguageConfig configures the language understanding service.
type LanguageConfig struct {
	// Endpoints is the fallback chain of model endpoints. Empty runs the
	// engine in reduced-intelligence mode.
	Endpoints []llm.Endpoint `yaml:"endpoints"`
	// MaxAttempts is the per-endpoint retry budget.
	MaxAttempts int `yaml:"max_attempts"`
}

// ConverterConfig selects and configures the converter collaborator.
type ConverterConfig struct {
	// Mode is "local" (in-process) or "http" (remote service).
	Mode string `yaml:"mode"`
	// URL is the remote converter base URL (http mode).
	URL string `yaml:"url"`
	// OutputDir is where converted artifacts are written (local mode).
	OutputDir string `yaml:"output_dir"`
}

// IntakeConfig configures the drop-directory watcher.
type IntakeConfig struct {
	// Dir is the watched directory (empty disables intake watching).
	Dir string `yaml:"dir"`
	// Debounce is how long to wait for a file to settle.
	Debounce time.Duration `yaml:"debounce"`
}

// MetadataConfig configures the merge engine.
type MetadataConfig struct {
	// RulesPath points to a YAML normalization rule set merged over the
	// built-in defaults.
	RulesPath string `yaml:"rules_path"`
}

// NATSConfig configures the optional event mirror.
type NATSConfig struct {
	// URL is the NATS server URL (empty disables event publishing).
	URL string `yaml:"url"`
}

// MetricsConfig configures Prometheus exposition.
type MetricsConfig struct {
	// Listen is the metrics HTTP listen address (empty disables it).
	Listen string `yaml:"listen"`
}

// EngineConfig configures the orchestration engine.
type EngineConfig struct {
	// CallTimeout bounds every collaborator call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Language: LanguageConfig{
			Endpoints:   nil, // Reduced-intelligence mode
			MaxAttempts: 3,
		},
		Converter: ConverterConfig{
			Mode:      "local",
			OutputDir: "out",
		},
		Intake: IntakeConfig{
			Dir:      "",
			Debounce: 500 * time.Millisecond,
		},
		Metadata: MetadataConfig{
			RulesPath: "",
		},
		NATS: NATSConfig{
			URL: "",
		},
		Metrics: MetricsConfig{
			Listen: "",
		},
		Engine: EngineConfig{
			CallTimeout: 180 * time.Second,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Converter.Mode {
	case "local":
		if c.Converter.OutputDir == "" {
			return fmt.Errorf("converter.output_dir is required in local mode")
		}
	case "http":
		if c.Converter.URL == "" {
			return fmt.Errorf("converter.url is required in http mode")
		}
	default:
		return fmt.Errorf("converter.mode must be local or http, got %q", c.Converter.Mode)
	}

	for i, ep := range c.Language.Endpoints {
		if ep.Provider == "" {
			return fmt.Errorf("language.endpoints[%d].provider is required", i)
		}
		if ep.Model == "" {
			return fmt.Errorf("language.endpoints[%d].model is required", i)
		}
	}

	if c.Language.MaxAttempts < 1 {
		return fmt.Errorf("language.max_attempts must be at least 1")
	}
	if c.Engine.CallTimeout <= 0 {
		return fmt.Errorf("engine.call_timeout must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file over the defaults.
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

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if len(other.Language.Endpoints) > 0 {
		c.Language.Endpoints = other.Language.Endpoints
	}
	if other.Language.MaxAttempts != 0 {
		c.Language.MaxAttempts = other.Language.MaxAttempts
	}

	if other.Converter.Mode != "" {
		c.Converter.Mode = other.Converter.Mode
	}
	if other.Converter.URL != "" {
		c.Converter.URL = other.Converter.URL
	}
	if other.Converter.OutputDir != "" {
		c.Converter.OutputDir = other.Converter.OutputDir
	}

	if other.Intake.Dir != "" {
		c.Intake.Dir = other.Intake.Dir
	}
	if other.Intake.Debounce != 0 {
		c.Intake.Debounce = other.Intake.Debounce
	}

	if other.Metadata.RulesPath != "" {
		c.Metadata.RulesPath = other.Metadata.RulesPath
	}
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.Metrics.Listen != "" {
		c.Metrics.Listen = other.Metrics.Listen
	}
	if other.Engine.CallTimeout != 0 {
		c.Engine.CallTimeout = other.Engine.CallTimeout
	}
}

// LoadEnv loads a .env file if present so provider API keys can live
// outside the YAML config. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
