// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "45s" parse naturally.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Memory  MemoryConfig  `yaml:"memory"`
	Blob    BlobConfig    `yaml:"blob"`
	Turn    TurnConfig    `yaml:"turn"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener and public addressing.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// BaseURL is the externally reachable origin, used to build download
	// links embedded in assistant replies.
	BaseURL string `yaml:"base_url"`
}

// ModelConfig selects the default model provider.
type ModelConfig struct {
	Provider string `yaml:"provider"` // openai | anthropic
	Name     string `yaml:"name"`
}

// SandboxConfig points at the sandbox execution service.
type SandboxConfig struct {
	URL string `yaml:"url"`
}

// MemoryConfig points at the hosted memory service. Empty URL selects the
// process-local store.
type MemoryConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// BlobConfig selects the upload storage backend.
type BlobConfig struct {
	Backend       string `yaml:"backend"` // memory | s3
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Prefix        string `yaml:"prefix"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// TurnConfig bounds turn processing.
type TurnConfig struct {
	StepBudget       int      `yaml:"step_budget"`
	Timeout          Duration `yaml:"timeout"`
	MaxParallelTools int      `yaml:"max_parallel_tools"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Default returns the configuration used when no file or overrides are given.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8080", BaseURL: "http://localhost:8080"},
		Model:   ModelConfig{Provider: "openai"},
		Blob:    BlobConfig{Backend: "memory"},
		Turn: TurnConfig{
			StepBudget:       10,
			Timeout:          Duration(60 * time.Second),
			MaxParallelTools: 4,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path (skipped when empty), applies SANDCHAT_*
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	setString("SANDCHAT_ADDR", &cfg.Server.Addr)
	setString("SANDCHAT_BASE_URL", &cfg.Server.BaseURL)
	setString("SANDCHAT_MODEL_PROVIDER", &cfg.Model.Provider)
	setString("SANDCHAT_MODEL_NAME", &cfg.Model.Name)
	setString("SANDCHAT_SANDBOX_URL", &cfg.Sandbox.URL)
	setString("SANDCHAT_MEMORY_URL", &cfg.Memory.URL)
	setString("SANDCHAT_MEMORY_API_KEY", &cfg.Memory.APIKey)
	setString("SANDCHAT_BLOB_BACKEND", &cfg.Blob.Backend)
	setString("SANDCHAT_BLOB_BUCKET", &cfg.Blob.Bucket)
	setString("SANDCHAT_BLOB_REGION", &cfg.Blob.Region)
	setString("SANDCHAT_LOG_LEVEL", &cfg.Logging.Level)

	if v, ok := os.LookupEnv("SANDCHAT_STEP_BUDGET"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Turn.StepBudget = n
		}
	}
	if v, ok := os.LookupEnv("SANDCHAT_TURN_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Turn.Timeout = Duration(d)
		}
	}
}

// Validate checks invariants the rest of the service relies on.
func (c Config) Validate() error {
	if c.Turn.StepBudget <= 0 {
		return fmt.Errorf("turn.step_budget must be a positive integer, got %d", c.Turn.StepBudget)
	}
	if c.Turn.Timeout <= 0 {
		return fmt.Errorf("turn.timeout must be positive")
	}
	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("model.provider must be openai or anthropic, got %q", c.Model.Provider)
	}
	switch c.Blob.Backend {
	case "memory":
	case "s3":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("blob.backend must be memory or s3, got %q", c.Blob.Backend)
	}
	return nil
}
