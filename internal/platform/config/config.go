// Package config loads flow engine configuration from environment variables
// (via envdecode, with an optional .env file loaded first) and an optional
// YAML overlay for provider/tool registries that are awkward to express as
// env vars.
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/n3flow/core/internal/platform/logging"
	"github.com/n3flow/core/internal/platform/metrics"
	"github.com/n3flow/core/internal/platform/resilience"
	"github.com/n3flow/core/internal/platform/tracing"
)

// Config is the root process configuration, decoded from environment
// variables with the N3_ prefix.
type Config struct {
	Logging     logging.Config
	Metrics     metrics.Config
	Tracing     tracing.Config
	Resilience  resilience.Config
	MaxParallel int    `env:"N3_MAX_PARALLEL_TASKS,default=4"`
	ConfigFile  string `env:"N3_CONFIG_FILE,default="`
}

// ProvidersFile describes the optional YAML overlay listing AI provider
// endpoints, credentials refs, and per-provider circuit breaker overrides.
type ProvidersFile struct {
	Providers []ProviderSpec `yaml:"providers"`
	Tools     []ToolSpec     `yaml:"tools"`
}

// ProviderSpec describes one configured AI provider backend.
type ProviderSpec struct {
	Name           string            `yaml:"name"`
	Kind           string            `yaml:"kind"`
	BaseURL        string            `yaml:"base_url"`
	APIKeyEnv      string            `yaml:"api_key_env"`
	Model          string            `yaml:"model"`
	TimeoutSeconds float64           `yaml:"timeout_seconds"`
	Headers        map[string]string `yaml:"headers"`
}

// ToolSpec describes one configured external tool.
type ToolSpec struct {
	Name    string            `yaml:"name"`
	Kind    string            `yaml:"kind"`
	BaseURL string            `yaml:"base_url"`
	Auth    map[string]string `yaml:"auth"`
}

// Load reads a .env file if present and decodes environment variables into
// Config. It does not read the YAML overlay; LoadProvidersFile parses one
// from a given path.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode env config: %w", err)
	}
	return &cfg, nil
}

// LoadProvidersFile reads and parses the YAML provider/tool registry at path.
func LoadProvidersFile(path string) (*ProvidersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	var pf ProvidersFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}
	return &pf, nil
}
