package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ArbiterYAMLConfig represents the complete arbiter.yaml file structure.
type ArbiterYAMLConfig struct {
	Queue        *QueueConfig        `yaml:"queue"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator"`
	Store        *StoreConfig        `yaml:"store"`
	Security     *SecurityConfig     `yaml:"security"`
	Events       *EventsConfig       `yaml:"events"`
	Verdict      *VerdictConfig      `yaml:"verdict"`
}

// Initialize loads, merges, validates, and returns ready-to-use
// configuration. This is the primary entry point for configuration
// loading.
//
// Steps performed:
//  1. Load arbiter.yaml from configDir (optional — defaults apply)
//  2. Expand environment variables
//  3. Overlay user values on built-in defaults
//  4. Overlay arbiter.override.yaml, when present
//  5. Validate all sections
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	cfg.Reload(reloadableFrom(cfg))

	log.Info("Configuration initialized successfully",
		"queue_capacity", cfg.Queue.Capacity,
		"ack_window", cfg.Orchestrator.AckWindow,
		"breaker_threshold", cfg.Store.Breaker.FailureThreshold)

	return cfg, nil
}

// load is the internal loader (not exported).
func load(_ context.Context, configDir string) (*Config, error) {
	merged := &ArbiterYAMLConfig{
		Queue:        DefaultQueueConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Store:        DefaultStoreConfig(),
		Security:     DefaultSecurityConfig(),
		Events:       DefaultEventsConfig(),
		Verdict:      DefaultVerdictConfig(),
	}

	for _, name := range []string{"arbiter.yaml", "arbiter.override.yaml"} {
		user, err := loadYAMLFile(filepath.Join(configDir, name))
		if err != nil {
			return nil, NewLoadError(name, err)
		}
		if user == nil {
			continue
		}
		// User values override defaults; zero values keep them.
		if err := mergo.Merge(merged, user, mergo.WithOverride); err != nil {
			return nil, NewLoadError(name, err)
		}
	}

	return &Config{
		configDir:    configDir,
		Queue:        merged.Queue,
		Orchestrator: merged.Orchestrator,
		Store:        merged.Store,
		Security:     merged.Security,
		Events:       merged.Events,
		Verdict:      merged.Verdict,
	}, nil
}

// loadYAMLFile parses one configuration file. A missing file is not an
// error — defaults apply.
func loadYAMLFile(path string) (*ArbiterYAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var cfg ArbiterYAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidYAML, err)
	}
	return &cfg, nil
}
