// Package config provides configuration loading and management for
// dwislicealign. It handles loading configuration from YAML files and
// provides default values; command-line flags override whatever the
// file sets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the run configuration loaded from YAML.
type Config struct {
	// Pipeline parameters
	Pipeline struct {
		// Workers is the registration worker pool size.
		Workers int `yaml:"workers"`

		// QueueDepth bounds the task and result channels.
		QueueDepth int `yaml:"queueDepth"`
	} `yaml:"pipeline"`

	// Registration parameters
	Registration struct {
		// MaxIter caps the Gauss-Newton iterations per task. Zero
		// leaves the motion initialisation untouched.
		MaxIter int `yaml:"maxIter"`

		// SSPWidth is the default slice profile width in voxel units,
		// used when no -ssp flag is given.
		SSPWidth float64 `yaml:"sspWidth"`

		// TolResidual is the relative residual improvement threshold.
		TolResidual float64 `yaml:"tolResidual"`

		// TolStep is the parameter step norm threshold.
		TolStep float64 `yaml:"tolStep"`

		// MaxStepTrans clamps a single step's translation, in voxels.
		MaxStepTrans float64 `yaml:"maxStepTrans"`

		// MaxStepRot clamps a single step's rotation, in radians.
		MaxStepRot float64 `yaml:"maxStepRot"`
	} `yaml:"registration"`

	// Output parameters
	Output struct {
		// Verbose enables debug-level logging.
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Pipeline.Workers = runtime.NumCPU()
	cfg.Pipeline.QueueDepth = 2 * runtime.NumCPU()

	cfg.Registration.MaxIter = 0
	cfg.Registration.SSPWidth = 1.0
	cfg.Registration.TolResidual = 1e-5
	cfg.Registration.TolStep = 1e-4
	cfg.Registration.MaxStepTrans = 3.0
	cfg.Registration.MaxStepRot = 0.3

	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file. If the file doesn't
// exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
