// Package config provides configuration loading and management for bmiptools.
// It handles loading configuration from YAML (or, by extension, TOML) files
// and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores bounds concurrent candidate evaluations during optimization
		NumCores int `yaml:"numCores" toml:"numCores"`
	} `yaml:"processing" toml:"processing"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level" toml:"level"`

		// Format is console or json
		Format string `yaml:"format" toml:"format"`
	} `yaml:"logging" toml:"logging"`

	// Pipeline parameters
	Pipeline struct {
		// Folder is the working folder; the pipeline is saved under Folder/Name
		Folder string `yaml:"folder" toml:"folder"`

		// Name of the pipeline; generated when empty
		Name string `yaml:"name" toml:"name"`

		// Operations in application order, e.g. [Destriper, Decharger]
		Operations []string `yaml:"operations,omitempty" toml:"operations,omitempty"`

		// Overrides holds partial plugin dictionaries keyed by step key
		Overrides map[string]map[string]any `yaml:"overrides,omitempty" toml:"overrides,omitempty"`

		// ConfigurationFile is a JSON pipeline summary used instead of Overrides
		ConfigurationFile string `yaml:"configurationFile" toml:"configurationFile"`
	} `yaml:"pipeline" toml:"pipeline"`

	// Stack input and output parameters
	Stack struct {
		// Input is a folder of slices or a single image/volume file
		Input string `yaml:"input" toml:"input"`

		// FromFolder loads every supported image in Input as one slice
		FromFolder bool `yaml:"fromFolder" toml:"fromFolder"`

		// Slices restricts loading to these slice positions (empty = all)
		Slices []int `yaml:"slices,omitempty" toml:"slices,omitempty"`

		// Extension restricts folder loading to one file extension
		Extension string `yaml:"extension" toml:"extension"`

		// OutputDir receives the corrected stack
		OutputDir string `yaml:"outputDir" toml:"outputDir"`

		// OutputName is the base name of the saved files
		OutputName string `yaml:"outputName" toml:"outputName"`

		// DataType is uint8, uint16 or float64 (whole mode only)
		DataType string `yaml:"dataType" toml:"dataType"`

		// Mode is slice_by_slice or whole
		Mode string `yaml:"mode" toml:"mode"`

		// Standardized rescales samples onto the full output range
		Standardized bool `yaml:"standardized" toml:"standardized"`
	} `yaml:"stack" toml:"stack"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"

	cfg.Pipeline.Folder = "pipelines"

	cfg.Stack.FromFolder = true
	cfg.Stack.OutputDir = "corrected"
	cfg.Stack.OutputName = "slice"
	cfg.Stack.DataType = "uint8"
	cfg.Stack.Mode = "slice_by_slice"
	cfg.Stack.Standardized = true

	return cfg
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("processing.numCores must be >= 1, got %d", c.Processing.NumCores)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Stack.DataType {
	case "uint8", "uint16", "float64":
	default:
		return fmt.Errorf("stack.dataType must be uint8, uint16 or float64, got %q", c.Stack.DataType)
	}
	switch c.Stack.Mode {
	case "slice_by_slice", "whole":
	default:
		return fmt.Errorf("stack.mode must be slice_by_slice or whole, got %q", c.Stack.Mode)
	}
	if c.Pipeline.ConfigurationFile != "" && len(c.Pipeline.Overrides) > 0 {
		return fmt.Errorf("pipeline.overrides and pipeline.configurationFile are mutually exclusive")
	}
	return nil
}

// LoadConfig loads configuration from a YAML or TOML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	var err error
	if isTOML(configPath) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
