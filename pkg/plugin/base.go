package plugin

import (
	"encoding/json"
	"log/slog"

	"bmiptools/pkg/errors"
)

// Validator is implemented by every configuration struct.
type Validator interface {
	Validate() error
}

// Base binds a typed configuration to the Dictionary contract. Plugins embed
// it and read Config directly.
type Base[C Validator] struct {
	name     string
	defaults C
	runtime  runtime

	// Config is the live configuration
	Config C
}

// Init merges partial over defaults, validates the result and installs it.
func (b *Base[C]) Init(name string, defaults C, partial Dictionary, opts ...Option) error {
	b.name = name
	b.defaults = defaults
	b.runtime = newRuntime(opts)
	return b.Configure(partial)
}

func (b *Base[C]) Name() string { return b.name }

// Logger returns the plugin logger, tagged with the operation name.
func (b *Base[C]) Logger() *slog.Logger {
	return b.runtime.logger.With("operation", b.name)
}

// Workers returns the optimization concurrency.
func (b *Base[C]) Workers() int { return b.runtime.workers }

// Defaults returns a copy of the default configuration.
func (b *Base[C]) Defaults() C {
	c, _ := cloneConfig(b.defaults)
	return c
}

func (b *Base[C]) DefaultConfiguration() Dictionary {
	d, _ := ToDictionary(b.defaults)
	return d
}

func (b *Base[C]) Configuration() Dictionary {
	d, _ := ToDictionary(b.Config)
	return d
}

// Configure replaces the configuration with partial merged over the defaults.
func (b *Base[C]) Configure(partial Dictionary) error {
	cfg, err := cloneConfig(b.defaults)
	if err != nil {
		return errors.WrapConfigurationError(b.name, err)
	}
	if partial != nil {
		if err := partial.Decode(&cfg); err != nil {
			return errors.WrapConfigurationError(b.name, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return errors.WrapConfigurationError(b.name, err)
	}
	b.Config = cfg
	return nil
}

// Set assigns value at a dotted path of the current configuration. Unknown
// paths and values failing validation are rejected and leave the
// configuration unchanged.
func (b *Base[C]) Set(path string, value any) error {
	d := b.Configuration()
	if _, ok := d.Lookup(path); !ok {
		return errors.NewConfigurationError(b.name, path, "unknown key")
	}
	if err := d.SetPath(path, value); err != nil {
		return errors.NewConfigurationError(b.name, path, err.Error())
	}

	var cfg C
	if err := d.Decode(&cfg); err != nil {
		return &errors.ConfigurationError{Operation: b.name, Key: path, Reason: "invalid value", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &errors.ConfigurationError{Operation: b.name, Key: path, Reason: "invalid value", Err: err}
	}
	b.Config = cfg
	return nil
}

func cloneConfig[C any](c C) (C, error) {
	var out C
	data, err := json.Marshal(c)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}
