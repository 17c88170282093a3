package pipeline

import (
	"bufio"
	"fmt"
	"io"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/plugin"
)

// Source supplies the configuration of each step, keyed by step key. Steps
// without an entry use their defaults.
type Source interface {
	Configurations(p *Pipeline) (map[string]plugin.Dictionary, error)
}

type sourceFunc func(p *Pipeline) (map[string]plugin.Dictionary, error)

func (f sourceFunc) Configurations(p *Pipeline) (map[string]plugin.Dictionary, error) { return f(p) }

// Defaults configures every step with its default template.
func Defaults() Source {
	return sourceFunc(func(*Pipeline) (map[string]plugin.Dictionary, error) { return nil, nil })
}

// Overrides configures steps from partial dictionaries keyed by step key.
// Unknown step keys are rejected.
func Overrides(overrides map[string]plugin.Dictionary) Source {
	return sourceFunc(func(p *Pipeline) (map[string]plugin.Dictionary, error) {
		for key := range overrides {
			if _, ok := p.Plugin(key); !ok {
				return nil, errors.NewConfigurationError(p.name, key, "no such step")
			}
		}
		return overrides, nil
	})
}

// FromFile configures steps from a JSON summary such as the one written by
// Save or Template. Its steps must match the pipeline's.
func FromFile(path string) Source {
	return sourceFunc(func(p *Pipeline) (map[string]plugin.Dictionary, error) {
		sum, err := readSummary(path)
		if err != nil {
			return nil, errors.WrapConfigurationError(p.name, err)
		}
		steps := p.Steps()
		if len(sum.Steps) != len(steps) {
			return nil, errors.NewConfigurationError(p.name, "steps",
				fmt.Sprintf("%s lists %d steps, pipeline has %d", path, len(sum.Steps), len(steps)))
		}
		out := make(map[string]plugin.Dictionary, len(steps))
		for i, s := range sum.Steps {
			if s.Key != steps[i].Key || s.Operation != steps[i].Operation {
				return nil, errors.NewConfigurationError(p.name, "steps",
					fmt.Sprintf("step %d is %s (%s) in %s, expected %s (%s)", i, s.Key, s.Operation, path, steps[i].Key, steps[i].Operation))
			}
			out[s.Key] = s.Configuration
		}
		return out, nil
	})
}

// Interactive writes the current configuration to path, waits for the user
// to edit it and confirm on in, then reads it back.
func Interactive(in io.Reader, out io.Writer, path string) Source {
	return sourceFunc(func(p *Pipeline) (map[string]plugin.Dictionary, error) {
		if err := writeJSON(path, p.Summary()); err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "Configuration template written to %s\n", path)
		fmt.Fprintf(out, "Edit it, then press Enter to continue...")
		if _, err := bufio.NewReader(in).ReadString('\n'); err != nil && err != io.EOF {
			return nil, fmt.Errorf("wait for confirmation: %w", err)
		}
		fmt.Fprintln(out)
		return FromFile(path).Configurations(p)
	})
}

// Initialize rebuilds every step with fresh plugins and configures them
// from src. Steps sharing a plugin (fit_ steps) merge their dictionaries in
// step order. Any prior apply result and fitted state is discarded. On
// error the pipeline keeps its previous plugins and state.
func (p *Pipeline) Initialize(src Source) error {
	steps, err := p.build()
	if err != nil {
		return err
	}
	configs, err := src.Configurations(p)
	if err != nil {
		return err
	}

	merged := make(map[plugin.Plugin]plugin.Dictionary)
	var order []plugin.Plugin
	for _, s := range steps {
		d, seen := merged[s.plugin]
		if !seen {
			order = append(order, s.plugin)
		}
		if c := configs[s.Key]; c != nil {
			if d == nil {
				d = c.Clone()
			} else {
				d = d.Merge(c)
			}
		}
		merged[s.plugin] = d
	}
	for _, pl := range order {
		if err := pl.Configure(merged[pl]); err != nil {
			return err
		}
	}

	p.steps = steps
	p.state = Initialized
	p.logger.Info("pipeline initialized", "steps", len(p.steps))
	return nil
}
