// Package registry maps operation names to plugin constructors.
//
// The table is immutable once built. Default() returns the table of every
// operation shipped in pkg/transform; New builds custom tables, mostly for
// tests.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/transform"
)

// Constructor builds a plugin from a possibly partial dictionary.
type Constructor func(d plugin.Dictionary, opts ...plugin.Option) (plugin.Plugin, error)

// Entry describes one registered operation.
type Entry struct {
	Name string
	New  Constructor

	// Default is the operation's default configuration template
	Default plugin.Dictionary

	// Fitter reports whether instances implement plugin.Fitter
	Fitter bool
}

// Registry is an immutable operation table.
type Registry struct {
	entries map[string]Entry
	names   []string
}

// New builds a registry from constructors keyed by name. Each constructor
// is invoked once with no overrides to capture its default template.
func New(constructors map[string]Constructor) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(constructors))}
	for name, ctor := range constructors {
		p, err := ctor(nil)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
		if p.Name() != name {
			return nil, fmt.Errorf("register %s: constructor builds %s", name, p.Name())
		}
		_, fitter := p.(plugin.Fitter)
		r.entries[name] = Entry{Name: name, New: ctor, Default: p.DefaultConfiguration(), Fitter: fitter}
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry of all built-in operations.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := New(map[string]Constructor{
			transform.NameCropper:          adapt(transform.NewCropper),
			transform.NameStandardizer:     adapt(transform.NewStandardizer),
			transform.NameHistogramMatcher: adapt(transform.NewHistogramMatcher),
			transform.NameEqualizer:        adapt(transform.NewEqualizer),
			transform.NameAffine:           adapt(transform.NewAffine),
			transform.NameRegistrator:      adapt(transform.NewRegistrator),
			transform.NameDestriper:        adapt(transform.NewDestriper),
			transform.NameDecharger:        adapt(transform.NewDecharger),
			transform.NameFlatter:          adapt(transform.NewFlatter),
			transform.NameDenoiser:         adapt(transform.NewDenoiser),
		})
		if err != nil {
			panic(fmt.Sprintf("registry: built-in operations are invalid: %v", err))
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// adapt lifts a concrete constructor to a Constructor.
func adapt[P plugin.Plugin](ctor func(plugin.Dictionary, ...plugin.Option) (P, error)) Constructor {
	return func(d plugin.Dictionary, opts ...plugin.Option) (plugin.Plugin, error) {
		p, err := ctor(d, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, errors.NewUnknownOperationError(name)
	}
	e.Default = e.Default.Clone()
	return e, nil
}

// Names returns the registered operation names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Build constructs a fresh plugin of the named operation.
func (r *Registry) Build(name string, d plugin.Dictionary, opts ...plugin.Option) (plugin.Plugin, error) {
	e, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return e.New(d, opts...)
}
