// Package strategy defines the Strategy interface for signal generators and
// provides a Registry for constructing them by name.
package strategy

import (
	"fmt"
	"sort"

	"meridian/internal/domain"
)

// Strategy is the interface that all signal generators must implement.
// Implementations hold only immutable configuration, so one instance may be
// shared by concurrent runs.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// GenerateSignals returns one signal per bar, aligned by index. Bars
	// inside the warm-up window carry domain.SignalNone.
	GenerateSignals(bars []domain.Bar) (domain.SignalSeries, error)
}

// Factory builds a Strategy from loosely typed parameters. It must reject
// invalid parameters with an error wrapping domain.ErrConfig.
type Factory func(params domain.Params) (Strategy, error)

// Registry holds a named collection of strategy factories for lookup and
// enumeration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name, replacing any previous entry.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Get retrieves a factory by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// New constructs the named strategy with params.
func (r *Registry) New(name string, params domain.Params) (Strategy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", name, domain.ErrNotFound)
	}
	return f(params)
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
