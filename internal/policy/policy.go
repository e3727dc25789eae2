// Package policy defines position-sizing policies that turn a strategy
// signal and the current portfolio into a target exposure.
package policy

import (
	"fmt"
	"sort"

	"meridian/internal/domain"
)

// Policy maps a signal and portfolio state to the fraction of equity that
// should be held in the instrument for the next bar.
type Policy interface {
	// Name returns the unique identifier for this policy.
	Name() string

	// Decide returns the target fraction of equity to hold. It never sees
	// warm-up signals from a well-behaved caller; implementations must still
	// reject them.
	Decide(sig domain.Signal, state domain.PortfolioState) (float64, error)
}

// Factory builds a Policy from loosely typed parameters. It must reject
// invalid parameters with an error wrapping domain.ErrConfig.
type Factory func(params domain.Params) (Policy, error)

// Registry holds named policy factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a Registry with the built-in policies registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(LongFlatAllInName, NewLongFlatAllInFromParams)
	return r
}

// Register adds a factory under name, replacing any previous entry.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// New constructs the named policy with params.
func (r *Registry) New(name string, params domain.Params) (Policy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("policy %q: %w", name, domain.ErrNotFound)
	}
	return f(params)
}

// List returns the sorted names of all registered policies.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
