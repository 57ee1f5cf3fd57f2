// Package strategy defines the Strategy interface for signal generators and
// provides a Registry for managing multiple strategy implementations.
package strategy

import (
	"context"
	"sort"

	"backlab/internal/domain"
)

// Strategy is the interface that all signal generators must implement.
// Implementations are pure with respect to the portfolio: they see only
// price history and emit advisory signals.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Warmup returns the minimum number of bars the strategy needs before
	// it can emit signals. OnWindow is not called with fewer bars.
	Warmup() int

	// OnWindow is called with the bar history for one symbol up to and
	// including the current bar, oldest first. It returns zero or more
	// signals priced at the current bar.
	OnWindow(ctx context.Context, window []domain.Bar) ([]domain.Signal, error)
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
