package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*LookaheadGuard)(nil)

// LookaheadGuard wraps a strategy and verifies that the windows it receives
// could not leak future data: bars must be strictly ascending in time and
// each symbol's window end must never move backwards between calls. It is
// used by validate mode to certify a data set and loop wiring before trusting
// backtest results.
type LookaheadGuard struct {
	inner strategy.Strategy

	mu         sync.Mutex
	lastEnd    map[string]time.Time
	violations []string
}

// NewLookaheadGuard wraps the given strategy.
func NewLookaheadGuard(inner strategy.Strategy) *LookaheadGuard {
	return &LookaheadGuard{
		inner:   inner,
		lastEnd: make(map[string]time.Time),
	}
}

// Name returns the wrapped strategy's name.
func (g *LookaheadGuard) Name() string { return g.inner.Name() }

// Warmup returns the wrapped strategy's warmup.
func (g *LookaheadGuard) Warmup() int { return g.inner.Warmup() }

// Violations returns the recorded ordering violations.
func (g *LookaheadGuard) Violations() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.violations))
	copy(out, g.violations)
	return out
}

// OnWindow validates the window, records any violation, and delegates to the
// wrapped strategy only when the window is clean.
func (g *LookaheadGuard) OnWindow(ctx context.Context, window []domain.Bar) ([]domain.Signal, error) {
	if len(window) == 0 {
		return nil, nil
	}
	sym := window[0].Symbol

	for i := 1; i < len(window); i++ {
		if !window[i].Timestamp.After(window[i-1].Timestamp) {
			return nil, g.violation(fmt.Sprintf(
				"%s: window not strictly ascending at index %d (%s then %s)",
				sym, i, window[i-1].Timestamp.Format(time.RFC3339), window[i].Timestamp.Format(time.RFC3339)))
		}
	}

	end := window[len(window)-1].Timestamp
	g.mu.Lock()
	if prev, ok := g.lastEnd[sym]; ok && end.Before(prev) {
		g.mu.Unlock()
		return nil, g.violation(fmt.Sprintf(
			"%s: window end moved backwards from %s to %s",
			sym, prev.Format(time.RFC3339), end.Format(time.RFC3339)))
	}
	g.lastEnd[sym] = end
	g.mu.Unlock()

	return g.inner.OnWindow(ctx, window)
}

func (g *LookaheadGuard) violation(msg string) error {
	g.mu.Lock()
	g.violations = append(g.violations, msg)
	g.mu.Unlock()
	return fmt.Errorf("lookahead violation: %s", msg)
}
