// Package builtins provides the built-in strategy implementations that ship
// with backlab.
package builtins

import (
	"context"
	"fmt"

	"github.com/thrasher-corp/gct-ta/indicators"

	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It emits a
// buy signal when the fast SMA crosses above the slow SMA (golden cross) and
// a sell signal when it crosses below (death cross). Buy entries can be
// gated on a minimum bar volume.
type SMACross struct {
	fastPeriod int
	slowPeriod int
	minVolume  int64
}

// NewSMACross creates an SMACross strategy. fast must be strictly smaller
// than slow.
func NewSMACross(fast, slow int, minVolume int64) (*SMACross, error) {
	if fast < 1 || slow < 2 || fast >= slow {
		return nil, fmt.Errorf("sma-cross: invalid periods fast=%d slow=%d", fast, slow)
	}
	return &SMACross{
		fastPeriod: fast,
		slowPeriod: slow,
		minVolume:  minVolume,
	}, nil
}

// Name returns "sma-cross".
func (s *SMACross) Name() string { return "sma-cross" }

// Warmup returns the bars needed to observe a crossover: one full slow
// period plus the preceding bar.
func (s *SMACross) Warmup() int { return s.slowPeriod + 1 }

// OnWindow detects fast/slow SMA crossovers on the latest bar.
func (s *SMACross) OnWindow(_ context.Context, window []domain.Bar) ([]domain.Signal, error) {
	if len(window) < s.Warmup() {
		return nil, nil
	}

	closes := make([]float64, len(window))
	for i, b := range window {
		closes[i] = b.Close
	}

	fast := indicators.MA(closes, s.fastPeriod, indicators.Sma)
	slow := indicators.MA(closes, s.slowPeriod, indicators.Sma)

	n := len(closes)
	currFast, prevFast := fast[n-1], fast[n-2]
	currSlow, prevSlow := slow[n-1], slow[n-2]

	last := window[n-1]

	switch {
	case prevFast <= prevSlow && currFast > currSlow:
		if last.Volume < s.minVolume {
			return nil, nil
		}
		return []domain.Signal{{
			Strategy:  s.Name(),
			Symbol:    last.Symbol,
			Action:    domain.ActionBuy,
			Price:     last.Close,
			Strength:  1,
			Timestamp: last.Timestamp,
			Reason:    fmt.Sprintf("golden cross: sma%d %.2f > sma%d %.2f", s.fastPeriod, currFast, s.slowPeriod, currSlow),
		}}, nil

	case prevFast >= prevSlow && currFast < currSlow:
		return []domain.Signal{{
			Strategy:  s.Name(),
			Symbol:    last.Symbol,
			Action:    domain.ActionSell,
			Price:     last.Close,
			Strength:  1,
			Timestamp: last.Timestamp,
			Reason:    fmt.Sprintf("death cross: sma%d %.2f < sma%d %.2f", s.fastPeriod, currFast, s.slowPeriod, currSlow),
		}}, nil
	}
	return nil, nil
}
