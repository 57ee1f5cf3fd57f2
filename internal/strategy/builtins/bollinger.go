package builtins

import (
	"context"
	"fmt"

	"github.com/thrasher-corp/gct-ta/indicators"

	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*Bollinger)(nil)

// Bollinger implements a Bollinger band mean-reversion strategy. It emits a
// buy signal when the close crosses below the lower band and a sell signal
// when it crosses above the upper band. Signal strength grows with the
// distance outside the band, normalized by the band width.
type Bollinger struct {
	period int
	numDev float64
}

// NewBollinger creates a Bollinger strategy with the given moving-average
// period and standard-deviation multiplier.
func NewBollinger(period int, numDev float64) (*Bollinger, error) {
	if period < 2 || numDev <= 0 {
		return nil, fmt.Errorf("bollinger: invalid params period=%d num_dev=%v", period, numDev)
	}
	return &Bollinger{period: period, numDev: numDev}, nil
}

// Name returns "bollinger".
func (s *Bollinger) Name() string { return "bollinger" }

// Warmup returns the bars needed to observe a band crossing.
func (s *Bollinger) Warmup() int { return s.period + 1 }

// OnWindow detects band crossings on the latest bar.
func (s *Bollinger) OnWindow(_ context.Context, window []domain.Bar) ([]domain.Signal, error) {
	if len(window) < s.Warmup() {
		return nil, nil
	}

	closes := make([]float64, len(window))
	for i, b := range window {
		closes[i] = b.Close
	}

	upper, middle, lower := indicators.BBANDS(closes, s.period, s.numDev, s.numDev, indicators.Sma)

	n := len(closes)
	last := window[n-1]
	width := upper[n-1] - lower[n-1]
	if width <= 0 {
		return nil, nil
	}

	switch {
	case closes[n-2] >= lower[n-2] && closes[n-1] < lower[n-1]:
		return []domain.Signal{{
			Strategy:  s.Name(),
			Symbol:    last.Symbol,
			Action:    domain.ActionBuy,
			Price:     last.Close,
			Strength:  bandStrength(lower[n-1]-closes[n-1], width),
			Timestamp: last.Timestamp,
			Reason:    fmt.Sprintf("close %.2f below lower band %.2f (mid %.2f)", last.Close, lower[n-1], middle[n-1]),
		}}, nil

	case closes[n-2] <= upper[n-2] && closes[n-1] > upper[n-1]:
		return []domain.Signal{{
			Strategy:  s.Name(),
			Symbol:    last.Symbol,
			Action:    domain.ActionSell,
			Price:     last.Close,
			Strength:  bandStrength(closes[n-1]-upper[n-1], width),
			Timestamp: last.Timestamp,
			Reason:    fmt.Sprintf("close %.2f above upper band %.2f (mid %.2f)", last.Close, upper[n-1], middle[n-1]),
		}}, nil
	}
	return nil, nil
}

// bandStrength maps the overshoot beyond a band to (0, 1]. A small
// floor keeps marginal crossings tradeable.
func bandStrength(overshoot, width float64) float64 {
	s := 0.25 + overshoot/width
	if s > 1 {
		return 1
	}
	return s
}
