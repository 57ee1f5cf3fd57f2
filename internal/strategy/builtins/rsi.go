package builtins

import (
	"context"
	"fmt"

	"github.com/thrasher-corp/gct-ta/indicators"

	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*RSIReversal)(nil)

// RSIReversal implements an RSI mean-reversion strategy. It emits a buy
// signal when the RSI drops into the oversold zone and a sell signal when it
// rises into the overbought zone. Strength grows as the RSI moves deeper
// past the threshold.
type RSIReversal struct {
	period     int
	oversold   float64
	overbought float64
}

// NewRSIReversal creates an RSIReversal strategy.
func NewRSIReversal(period int, oversold, overbought float64) (*RSIReversal, error) {
	if period < 2 {
		return nil, fmt.Errorf("rsi: invalid period %d", period)
	}
	if oversold <= 0 || overbought >= 100 || oversold >= overbought {
		return nil, fmt.Errorf("rsi: invalid thresholds oversold=%v overbought=%v", oversold, overbought)
	}
	return &RSIReversal{period: period, oversold: oversold, overbought: overbought}, nil
}

// Name returns "rsi".
func (s *RSIReversal) Name() string { return "rsi" }

// Warmup returns the bars needed for a stable RSI reading plus the
// preceding bar for crossing detection.
func (s *RSIReversal) Warmup() int { return s.period + 2 }

// OnWindow detects threshold crossings of the RSI on the latest bar.
func (s *RSIReversal) OnWindow(_ context.Context, window []domain.Bar) ([]domain.Signal, error) {
	if len(window) < s.Warmup() {
		return nil, nil
	}

	closes := make([]float64, len(window))
	for i, b := range window {
		closes[i] = b.Close
	}

	rsi := indicators.RSI(closes, s.period)
	n := len(rsi)
	curr, prev := rsi[n-1], rsi[n-2]
	last := window[len(window)-1]

	switch {
	case prev >= s.oversold && curr < s.oversold:
		return []domain.Signal{{
			Strategy:  s.Name(),
			Symbol:    last.Symbol,
			Action:    domain.ActionBuy,
			Price:     last.Close,
			Strength:  thresholdStrength(s.oversold-curr, s.oversold),
			Timestamp: last.Timestamp,
			Reason:    fmt.Sprintf("rsi %.1f below %.0f", curr, s.oversold),
		}}, nil

	case prev <= s.overbought && curr > s.overbought:
		return []domain.Signal{{
			Strategy:  s.Name(),
			Symbol:    last.Symbol,
			Action:    domain.ActionSell,
			Price:     last.Close,
			Strength:  thresholdStrength(curr-s.overbought, 100-s.overbought),
			Timestamp: last.Timestamp,
			Reason:    fmt.Sprintf("rsi %.1f above %.0f", curr, s.overbought),
		}}, nil
	}
	return nil, nil
}

// thresholdStrength maps the excursion past a threshold to (0, 1].
func thresholdStrength(excursion, room float64) float64 {
	if room <= 0 {
		return 1
	}
	s := 0.25 + excursion/room
	if s > 1 {
		return 1
	}
	return s
}
