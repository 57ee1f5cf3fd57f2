package builtins

import (
	"context"
	"fmt"

	"github.com/thrasher-corp/gct-ta/indicators"

	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*MACDTrend)(nil)

// MACDTrend trades trend alignment: it buys when both the MACD line rises
// above its signal line and the fast EMA sits above the slow EMA, and sells
// when both flip bearish. A signal fires only on the bar where the aligned
// state first appears.
type MACDTrend struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
	emaFast      int
	emaSlow      int
}

// NewMACDTrend creates a MACDTrend strategy. fast must be strictly smaller
// than slow, and emaFast strictly smaller than emaSlow.
func NewMACDTrend(fast, slow, signalPeriod, emaFast, emaSlow int) (*MACDTrend, error) {
	if fast < 1 || slow < 2 || fast >= slow || signalPeriod < 1 {
		return nil, fmt.Errorf("macd: invalid periods fast=%d slow=%d signal=%d", fast, slow, signalPeriod)
	}
	if emaFast < 1 || emaSlow < 2 || emaFast >= emaSlow {
		return nil, fmt.Errorf("macd: invalid ema periods fast=%d slow=%d", emaFast, emaSlow)
	}
	return &MACDTrend{
		fastPeriod:   fast,
		slowPeriod:   slow,
		signalPeriod: signalPeriod,
		emaFast:      emaFast,
		emaSlow:      emaSlow,
	}, nil
}

// Name returns "macd".
func (s *MACDTrend) Name() string { return "macd" }

// Warmup returns the bars needed for the slowest indicator to settle plus
// the preceding bar for transition detection.
func (s *MACDTrend) Warmup() int {
	longest := s.slowPeriod + s.signalPeriod
	if s.emaSlow > longest {
		longest = s.emaSlow
	}
	return longest + 1
}

// OnWindow detects bullish or bearish trend alignment on the latest bar.
func (s *MACDTrend) OnWindow(_ context.Context, window []domain.Bar) ([]domain.Signal, error) {
	if len(window) < s.Warmup() {
		return nil, nil
	}

	closes := make([]float64, len(window))
	for i, b := range window {
		closes[i] = b.Close
	}

	macdLine, signalLine, _ := indicators.MACD(closes, s.fastPeriod, s.slowPeriod, s.signalPeriod)
	emaFast := indicators.MA(closes, s.emaFast, indicators.Ema)
	emaSlow := indicators.MA(closes, s.emaSlow, indicators.Ema)

	n := len(closes)
	currBull, currBear := trendAligned(macdLine, signalLine, emaFast, emaSlow, n-1)
	prevBull, prevBear := trendAligned(macdLine, signalLine, emaFast, emaSlow, n-2)

	last := window[n-1]

	switch {
	case currBull && !prevBull:
		return []domain.Signal{{
			Strategy:  s.Name(),
			Symbol:    last.Symbol,
			Action:    domain.ActionBuy,
			Price:     last.Close,
			Strength:  1,
			Timestamp: last.Timestamp,
			Reason:    fmt.Sprintf("bullish alignment: macd %.2f > signal %.2f, ema%d > ema%d", macdLine[n-1], signalLine[n-1], s.emaFast, s.emaSlow),
		}}, nil

	case currBear && !prevBear:
		return []domain.Signal{{
			Strategy:  s.Name(),
			Symbol:    last.Symbol,
			Action:    domain.ActionSell,
			Price:     last.Close,
			Strength:  1,
			Timestamp: last.Timestamp,
			Reason:    fmt.Sprintf("bearish alignment: macd %.2f < signal %.2f, ema%d < ema%d", macdLine[n-1], signalLine[n-1], s.emaFast, s.emaSlow),
		}}, nil
	}
	return nil, nil
}

// trendAligned reports whether both the MACD and EMA pairs agree on
// direction at index i. Mixed readings are neither bullish nor bearish.
func trendAligned(macdLine, signalLine, emaFast, emaSlow []float64, i int) (bull, bear bool) {
	bull = macdLine[i] > signalLine[i] && emaFast[i] > emaSlow[i]
	bear = macdLine[i] < signalLine[i] && emaFast[i] < emaSlow[i]
	return bull, bear
}
