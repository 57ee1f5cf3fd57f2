package builtins

import (
	"context"
	"testing"
	"time"

	"backlab/internal/config"
	"backlab/internal/domain"
)

func windowFromCloses(symbol string, closes []float64, volume int64) []domain.Bar {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: base.AddDate(0, 0, i),
			Open:      c, High: c + 0.5, Low: c - 0.5, Close: c,
			Volume: volume,
		}
	}
	return bars
}

func TestSMACrossGoldenCross(t *testing.T) {
	s, err := NewSMACross(2, 3, 0)
	if err != nil {
		t.Fatalf("NewSMACross returned error: %v", err)
	}

	// Flat then a pop: fast SMA crosses above slow SMA on the last bar.
	window := windowFromCloses("AAPL", []float64{10, 10, 10, 10, 12}, 1000)
	signals, err := s.OnWindow(context.Background(), window)
	if err != nil {
		t.Fatalf("OnWindow returned error: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("got %d signals, want 1", len(signals))
	}
	sig := signals[0]
	if sig.Action != domain.ActionBuy {
		t.Errorf("Action = %s, want buy", sig.Action)
	}
	if sig.Symbol != "AAPL" || sig.Price != 12 {
		t.Errorf("signal = %+v, want AAPL at 12", sig)
	}
	if !sig.Timestamp.Equal(window[len(window)-1].Timestamp) {
		t.Error("signal timestamp should be the last bar's timestamp")
	}
}

func TestSMACrossDeathCross(t *testing.T) {
	s, err := NewSMACross(2, 3, 0)
	if err != nil {
		t.Fatalf("NewSMACross returned error: %v", err)
	}

	window := windowFromCloses("AAPL", []float64{10, 10, 10, 10, 8}, 1000)
	signals, err := s.OnWindow(context.Background(), window)
	if err != nil {
		t.Fatalf("OnWindow returned error: %v", err)
	}
	if len(signals) != 1 || signals[0].Action != domain.ActionSell {
		t.Fatalf("signals = %+v, want one sell", signals)
	}
}

func TestSMACrossVolumeFilter(t *testing.T) {
	s, err := NewSMACross(2, 3, 5000)
	if err != nil {
		t.Fatalf("NewSMACross returned error: %v", err)
	}

	// Golden cross but volume below the floor suppresses the entry.
	window := windowFromCloses("AAPL", []float64{10, 10, 10, 10, 12}, 1000)
	signals, err := s.OnWindow(context.Background(), window)
	if err != nil {
		t.Fatalf("OnWindow returned error: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("got %d signals, want 0 with volume below floor", len(signals))
	}
}

func TestSMACrossInsufficientWindow(t *testing.T) {
	s, err := NewSMACross(2, 3, 0)
	if err != nil {
		t.Fatalf("NewSMACross returned error: %v", err)
	}

	window := windowFromCloses("AAPL", []float64{10, 10, 12}, 1000)
	signals, err := s.OnWindow(context.Background(), window)
	if err != nil {
		t.Fatalf("OnWindow returned error: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("got %d signals below warmup, want 0", len(signals))
	}
}

func TestSMACrossRejectsInvertedPeriods(t *testing.T) {
	if _, err := NewSMACross(20, 10, 0); err == nil {
		t.Error("NewSMACross(20, 10) should fail")
	}
}

func TestBollingerLowerBandBuy(t *testing.T) {
	s, err := NewBollinger(3, 1)
	if err != nil {
		t.Fatalf("NewBollinger returned error: %v", err)
	}

	// Flat then a sharp drop through the lower band.
	window := windowFromCloses("MSFT", []float64{10, 10, 10, 10, 7}, 1000)
	signals, err := s.OnWindow(context.Background(), window)
	if err != nil {
		t.Fatalf("OnWindow returned error: %v", err)
	}
	if len(signals) != 1 || signals[0].Action != domain.ActionBuy {
		t.Fatalf("signals = %+v, want one buy", signals)
	}
	if st := signals[0].Strength; st <= 0 || st > 1 {
		t.Errorf("Strength = %v, want in (0, 1]", st)
	}
}

func TestBollingerUpperBandSell(t *testing.T) {
	s, err := NewBollinger(3, 1)
	if err != nil {
		t.Fatalf("NewBollinger returned error: %v", err)
	}

	window := windowFromCloses("MSFT", []float64{10, 10, 10, 10, 13}, 1000)
	signals, err := s.OnWindow(context.Background(), window)
	if err != nil {
		t.Fatalf("OnWindow returned error: %v", err)
	}
	if len(signals) != 1 || signals[0].Action != domain.ActionSell {
		t.Fatalf("signals = %+v, want one sell", signals)
	}
}

func TestBollingerFlatSeriesNoSignal(t *testing.T) {
	s, err := NewBollinger(3, 1)
	if err != nil {
		t.Fatalf("NewBollinger returned error: %v", err)
	}

	// Zero band width: nothing to cross.
	window := windowFromCloses("MSFT", []float64{10, 10, 10, 10, 10}, 1000)
	signals, err := s.OnWindow(context.Background(), window)
	if err != nil {
		t.Fatalf("OnWindow returned error: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("got %d signals on a flat series, want 0", len(signals))
	}
}

func TestRSIOversoldBuy(t *testing.T) {
	s, err := NewRSIReversal(2, 30, 70)
	if err != nil {
		t.Fatalf("NewRSIReversal returned error: %v", err)
	}

	// Gains then sharp losses drive the RSI through the oversold floor.
	window := windowFromCloses("TSLA", []float64{10, 12, 14, 13, 9}, 1000)
	signals, err := s.OnWindow(context.Background(), window)
	if err != nil {
		t.Fatalf("OnWindow returned error: %v", err)
	}
	if len(signals) != 1 || signals[0].Action != domain.ActionBuy {
		t.Fatalf("signals = %+v, want one buy", signals)
	}
}

func TestRSIOverboughtSell(t *testing.T) {
	s, err := NewRSIReversal(2, 30, 70)
	if err != nil {
		t.Fatalf("NewRSIReversal returned error: %v", err)
	}

	window := windowFromCloses("TSLA", []float64{10, 8, 6, 7, 11}, 1000)
	signals, err := s.OnWindow(context.Background(), window)
	if err != nil {
		t.Fatalf("OnWindow returned error: %v", err)
	}
	if len(signals) != 1 || signals[0].Action != domain.ActionSell {
		t.Fatalf("signals = %+v, want one sell", signals)
	}
}

func TestRSIRejectsInvalidThresholds(t *testing.T) {
	if _, err := NewRSIReversal(14, 70, 30); err == nil {
		t.Error("NewRSIReversal with inverted thresholds should fail")
	}
}

func TestMACDTrendWarmup(t *testing.T) {
	s, err := NewMACDTrend(12, 26, 9, 9, 20)
	if err != nil {
		t.Fatalf("NewMACDTrend returned error: %v", err)
	}
	// Slow period plus signal period dominates the EMAs here.
	if s.Warmup() != 36 {
		t.Errorf("Warmup = %d, want 36", s.Warmup())
	}
}

func TestMACDTrendFlatSeriesNoSignal(t *testing.T) {
	s, err := NewMACDTrend(3, 6, 2, 2, 4)
	if err != nil {
		t.Fatalf("NewMACDTrend returned error: %v", err)
	}

	// A constant series keeps every indicator pair equal, so the strict
	// alignment comparisons never fire.
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 10
	}
	window := windowFromCloses("NVDA", closes, 1000)
	signals, err := s.OnWindow(context.Background(), window)
	if err != nil {
		t.Fatalf("OnWindow returned error: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("got %d signals on a flat series, want 0", len(signals))
	}
}

func TestMACDTrendInsufficientWindow(t *testing.T) {
	s, err := NewMACDTrend(12, 26, 9, 9, 20)
	if err != nil {
		t.Fatalf("NewMACDTrend returned error: %v", err)
	}

	window := windowFromCloses("NVDA", []float64{10, 11, 12}, 1000)
	signals, err := s.OnWindow(context.Background(), window)
	if err != nil {
		t.Fatalf("OnWindow returned error: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("got %d signals below warmup, want 0", len(signals))
	}
}

func TestMACDTrendAlignment(t *testing.T) {
	macdLine := []float64{1, -1, 1, 0}
	signalLine := []float64{0, 0, 0, 0}
	emaFast := []float64{11, 9, 9, 11}
	emaSlow := []float64{10, 10, 10, 10}

	cases := []struct {
		i          int
		bull, bear bool
	}{
		{0, true, false},  // both pairs bullish
		{1, false, true},  // both pairs bearish
		{2, false, false}, // mixed: macd up, ema down
		{3, false, false}, // macd flat is neither
	}
	for _, c := range cases {
		bull, bear := trendAligned(macdLine, signalLine, emaFast, emaSlow, c.i)
		if bull != c.bull || bear != c.bear {
			t.Errorf("trendAligned at %d = (%v, %v), want (%v, %v)", c.i, bull, bear, c.bull, c.bear)
		}
	}
}

func TestMACDTrendRejectsInvalidPeriods(t *testing.T) {
	if _, err := NewMACDTrend(26, 12, 9, 9, 20); err == nil {
		t.Error("NewMACDTrend with fast >= slow should fail")
	}
	if _, err := NewMACDTrend(12, 26, 9, 20, 9); err == nil {
		t.Error("NewMACDTrend with inverted ema periods should fail")
	}
}

func TestFromConfig(t *testing.T) {
	reg, err := FromConfig([]config.StrategyConfig{
		{Name: "sma-cross", Params: map[string]float64{"fast_period": 5, "slow_period": 15}},
		{Name: "bollinger"},
		{Name: "rsi", Params: map[string]float64{"period": 7}},
		{Name: "macd"},
	})
	if err != nil {
		t.Fatalf("FromConfig returned error: %v", err)
	}

	names := reg.List()
	want := []string{"bollinger", "macd", "rsi", "sma-cross"}
	if len(names) != len(want) {
		t.Fatalf("List = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("List[%d] = %s, want %s", i, names[i], want[i])
		}
	}

	s, ok := reg.Get("sma-cross")
	if !ok {
		t.Fatal("sma-cross not found in registry")
	}
	if s.Warmup() != 16 {
		t.Errorf("sma-cross Warmup = %d, want 16", s.Warmup())
	}
}

func TestFromConfigUnknownStrategy(t *testing.T) {
	if _, err := FromConfig([]config.StrategyConfig{{Name: "momentum"}}); err == nil {
		t.Error("FromConfig with unknown strategy should fail")
	}
}

func TestFromConfigInvalidParams(t *testing.T) {
	cfgs := []config.StrategyConfig{
		{Name: "sma-cross", Params: map[string]float64{"fast_period": 50, "slow_period": 10}},
	}
	if _, err := FromConfig(cfgs); err == nil {
		t.Error("FromConfig with fast >= slow should fail")
	}
}
