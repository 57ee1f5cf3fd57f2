package analysis

import (
	"math"
	"testing"
	"time"

	"backlab/internal/domain"
)

func curve(values ...float64) []domain.EquityPoint {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	points := make([]domain.EquityPoint, len(values))
	for i, v := range values {
		points[i] = domain.EquityPoint{Timestamp: base.AddDate(0, 0, i), Equity: v}
	}
	return points
}

func approx(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestComputeTotalReturn(t *testing.T) {
	m := Compute(100000, curve(100000, 105000, 110000), nil)
	approx(t, "TotalReturn", m.TotalReturn, 0.10, 1e-9)
}

func TestComputeEmptyRun(t *testing.T) {
	m := Compute(100000, nil, nil)
	if m.TotalReturn != 0 || m.Sharpe != 0 || m.MaxDrawdown != 0 || m.NumTrades != 0 {
		t.Errorf("empty run should produce zeroed metrics, got %+v", m)
	}

	// And the persisted form holds no NaN or Inf.
	for k, v := range m.Map() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("Map[%s] = %v, want finite", k, v)
		}
	}
}

func TestMaxDrawdown(t *testing.T) {
	depth, days := maxDrawdown(curve(100, 120, 90, 100, 130))
	approx(t, "depth", depth, 0.25, 1e-9)
	// Below the 120 peak (set on day 1) through day 3; new peak on day 4.
	approx(t, "days", days, 2, 1e-9)
}

func TestMaxDrawdownMonotonicCurve(t *testing.T) {
	depth, days := maxDrawdown(curve(100, 110, 120, 130))
	if depth != 0 || days != 0 {
		t.Errorf("monotonic curve drawdown = %v/%v days, want 0/0", depth, days)
	}
}

func TestSharpeFlatReturnsIsZero(t *testing.T) {
	// Identical daily returns: zero variance, Sharpe guarded to zero.
	m := Compute(100, curve(100, 110, 121), nil)
	if m.Sharpe != 0 {
		t.Errorf("Sharpe = %v, want 0 for zero-variance returns", m.Sharpe)
	}
}

func TestSharpePositiveForSteadyGains(t *testing.T) {
	m := Compute(100, curve(100, 101, 100.8, 102.3, 103.0, 104.5), nil)
	if m.Sharpe <= 0 {
		t.Errorf("Sharpe = %v, want positive for mostly-up returns", m.Sharpe)
	}
	if m.Sortino <= 0 {
		t.Errorf("Sortino = %v, want positive for mostly-up returns", m.Sortino)
	}
	if m.Sortino <= m.Sharpe {
		t.Errorf("Sortino %v should exceed Sharpe %v when losses are rare", m.Sortino, m.Sharpe)
	}
}

func TestStabilityPerfectCompounding(t *testing.T) {
	// Constant growth rate: log equity is exactly linear.
	m := Compute(100, curve(100, 102, 104.04, 106.1208, 108.243216), nil)
	approx(t, "Stability", m.Stability, 1, 1e-9)
}

func TestValueAtRisk(t *testing.T) {
	returns := []float64{-0.02, 0.01, 0.03, -0.01, 0.02}
	vaR, cvaR := valueAtRisk(returns, 0.95)
	// 5th percentile interpolates between the two worst returns.
	approx(t, "VaR95", vaR, 0.018, 1e-9)
	approx(t, "CVaR95", cvaR, 0.02, 1e-9)
}

func TestTailRatioSymmetric(t *testing.T) {
	ratio := tailRatio([]float64{-0.02, -0.01, 0, 0.01, 0.02})
	approx(t, "TailRatio", ratio, 1, 1e-9)
}

func TestTradeMetrics(t *testing.T) {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	mk := func(pl float64, days int) domain.ClosedTrade {
		return domain.ClosedTrade{
			PL:        pl,
			EntryTime: base,
			ExitTime:  base.AddDate(0, 0, days),
		}
	}
	trades := []domain.ClosedTrade{mk(10, 2), mk(-5, 4), mk(15, 6)}

	m := Compute(100000, curve(100000, 100020), trades)
	if m.NumTrades != 3 {
		t.Errorf("NumTrades = %d, want 3", m.NumTrades)
	}
	approx(t, "WinRate", m.WinRate, 2.0/3, 1e-9)
	approx(t, "ProfitFactor", m.ProfitFactor, 5, 1e-9)
	approx(t, "AvgWin", m.AvgWin, 12.5, 1e-9)
	approx(t, "AvgLoss", m.AvgLoss, -5, 1e-9)
	approx(t, "AvgHoldingDays", m.AvgHoldingDays, 4, 1e-9)
}

func TestProfitFactorNoLossesSanitized(t *testing.T) {
	trades := []domain.ClosedTrade{{PL: 10}, {PL: 5}}
	m := Compute(100000, curve(100000, 100015), trades)

	if !math.IsInf(m.ProfitFactor, 1) {
		t.Errorf("ProfitFactor = %v, want +Inf with no losses", m.ProfitFactor)
	}
	if got := m.Map()["profit_factor"]; got != 0 {
		t.Errorf("Map[profit_factor] = %v, want sanitized 0", got)
	}
}

func TestPercentileInterpolation(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	approx(t, "p0", percentile(xs, 0), 1, 1e-9)
	approx(t, "p50", percentile(xs, 0.5), 3, 1e-9)
	approx(t, "p100", percentile(xs, 1), 5, 1e-9)
	approx(t, "p25", percentile(xs, 0.25), 2, 1e-9)
	approx(t, "p10", percentile(xs, 0.10), 1.4, 1e-9)
}

func TestCAGRAnnualizes(t *testing.T) {
	// 252 daily periods covering one trading year, equity doubles.
	points := make([]float64, 253)
	for i := range points {
		points[i] = 100000 * math.Pow(2, float64(i)/252)
	}
	m := Compute(100000, curve(points...), nil)
	approx(t, "CAGR", m.CAGR, 1, 1e-6)
}
