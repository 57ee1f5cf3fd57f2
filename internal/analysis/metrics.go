// Package analysis computes summary statistics for a completed backtest:
// return, risk-adjusted ratios, drawdown, trade quality, and tail measures.
// All functions are pure and operate on the recorded equity curve and trade
// journal.
package analysis

import (
	"math"
	"sort"

	"backlab/internal/domain"
)

// Annualization assumes daily bars on a US equity calendar.
const (
	tradingDaysPerYear = 252
	annualRiskFree     = 0.05
)

// Metrics is the full statistics set for one run.
type Metrics struct {
	TotalReturn    float64
	CAGR           float64
	AnnualVol      float64
	Sharpe         float64
	Sortino        float64
	Calmar         float64
	MaxDrawdown    float64
	MaxDrawdownDur float64 // days
	VaR95          float64
	CVaR95         float64
	TailRatio      float64
	Stability      float64
	NumTrades      int
	WinRate        float64
	ProfitFactor   float64
	AvgWin         float64
	AvgLoss        float64
	AvgHoldingDays float64
}

// Map flattens the metrics for persistence. Non-finite values (a profit
// factor with no losing trades, for instance) are stored as zero.
func (m Metrics) Map() map[string]float64 {
	out := map[string]float64{
		"total_return":     m.TotalReturn,
		"cagr":             m.CAGR,
		"annual_vol":       m.AnnualVol,
		"sharpe":           m.Sharpe,
		"sortino":          m.Sortino,
		"calmar":           m.Calmar,
		"max_drawdown":     m.MaxDrawdown,
		"max_drawdown_dur": m.MaxDrawdownDur,
		"var_95":           m.VaR95,
		"cvar_95":          m.CVaR95,
		"tail_ratio":       m.TailRatio,
		"stability":        m.Stability,
		"num_trades":       float64(m.NumTrades),
		"win_rate":         m.WinRate,
		"profit_factor":    m.ProfitFactor,
		"avg_win":          m.AvgWin,
		"avg_loss":         m.AvgLoss,
		"avg_holding_days": m.AvgHoldingDays,
	}
	for k, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[k] = 0
		}
	}
	return out
}

// Compute derives the full metrics set from an equity curve and trade
// journal. With fewer than two equity points or zero trades the affected
// metrics are zero rather than an error: an empty run is a valid result.
func Compute(initialCapital float64, equity []domain.EquityPoint, trades []domain.ClosedTrade) Metrics {
	var m Metrics

	if len(equity) > 0 && initialCapital > 0 {
		m.TotalReturn = equity[len(equity)-1].Equity/initialCapital - 1
	}

	returns := dailyReturns(equity)
	if len(returns) > 0 {
		rf := annualRiskFree / tradingDaysPerYear
		excess := make([]float64, len(returns))
		for i, r := range returns {
			excess[i] = r - rf
		}

		m.CAGR = cagr(initialCapital, equity[len(equity)-1].Equity, len(returns))
		m.AnnualVol = stddev(returns) * math.Sqrt(tradingDaysPerYear)

		if sd := stddev(excess); sd > 0 {
			m.Sharpe = mean(excess) / sd * math.Sqrt(tradingDaysPerYear)
		}
		if dd := downsideDev(excess); dd > 0 {
			m.Sortino = mean(excess) / dd * math.Sqrt(tradingDaysPerYear)
		}

		m.VaR95, m.CVaR95 = valueAtRisk(returns, 0.95)
		m.TailRatio = tailRatio(returns)
	}

	m.MaxDrawdown, m.MaxDrawdownDur = maxDrawdown(equity)
	if m.MaxDrawdown > 0 {
		m.Calmar = m.CAGR / m.MaxDrawdown
	}
	m.Stability = stability(equity)

	fillTradeMetrics(&m, trades)
	return m
}

// dailyReturns computes simple period returns from the equity curve.
func dailyReturns(equity []domain.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, equity[i].Equity/prev-1)
	}
	return returns
}

func cagr(initial, final float64, periods int) float64 {
	if initial <= 0 || final <= 0 || periods == 0 {
		return 0
	}
	years := float64(periods) / tradingDaysPerYear
	return math.Pow(final/initial, 1/years) - 1
}

// maxDrawdown returns the deepest peak-to-trough decline and the longest
// stretch spent below a prior peak, in days.
func maxDrawdown(equity []domain.EquityPoint) (depth, durationDays float64) {
	if len(equity) == 0 {
		return 0, 0
	}
	peak := equity[0].Equity
	peakTime := equity[0].Timestamp
	for _, p := range equity {
		if p.Equity >= peak {
			peak = p.Equity
			peakTime = p.Timestamp
			continue
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > depth {
				depth = dd
			}
		}
		if days := p.Timestamp.Sub(peakTime).Hours() / 24; days > durationDays {
			durationDays = days
		}
	}
	return depth, durationDays
}

// valueAtRisk returns the historical VaR and CVaR at the given confidence,
// both expressed as positive loss fractions.
func valueAtRisk(returns []float64, confidence float64) (vaR, cvaR float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	q := percentile(returns, 1-confidence)
	vaR = -q

	var sum float64
	var n int
	for _, r := range returns {
		if r <= q {
			sum += r
			n++
		}
	}
	if n > 0 {
		cvaR = -sum / float64(n)
	}
	if vaR < 0 {
		vaR = 0
	}
	if cvaR < 0 {
		cvaR = 0
	}
	return vaR, cvaR
}

// tailRatio is the magnitude of the right tail over the left tail: the 95th
// percentile return divided by the absolute 5th percentile return.
func tailRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	right := percentile(returns, 0.95)
	left := math.Abs(percentile(returns, 0.05))
	if left == 0 {
		return 0
	}
	return math.Abs(right) / left
}

// stability is the R-squared of a linear fit to the log equity curve. A
// perfectly steady compounding run scores 1.
func stability(equity []domain.EquityPoint) float64 {
	if len(equity) < 3 {
		return 0
	}
	ys := make([]float64, 0, len(equity))
	for _, p := range equity {
		if p.Equity <= 0 {
			return 0
		}
		ys = append(ys, math.Log(p.Equity))
	}

	n := float64(len(ys))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for i, y := range ys {
		fit := intercept + slope*float64(i)
		ssRes += (y - fit) * (y - fit)
		ssTot += (y - meanY) * (y - meanY)
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

func fillTradeMetrics(m *Metrics, trades []domain.ClosedTrade) {
	m.NumTrades = len(trades)
	if len(trades) == 0 {
		return
	}

	var wins, losses int
	var grossProfit, grossLoss, holdingDays float64
	for _, t := range trades {
		holdingDays += t.Duration().Hours() / 24
		if t.PL > 0 {
			wins++
			grossProfit += t.PL
		} else if t.PL < 0 {
			losses++
			grossLoss += -t.PL
		}
	}

	m.WinRate = float64(wins) / float64(len(trades))
	m.AvgHoldingDays = holdingDays / float64(len(trades))
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		m.ProfitFactor = math.Inf(1)
	}
	if wins > 0 {
		m.AvgWin = grossProfit / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = -grossLoss / float64(losses)
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mu := mean(xs)
	var sum float64
	for _, x := range xs {
		sum += (x - mu) * (x - mu)
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// downsideDev is the root mean square of negative excess returns.
func downsideDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		if x < 0 {
			sum += x * x
		}
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// percentile returns the p-quantile (0..1) with linear interpolation.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
