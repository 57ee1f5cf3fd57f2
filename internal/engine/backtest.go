// Package engine runs the backtest execution loop: it walks bar history in
// timestamp order, collects strategy signals, applies risk checks, fills
// approved trades against a simulated portfolio, and records the equity
// curve plus a full rejection audit log.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"backlab/internal/domain"
	"backlab/internal/store"
	"backlab/internal/strategy"
)

// ExitReason values recorded on closed trades.
const (
	ExitSignal     = "signal"
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
)

// BacktestConfig carries the run parameters for one backtest.
type BacktestConfig struct {
	Symbols        []string
	Market         string
	Start          time.Time
	End            time.Time
	InitialCapital float64
	Workers        int
}

// Result is the complete outcome of one backtest run.
type Result struct {
	Strategy        string
	InitialCapital  float64
	FinalEquity     float64
	ClosedTrades    []domain.ClosedTrade
	Rejections      []domain.RejectedSignal
	Equity          []domain.EquityPoint
	RejectionCounts map[string]int
}

// Backtester replays stored bar history through a strategy and the risk
// engine. Signal generation across symbols runs on a worker pool; portfolio
// mutation is strictly sequential, so two runs over the same data produce
// identical results.
type Backtester struct {
	store store.BarStore
	risk  *RiskManager
	costs CostModel
	cfg   BacktestConfig
	log   *slog.Logger
}

// NewBacktester creates a Backtester over the given bar store.
func NewBacktester(s store.BarStore, risk *RiskManager, costs CostModel, cfg BacktestConfig) *Backtester {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Backtester{
		store: s,
		risk:  risk,
		costs: costs,
		cfg:   cfg,
		log:   slog.Default().With("component", "backtester"),
	}
}

// openTrade tracks journal data for one open position that the portfolio
// accounting does not carry.
type openTrade struct {
	entryTime  time.Time
	entryPrice float64
	qty        float64
	costs      float64
	stop       float64
	tp         float64
	high       float64
	low        float64
}

// Run executes the backtest for one strategy and returns its results. Open
// positions at the end of history are liquidated at the last close.
func (b *Backtester) Run(ctx context.Context, strat strategy.Strategy) (*Result, error) {
	series, symbols, err := b.loadSeries(ctx)
	if err != nil {
		return nil, err
	}

	steps := buildSteps(series)
	if len(steps) == 0 {
		return nil, fmt.Errorf("no bars in range for any of %d symbols", len(b.cfg.Symbols))
	}

	b.log.Info("starting backtest",
		"strategy", strat.Name(),
		"symbols", len(symbols),
		"steps", len(steps),
		"capital", b.cfg.InitialCapital,
	)

	pf := domain.NewPortfolioState(b.cfg.InitialCapital)
	cursor := make(map[string]int, len(symbols))
	open := make(map[string]*openTrade)
	res := &Result{
		Strategy:       strat.Name(),
		InitialCapital: b.cfg.InitialCapital,
	}

	var prevDay time.Time
	for _, ts := range steps {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Daily loss tracks equity against the day's opening value.
		if day := ts.UTC().Truncate(24 * time.Hour); !day.Equal(prevDay) {
			pf.DayStart = pf.Equity()
			prevDay = day
		}

		// Advance each symbol's cursor to the bar at this step, if any.
		current := make(map[string]domain.Bar)
		for _, sym := range symbols {
			i := cursor[sym]
			if i < len(series[sym]) && series[sym][i].Timestamp.Equal(ts) {
				current[sym] = series[sym][i]
				cursor[sym] = i + 1
			}
		}

		// Exits first: stop-loss and take-profit trigger intra-bar, before
		// any new signal from this step can act.
		for _, sym := range sortedKeys(current) {
			bar := current[sym]
			if ot, ok := open[sym]; ok {
				if bar.High > ot.high {
					ot.high = bar.High
				}
				if bar.Low < ot.low {
					ot.low = bar.Low
				}
				if ot.stop > 0 && bar.Low <= ot.stop {
					b.closePosition(pf, open, res, sym, strat.Name(), ot.stop, ts, ExitStopLoss)
				} else if ot.tp > 0 && bar.High >= ot.tp {
					b.closePosition(pf, open, res, sym, strat.Name(), ot.tp, ts, ExitTakeProfit)
				}
			}
			MarkToMarket(pf, sym, bar.Close)
		}

		// Generate signals for all symbols in parallel, then join before
		// any portfolio mutation.
		signals := b.generateSignals(ctx, strat, series, cursor, current)

		for _, sig := range signals {
			approved, rejected := b.risk.Evaluate(sig, pf)
			if rejected != nil {
				res.Rejections = append(res.Rejections, *rejected)
				continue
			}
			b.fill(pf, open, res, approved, ts, strat.Name())
		}

		if eq := pf.Equity(); eq > pf.PeakEquity {
			pf.PeakEquity = eq
		}
		res.Equity = append(res.Equity, domain.EquityPoint{
			Timestamp: ts,
			Equity:    pf.Equity(),
			Cash:      pf.Cash,
			Drawdown:  pf.Drawdown(),
		})
	}

	// Liquidate whatever is still open so results compare across runs.
	last := steps[len(steps)-1]
	for _, sym := range sortedKeys(open) {
		if pos, ok := pf.Positions[sym]; ok {
			b.closePosition(pf, open, res, sym, strat.Name(), pos.LastPrice, last, ExitSignal)
		}
	}

	res.FinalEquity = pf.Equity()
	res.RejectionCounts = b.risk.Stats().Counts()

	b.log.Info("backtest complete",
		"strategy", strat.Name(),
		"trades", len(res.ClosedTrades),
		"rejections", len(res.Rejections),
		"final_equity", fmt.Sprintf("%.2f", res.FinalEquity),
	)
	return res, nil
}

// loadSeries reads and validates bar history for every configured symbol.
// Symbols without data are skipped with a warning.
func (b *Backtester) loadSeries(ctx context.Context) (map[string][]domain.Bar, []string, error) {
	series := make(map[string][]domain.Bar, len(b.cfg.Symbols))
	var symbols []string
	for _, sym := range b.cfg.Symbols {
		bars, err := b.store.ReadBars(ctx, sym, b.cfg.Market, b.cfg.Start, b.cfg.End)
		if err != nil {
			return nil, nil, fmt.Errorf("loading bars for %s: %w", sym, err)
		}
		valid := bars[:0]
		for _, bar := range bars {
			if !bar.Valid() {
				b.log.Warn("skipping malformed bar", "symbol", sym, "ts", bar.Timestamp)
				continue
			}
			valid = append(valid, bar)
		}
		if len(valid) == 0 {
			b.log.Warn("no bars for symbol, skipping", "symbol", sym)
			continue
		}
		series[sym] = valid
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return series, symbols, nil
}

// buildSteps returns the sorted union of all bar timestamps.
func buildSteps(series map[string][]domain.Bar) []time.Time {
	seen := make(map[int64]time.Time)
	for _, bars := range series {
		for _, bar := range bars {
			seen[bar.Timestamp.UnixMilli()] = bar.Timestamp
		}
	}
	steps := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		steps = append(steps, ts)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Before(steps[j]) })
	return steps
}

// generateSignals evaluates the strategy for each symbol with a bar at the
// current step, on a worker pool. A strategy error on one symbol is logged
// and isolated; other symbols proceed. Results are sorted for determinism.
func (b *Backtester) generateSignals(ctx context.Context, strat strategy.Strategy, series map[string][]domain.Bar, cursor map[string]int, current map[string]domain.Bar) []domain.Signal {
	syms := sortedKeys(current)

	symCh := make(chan string, len(syms))
	for _, sym := range syms {
		symCh <- sym
	}
	close(symCh)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		signals []domain.Signal
	)
	workers := min(b.cfg.Workers, len(syms))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symCh {
				// cursor already points past the current bar, so the window
				// ends exactly at this step.
				window := series[sym][:cursor[sym]]
				if len(window) < strat.Warmup() {
					continue
				}
				sigs, err := strat.OnWindow(ctx, window)
				if err != nil {
					b.log.Error("strategy error, skipping symbol this step", "symbol", sym, "err", err)
					continue
				}
				if len(sigs) > 0 {
					mu.Lock()
					signals = append(signals, sigs...)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// Stable sort: a strategy emitting several same-action signals for one
	// symbol keeps its emission order, so reruns fill identically.
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Symbol != signals[j].Symbol {
			return signals[i].Symbol < signals[j].Symbol
		}
		return signals[i].Action < signals[j].Action
	})
	return signals
}

// fill applies an approved trade to the portfolio and the trade journal.
func (b *Backtester) fill(pf *domain.PortfolioState, open map[string]*openTrade, res *Result, trade *domain.ApprovedTrade, ts time.Time, stratName string) {
	if trade.Signal.Action == domain.ActionSell {
		b.closePosition(pf, open, res, trade.Signal.Symbol, stratName, trade.Signal.Price, ts, ExitSignal)
		return
	}

	if err := ApplyBuy(pf, trade, ts); err != nil {
		b.log.Error("buy fill failed", "symbol", trade.Signal.Symbol, "err", err)
		return
	}
	open[trade.Signal.Symbol] = &openTrade{
		entryTime:  ts,
		entryPrice: trade.Signal.Price,
		qty:        trade.Qty,
		costs:      trade.Costs.Total(),
		stop:       trade.StopLoss,
		tp:         trade.TakeProfit,
		high:       trade.Signal.Price,
		low:        trade.Signal.Price,
	}
}

// closePosition flattens one symbol at the given price and journals the
// round trip.
func (b *Backtester) closePosition(pf *domain.PortfolioState, open map[string]*openTrade, res *Result, sym, stratName string, price float64, ts time.Time, reason string) {
	ot, ok := open[sym]
	if !ok {
		return
	}
	exitCosts := b.costs.Costs(ot.qty * price)
	if _, err := ApplySell(pf, sym, price, exitCosts); err != nil {
		b.log.Error("sell fill failed", "symbol", sym, "err", err)
		return
	}

	totalCosts := ot.costs + exitCosts.Total()
	pl := (price-ot.entryPrice)*ot.qty - totalCosts
	entryNotional := ot.entryPrice * ot.qty

	var plPct float64
	if entryNotional > 0 {
		plPct = pl / entryNotional * 100
	}
	res.ClosedTrades = append(res.ClosedTrades, domain.ClosedTrade{
		Symbol:     sym,
		Strategy:   stratName,
		Side:       domain.ActionBuy,
		Qty:        ot.qty,
		EntryTime:  ot.entryTime,
		EntryPrice: ot.entryPrice,
		ExitTime:   ts,
		ExitPrice:  price,
		ExitReason: reason,
		HighDuring: ot.high,
		LowDuring:  ot.low,
		PL:         pl,
		PLPct:      plPct,
		Costs:      totalCosts,
	})
	delete(open, sym)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
