// Package domain defines the core entities shared across the backtesting
// laboratory: bars, signals, approved trades, positions, and portfolio state.
package domain

import "time"

// Market identifies the exchange universe a symbol belongs to.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Timeframe is the bar interval.
type Timeframe string

const (
	TimeframeDay    Timeframe = "1d"
	TimeframeHour   Timeframe = "1h"
	TimeframeMinute Timeframe = "1m"
)

// Bar is one immutable OHLCV record for a symbol over a fixed interval.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Valid reports whether the bar's price relationships are internally
// consistent. Bars failing this check are skipped with a warning rather
// than aborting a run.
func (b Bar) Valid() bool {
	if b.High < b.Low {
		return false
	}
	if b.Open <= 0 || b.Close <= 0 {
		return false
	}
	return b.Close <= b.High && b.Close >= b.Low
}

// SignalAction is the direction of a strategy's trade intent.
type SignalAction string

const (
	ActionBuy  SignalAction = "buy"
	ActionSell SignalAction = "sell"
)

// Signal is a strategy's raw trade intent, produced from a bar window and
// consumed by the risk engine. It carries no finalized sizing.
type Signal struct {
	Strategy   string
	Symbol     string
	Action     SignalAction
	Price      float64
	Qty        float64 // optional size hint, capped by the risk limits; 0 lets the risk engine size it
	Strength   float64 // 0..1, scales fixed-fractional sizing
	Timestamp  time.Time
	StopLoss   float64 // optional; 0 means use the risk template
	TakeProfit float64 // optional; 0 means use the risk template
	Reason     string
}

// Costs is the modelled transaction cost breakdown for one fill.
type Costs struct {
	Commission float64
	Slippage   float64
}

// Total returns the sum of all cost components.
func (c Costs) Total() float64 {
	return c.Commission + c.Slippage
}

// ApprovedTrade is a Signal that passed all risk checks, with finalized
// quantity, cost basis and attached exit levels. It is immutable once the
// execution loop has filled it.
type ApprovedTrade struct {
	Signal     Signal
	Qty        float64
	Notional   float64
	Costs      Costs
	StopLoss   float64
	TakeProfit float64
}

// RejectedSignal records a signal turned away by the risk engine. Rejection
// is a normal outcome, retained for audit and bias analysis.
type RejectedSignal struct {
	Signal       Signal
	FailedChecks []string
	Message      string
}

// Position is an open holding in one symbol. It is mutated on every fill
// and removed when quantity returns to zero.
type Position struct {
	Symbol    string
	Qty       float64
	AvgEntry  float64
	LastPrice float64
	OpenedAt  time.Time
}

// MarketValue returns the mark-to-market value of the position.
func (p Position) MarketValue() float64 {
	return p.Qty * p.LastPrice
}

// UnrealizedPL returns the profit or loss if the position were closed at
// the last marked price.
func (p Position) UnrealizedPL() float64 {
	return (p.LastPrice - p.AvgEntry) * p.Qty
}

// PortfolioState is the single-writer account snapshot mutated once per
// simulated step by the execution loop.
type PortfolioState struct {
	Cash       float64
	Positions  map[string]*Position
	RealizedPL float64
	PeakEquity float64
	DayStart   float64 // equity at the start of the current simulated day
}

// NewPortfolioState creates a portfolio with the given starting cash.
func NewPortfolioState(cash float64) *PortfolioState {
	return &PortfolioState{
		Cash:       cash,
		Positions:  make(map[string]*Position),
		PeakEquity: cash,
		DayStart:   cash,
	}
}

// Equity returns cash plus the mark-to-market value of all open positions.
// This is the accounting invariant every step must preserve.
func (ps *PortfolioState) Equity() float64 {
	total := ps.Cash
	for _, pos := range ps.Positions {
		total += pos.MarketValue()
	}
	return total
}

// Drawdown returns the current peak-to-trough equity decline as a fraction
// of the peak. Zero when equity is at or above its historical peak.
func (ps *PortfolioState) Drawdown() float64 {
	if ps.PeakEquity <= 0 {
		return 0
	}
	eq := ps.Equity()
	if eq >= ps.PeakEquity {
		return 0
	}
	return (ps.PeakEquity - eq) / ps.PeakEquity
}

// DailyLoss returns today's equity decline as a fraction of the day-start
// equity, or zero when the portfolio is flat or up on the day.
func (ps *PortfolioState) DailyLoss() float64 {
	if ps.DayStart <= 0 {
		return 0
	}
	eq := ps.Equity()
	if eq >= ps.DayStart {
		return 0
	}
	return (ps.DayStart - eq) / ps.DayStart
}

// ClosedTrade is one completed round trip: an entry fill matched with the
// exit fill that flattened it.
type ClosedTrade struct {
	Symbol     string
	Strategy   string
	Side       SignalAction // direction of the entry
	Qty        float64
	EntryTime  time.Time
	EntryPrice float64
	ExitTime   time.Time
	ExitPrice  float64
	ExitReason string // "signal", "stop_loss", "take_profit"
	HighDuring float64
	LowDuring  float64
	PL         float64 // net of transaction costs
	PLPct      float64
	Costs      float64
}

// Duration returns the holding period of the trade.
func (t ClosedTrade) Duration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// EquityPoint is one sample of the portfolio equity curve, recorded after
// mark-to-market at the end of each simulated step.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
	Cash      float64
	Drawdown  float64
}
