// Package store defines storage interfaces for market data and backtest
// run results, with Parquet and SQLite implementations.
package store

import (
	"context"
	"time"

	"backlab/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market.
	WriteBars(ctx context.Context, bars []domain.Bar, market string) error

	// ReadBars returns bars for the given symbol and market within
	// [start, end], sorted by timestamp.
	ReadBars(ctx context.Context, symbol, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// RunInfo is the registration record of one backtest run.
type RunInfo struct {
	ID             int64
	Strategy       string
	StartedAt      time.Time
	FinishedAt     time.Time // zero until FinishRun
	InitialCapital float64
	FinalEquity    float64
}

// RunStore persists the results of a backtest run: approved and closed
// trades, the rejection audit log, the equity curve, and summary metrics.
type RunStore interface {
	// CreateRun registers a new run and returns its ID.
	CreateRun(ctx context.Context, strategy string, startedAt time.Time, initialCapital float64) (int64, error)

	// Run returns the registration record for a run.
	Run(ctx context.Context, runID int64) (*RunInfo, error)

	// SaveClosedTrades persists completed round trips for a run.
	SaveClosedTrades(ctx context.Context, runID int64, trades []domain.ClosedTrade) error

	// SaveRejections persists the risk-rejection audit log for a run.
	SaveRejections(ctx context.Context, runID int64, rejections []domain.RejectedSignal) error

	// SaveEquity persists the equity curve for a run.
	SaveEquity(ctx context.Context, runID int64, points []domain.EquityPoint) error

	// SaveMetrics persists named summary metrics for a run.
	SaveMetrics(ctx context.Context, runID int64, metrics map[string]float64) error

	// FinishRun records the final equity and completion time of a run.
	FinishRun(ctx context.Context, runID int64, finalEquity float64, finishedAt time.Time) error

	// ClosedTrades returns the completed trades recorded for a run.
	ClosedTrades(ctx context.Context, runID int64) ([]domain.ClosedTrade, error)

	// Equity returns the equity curve recorded for a run.
	Equity(ctx context.Context, runID int64) ([]domain.EquityPoint, error)

	// Metrics returns the summary metrics recorded for a run.
	Metrics(ctx context.Context, runID int64) (map[string]float64, error)

	Close() error
}
