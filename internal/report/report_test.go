package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"backlab/internal/analysis"
	"backlab/internal/domain"
	"backlab/internal/engine"
	"backlab/internal/store"
)

func sampleResult() *engine.Result {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return &engine.Result{
		Strategy:       "sma-cross",
		InitialCapital: 100000,
		FinalEquity:    100295,
		ClosedTrades: []domain.ClosedTrade{{
			Symbol: "AAPL", Strategy: "sma-cross", Side: domain.ActionBuy,
			Qty: 99, EntryTime: base, EntryPrice: 101,
			ExitTime: base.AddDate(0, 0, 2), ExitPrice: 104,
			ExitReason: engine.ExitSignal, PL: 295, PLPct: 2.95, Costs: 2,
		}},
		Rejections: []domain.RejectedSignal{{
			Signal:       domain.Signal{Strategy: "sma-cross", Symbol: "TSLA", Action: domain.ActionBuy, Price: 250, Timestamp: base},
			FailedChecks: []string{engine.CheckMaxOpenPositions},
			Message:      "failed checks: max_open_positions",
		}},
		Equity: []domain.EquityPoint{
			{Timestamp: base, Equity: 100000, Cash: 100000},
			{Timestamp: base.AddDate(0, 0, 2), Equity: 100295, Cash: 100295},
		},
		RejectionCounts: map[string]int{engine.CheckMaxOpenPositions: 1},
	}
}

func TestWriterPersistsRun(t *testing.T) {
	outDir := t.TempDir()
	w := NewWriter(outDir)
	res := sampleResult()
	metrics := analysis.Compute(res.InitialCapital, res.Equity, res.ClosedTrades)
	started := time.Date(2024, 4, 1, 9, 30, 0, 0, time.UTC)

	dir, err := w.Write(context.Background(), res, metrics, started)
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	want := filepath.Join(outDir, "sma-cross", "20240401-093000")
	if dir != want {
		t.Errorf("run dir = %s, want %s", dir, want)
	}

	// Database round trip.
	db, err := store.NewSQLiteStore(filepath.Join(dir, "backtest.db"))
	if err != nil {
		t.Fatalf("opening run db: %v", err)
	}
	defer db.Close()

	trades, err := db.ClosedTrades(context.Background(), 1)
	if err != nil {
		t.Fatalf("reading trades: %v", err)
	}
	if len(trades) != 1 || trades[0].Symbol != "AAPL" {
		t.Errorf("trades = %+v, want one AAPL trade", trades)
	}

	saved, err := db.Metrics(context.Background(), 1)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	if saved["num_trades"] != 1 {
		t.Errorf("metrics[num_trades] = %v, want 1", saved["num_trades"])
	}

	// JSON summary.
	data, err := os.ReadFile(filepath.Join(dir, "metrics.json"))
	if err != nil {
		t.Fatalf("reading metrics.json: %v", err)
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("decoding metrics.json: %v", err)
	}
	if summary.Strategy != "sma-cross" || summary.FinalEquity != 100295 {
		t.Errorf("summary = %+v, want sma-cross at 100295", summary)
	}
	if summary.RejectionCounts[engine.CheckMaxOpenPositions] != 1 {
		t.Errorf("RejectionCounts = %v, want max_open_positions=1", summary.RejectionCounts)
	}
	if len(summary.Metrics) == 0 {
		t.Error("summary should carry metrics")
	}
}

func TestRecomputeFromRunDatabaseMatchesPersisted(t *testing.T) {
	w := NewWriter(t.TempDir())
	res := sampleResult()

	// A first-bar fill: the opening equity point already reflects entry
	// costs, so it is below the starting capital.
	res.Equity[0].Equity = 99990
	res.Equity[0].Cash = 89990

	metrics := analysis.Compute(res.InitialCapital, res.Equity, res.ClosedTrades)
	started := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	dir, err := w.Write(context.Background(), res, metrics, started)
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	db, err := store.NewSQLiteStore(filepath.Join(dir, "backtest.db"))
	if err != nil {
		t.Fatalf("opening run db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	info, err := db.Run(ctx, 1)
	if err != nil {
		t.Fatalf("reading run: %v", err)
	}
	if info.InitialCapital != res.InitialCapital {
		t.Fatalf("run InitialCapital = %v, want %v", info.InitialCapital, res.InitialCapital)
	}

	trades, err := db.ClosedTrades(ctx, 1)
	if err != nil {
		t.Fatalf("reading trades: %v", err)
	}
	equity, err := db.Equity(ctx, 1)
	if err != nil {
		t.Fatalf("reading equity: %v", err)
	}

	// Recomputing from the stored run row and curves must land on the
	// metrics persisted at write time.
	recomputed := analysis.Compute(info.InitialCapital, equity, trades).Map()
	persisted, err := db.Metrics(ctx, 1)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	for name, want := range persisted {
		if got := recomputed[name]; got != want {
			t.Errorf("recomputed %s = %v, want persisted %v", name, got, want)
		}
	}
}
