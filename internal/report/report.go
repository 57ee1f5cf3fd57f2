// Package report persists completed backtest runs: a SQLite database with
// the full trade journal, rejection audit log, equity curve and metrics,
// plus a metrics.json summary for quick inspection.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"backlab/internal/analysis"
	"backlab/internal/engine"
	"backlab/internal/store"
)

// Summary is the metrics.json document written next to the run database.
type Summary struct {
	Strategy        string             `json:"strategy"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
	InitialCapital  float64            `json:"initial_capital"`
	FinalEquity     float64            `json:"final_equity"`
	Trades          int                `json:"trades"`
	Rejections      int                `json:"rejections"`
	RejectionCounts map[string]int     `json:"rejection_counts,omitempty"`
	Metrics         map[string]float64 `json:"metrics"`
}

// Writer persists run results under an output directory. Each run gets its
// own timestamped directory:
//
//	<outputDir>/<strategy>/<YYYYMMDD-HHMMSS>/
type Writer struct {
	outputDir string
	log       *slog.Logger
}

// NewWriter creates a Writer rooted at outputDir.
func NewWriter(outputDir string) *Writer {
	return &Writer{
		outputDir: outputDir,
		log:       slog.Default().With("component", "report"),
	}
}

// Write persists one run and returns the run directory path.
func (w *Writer) Write(ctx context.Context, res *engine.Result, metrics analysis.Metrics, startedAt time.Time) (string, error) {
	dir := filepath.Join(w.outputDir, res.Strategy, startedAt.UTC().Format("20060102-150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}

	if err := w.writeDatabase(ctx, dir, res, metrics, startedAt); err != nil {
		return "", err
	}
	if err := w.writeSummary(dir, res, metrics, startedAt); err != nil {
		return "", err
	}

	w.log.Info("run persisted", "dir", dir, "trades", len(res.ClosedTrades))
	return dir, nil
}

func (w *Writer) writeDatabase(ctx context.Context, dir string, res *engine.Result, metrics analysis.Metrics, startedAt time.Time) error {
	db, err := store.NewSQLiteStore(filepath.Join(dir, "backtest.db"))
	if err != nil {
		return fmt.Errorf("opening run database: %w", err)
	}
	defer db.Close()

	runID, err := db.CreateRun(ctx, res.Strategy, startedAt, res.InitialCapital)
	if err != nil {
		return fmt.Errorf("creating run record: %w", err)
	}
	if err := db.SaveClosedTrades(ctx, runID, res.ClosedTrades); err != nil {
		return fmt.Errorf("saving trades: %w", err)
	}
	if err := db.SaveRejections(ctx, runID, res.Rejections); err != nil {
		return fmt.Errorf("saving rejections: %w", err)
	}
	if err := db.SaveEquity(ctx, runID, res.Equity); err != nil {
		return fmt.Errorf("saving equity curve: %w", err)
	}
	if err := db.SaveMetrics(ctx, runID, metrics.Map()); err != nil {
		return fmt.Errorf("saving metrics: %w", err)
	}
	if err := db.FinishRun(ctx, runID, res.FinalEquity, time.Now().UTC()); err != nil {
		return fmt.Errorf("finishing run record: %w", err)
	}
	return nil
}

func (w *Writer) writeSummary(dir string, res *engine.Result, metrics analysis.Metrics, startedAt time.Time) error {
	summary := Summary{
		Strategy:        res.Strategy,
		StartedAt:       startedAt.UTC(),
		FinishedAt:      time.Now().UTC(),
		InitialCapital:  res.InitialCapital,
		FinalEquity:     res.FinalEquity,
		Trades:          len(res.ClosedTrades),
		Rejections:      len(res.Rejections),
		RejectionCounts: res.RejectionCounts,
		Metrics:         metrics.Map(),
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metrics.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}
