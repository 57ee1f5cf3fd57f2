package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"backlab/internal/domain"
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER,
	initial_capital REAL NOT NULL,
	final_equity REAL
);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	symbol TEXT NOT NULL,
	strategy TEXT NOT NULL,
	side TEXT NOT NULL,
	qty REAL NOT NULL,
	entry_time INTEGER NOT NULL,
	entry_price REAL NOT NULL,
	exit_time INTEGER NOT NULL,
	exit_price REAL NOT NULL,
	exit_reason TEXT NOT NULL,
	high_during REAL NOT NULL,
	low_during REAL NOT NULL,
	pl REAL NOT NULL,
	pl_pct REAL NOT NULL,
	costs REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS rejections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	strategy TEXT NOT NULL,
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	price REAL NOT NULL,
	signal_time INTEGER NOT NULL,
	failed_checks TEXT NOT NULL,
	message TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS equity (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	ts INTEGER NOT NULL,
	equity REAL NOT NULL,
	cash REAL NOT NULL,
	drawdown REAL NOT NULL,
	PRIMARY KEY (run_id, ts)
);

CREATE TABLE IF NOT EXISTS metrics (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	name TEXT NOT NULL,
	value REAL NOT NULL,
	PRIMARY KEY (run_id, name)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates
// the schema if needed, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun registers a new run and returns its ID.
func (s *SQLiteStore) CreateRun(ctx context.Context, strategy string, startedAt time.Time, initialCapital float64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (strategy, started_at, initial_capital) VALUES (?, ?, ?)`,
		strategy, startedAt.UnixMilli(), initialCapital)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	return res.LastInsertId()
}

// Run returns the registration record for a run.
func (s *SQLiteStore) Run(ctx context.Context, runID int64) (*RunInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, strategy, started_at, finished_at, initial_capital, final_equity
		 FROM runs WHERE id = ?`, runID)

	info := &RunInfo{}
	var startedMs int64
	var finishedMs sql.NullInt64
	var finalEquity sql.NullFloat64
	if err := row.Scan(&info.ID, &info.Strategy, &startedMs, &finishedMs,
		&info.InitialCapital, &finalEquity); err != nil {
		return nil, fmt.Errorf("reading run %d: %w", runID, err)
	}
	info.StartedAt = time.UnixMilli(startedMs).UTC()
	if finishedMs.Valid {
		info.FinishedAt = time.UnixMilli(finishedMs.Int64).UTC()
	}
	if finalEquity.Valid {
		info.FinalEquity = finalEquity.Float64
	}
	return info, nil
}

// SaveClosedTrades persists completed round trips for a run in a single
// transaction.
func (s *SQLiteStore) SaveClosedTrades(ctx context.Context, runID int64, trades []domain.ClosedTrade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trades
		(run_id, symbol, strategy, side, qty, entry_time, entry_price,
		 exit_time, exit_price, exit_reason, high_during, low_during, pl, pl_pct, costs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx,
			runID, t.Symbol, t.Strategy, string(t.Side), t.Qty,
			t.EntryTime.UnixMilli(), t.EntryPrice,
			t.ExitTime.UnixMilli(), t.ExitPrice, t.ExitReason,
			t.HighDuring, t.LowDuring, t.PL, t.PLPct, t.Costs); err != nil {
			return fmt.Errorf("inserting trade for %s: %w", t.Symbol, err)
		}
	}
	return tx.Commit()
}

// SaveRejections persists the risk-rejection audit log for a run.
func (s *SQLiteStore) SaveRejections(ctx context.Context, runID int64, rejections []domain.RejectedSignal) error {
	if len(rejections) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO rejections
		(run_id, strategy, symbol, action, price, signal_time, failed_checks, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rejections {
		if _, err := stmt.ExecContext(ctx,
			runID, r.Signal.Strategy, r.Signal.Symbol, string(r.Signal.Action),
			r.Signal.Price, r.Signal.Timestamp.UnixMilli(),
			strings.Join(r.FailedChecks, ","), r.Message); err != nil {
			return fmt.Errorf("inserting rejection for %s: %w", r.Signal.Symbol, err)
		}
	}
	return tx.Commit()
}

// SaveEquity persists the equity curve for a run.
func (s *SQLiteStore) SaveEquity(ctx context.Context, runID int64, points []domain.EquityPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO equity (run_id, ts, equity, cash, drawdown) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, runID, p.Timestamp.UnixMilli(), p.Equity, p.Cash, p.Drawdown); err != nil {
			return fmt.Errorf("inserting equity point: %w", err)
		}
	}
	return tx.Commit()
}

// SaveMetrics persists named summary metrics for a run.
func (s *SQLiteStore) SaveMetrics(ctx context.Context, runID int64, metrics map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO metrics (run_id, name, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for name, value := range metrics {
		if _, err := stmt.ExecContext(ctx, runID, name, value); err != nil {
			return fmt.Errorf("inserting metric %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// FinishRun records the final equity and completion time of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID int64, finalEquity float64, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, final_equity = ? WHERE id = ?`,
		finishedAt.UnixMilli(), finalEquity, runID)
	return err
}

// ClosedTrades returns the completed trades recorded for a run, in entry
// time order.
func (s *SQLiteStore) ClosedTrades(ctx context.Context, runID int64) ([]domain.ClosedTrade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		symbol, strategy, side, qty, entry_time, entry_price,
		exit_time, exit_price, exit_reason, high_during, low_during, pl, pl_pct, costs
		FROM trades WHERE run_id = ? ORDER BY entry_time, symbol`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.ClosedTrade
	for rows.Next() {
		var t domain.ClosedTrade
		var side string
		var entryMs, exitMs int64
		if err := rows.Scan(&t.Symbol, &t.Strategy, &side, &t.Qty, &entryMs, &t.EntryPrice,
			&exitMs, &t.ExitPrice, &t.ExitReason, &t.HighDuring, &t.LowDuring,
			&t.PL, &t.PLPct, &t.Costs); err != nil {
			return nil, err
		}
		t.Side = domain.SignalAction(side)
		t.EntryTime = time.UnixMilli(entryMs).UTC()
		t.ExitTime = time.UnixMilli(exitMs).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Equity returns the equity curve recorded for a run, in timestamp order.
func (s *SQLiteStore) Equity(ctx context.Context, runID int64) ([]domain.EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, equity, cash, drawdown FROM equity WHERE run_id = ? ORDER BY ts`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []domain.EquityPoint
	for rows.Next() {
		var p domain.EquityPoint
		var ms int64
		if err := rows.Scan(&ms, &p.Equity, &p.Cash, &p.Drawdown); err != nil {
			return nil, err
		}
		p.Timestamp = time.UnixMilli(ms).UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// Metrics returns the summary metrics recorded for a run.
func (s *SQLiteStore) Metrics(ctx context.Context, runID int64) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM metrics WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metrics := make(map[string]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		metrics[name] = value
	}
	return metrics, rows.Err()
}
