// Command backlab is the backtesting laboratory CLI. It fetches historical
// bar data, runs strategies through the risk-managed execution loop, and
// persists analyzed results.
//
// Usage:
//
//	backlab backtest [-config path] [-strategy name]
//	backlab fetch    [-config path]
//	backlab validate [-config path] [-strategy name]
//	backlab analyze  -run <dir>
//	backlab list     [-config path]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"backlab/internal/analysis"
	"backlab/internal/config"
	"backlab/internal/engine"
	"backlab/internal/provider"
	"backlab/internal/report"
	"backlab/internal/store"
	"backlab/internal/strategy"
	"backlab/internal/strategy/builtins"
	"backlab/internal/util"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	// Credentials may live in a local .env; absence is fine.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "backtest":
		err = runBacktest(ctx, os.Args[2:], false)
	case "validate":
		err = runBacktest(ctx, os.Args[2:], true)
	case "fetch":
		err = runFetch(ctx, os.Args[2:])
	case "analyze":
		err = runAnalyze(ctx, os.Args[2:])
	case "list":
		err = runList(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: backlab <backtest|fetch|validate|analyze|list> [flags]")
}

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	defaultPath := "config/backlab.yaml"
	if p := os.Getenv("BACKLAB_CONFIG"); p != "" {
		defaultPath = p
	}
	cfgPath := fs.String("config", defaultPath, "path to YAML config")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return nil, err
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))
	return cfg, nil
}

// selectStrategies builds the configured strategies, narrowed to one when
// name is non-empty.
func selectStrategies(cfg *config.Config, name string) ([]strategy.Strategy, error) {
	if len(cfg.Strategies) == 0 {
		return nil, fmt.Errorf("no strategies configured")
	}
	reg, err := builtins.FromConfig(cfg.Strategies)
	if err != nil {
		return nil, err
	}

	var names []string
	if name != "" {
		names = []string{name}
	} else {
		names = reg.List()
	}

	strats := make([]strategy.Strategy, 0, len(names))
	for _, n := range names {
		s, ok := reg.Get(n)
		if !ok {
			return nil, fmt.Errorf("strategy %q is not configured", n)
		}
		strats = append(strats, s)
	}
	return strats, nil
}

func runBacktest(ctx context.Context, args []string, validate bool) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	stratName := fs.String("strategy", "", "run only this strategy")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	strats, err := selectStrategies(cfg, *stratName)
	if err != nil {
		return err
	}
	start, end, err := cfg.DateRange()
	if err != nil {
		return fmt.Errorf("backtest dates: %w", err)
	}

	costs := engine.CostModel{
		CommissionBps: cfg.Backtest.CommissionBps,
		MinCommission: cfg.Backtest.MinCommission,
		SlippageBps:   cfg.Backtest.SlippageBps,
	}
	btCfg := engine.BacktestConfig{
		Symbols:        cfg.Backtest.Symbols,
		Market:         cfg.Backtest.Market,
		Start:          start,
		End:            end,
		InitialCapital: cfg.Backtest.InitialCapital,
		Workers:        cfg.Backtest.Workers,
	}
	bars := store.NewParquetStore(cfg.Storage.DataDir)
	writer := report.NewWriter(cfg.Storage.OutputDir)

	for _, strat := range strats {
		// Each run gets a fresh risk manager so rejection stats don't bleed
		// across strategies.
		bt := engine.NewBacktester(bars, engine.NewRiskManager(cfg.Risk(), costs), costs, btCfg)

		var guard *engine.LookaheadGuard
		runStrat := strat
		if validate {
			guard = engine.NewLookaheadGuard(strat)
			runStrat = guard
		}

		startedAt := time.Now().UTC()
		res, err := bt.Run(ctx, runStrat)
		if err != nil {
			return fmt.Errorf("running %s: %w", strat.Name(), err)
		}

		if validate {
			if v := guard.Violations(); len(v) > 0 {
				for _, msg := range v {
					slog.Error("lookahead violation", "strategy", strat.Name(), "detail", msg)
				}
				return fmt.Errorf("%s: %d lookahead violations", strat.Name(), len(v))
			}
			slog.Info("validation clean", "strategy", strat.Name(), "trades", len(res.ClosedTrades))
			continue
		}

		metrics := analysis.Compute(res.InitialCapital, res.Equity, res.ClosedTrades)
		dir, err := writer.Write(ctx, res, metrics, startedAt)
		if err != nil {
			return fmt.Errorf("persisting %s: %w", strat.Name(), err)
		}
		fmt.Println(dir)
	}
	return nil
}

func runFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		return fmt.Errorf("alpaca credentials are required for fetch")
	}
	if len(cfg.Backtest.Symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}

	startDate := cfg.Fetch.StartDate
	if startDate == "" {
		startDate = cfg.Backtest.StartDate
	}
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return fmt.Errorf("fetch start date %q: %w", startDate, err)
	}

	p := provider.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
	f := provider.NewFetcher(
		p,
		store.NewParquetStore(cfg.Storage.DataDir),
		cfg.Backtest.Market,
		cfg.Fetch.Workers,
		cfg.Fetch.RateLimitPerMin,
		cfg.Fetch.MaxAttempts,
	)

	res, err := f.Fetch(ctx, cfg.Backtest.Symbols, start, time.Now().UTC())
	if err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		slog.Warn("some symbols failed", "symbols", res.Failed)
	}
	fmt.Printf("fetched %d bars for %d symbols\n", res.Bars, res.Symbols)
	return nil
}

func runAnalyze(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	runDir := fs.String("run", "", "run directory containing backtest.db")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runDir == "" {
		return fmt.Errorf("-run is required")
	}

	db, err := store.NewSQLiteStore(filepath.Join(*runDir, "backtest.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	const runID = 1
	info, err := db.Run(ctx, runID)
	if err != nil {
		return fmt.Errorf("reading run: %w", err)
	}
	trades, err := db.ClosedTrades(ctx, runID)
	if err != nil {
		return fmt.Errorf("reading trades: %w", err)
	}
	equity, err := db.Equity(ctx, runID)
	if err != nil {
		return fmt.Errorf("reading equity: %w", err)
	}
	if len(equity) == 0 {
		return fmt.Errorf("run has no equity curve")
	}

	metrics := analysis.Compute(info.InitialCapital, equity, trades)

	out, err := json.MarshalIndent(metrics.Map(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	reg, err := builtins.FromConfig(cfg.Strategies)
	if err != nil {
		return err
	}
	fmt.Println("strategies:")
	for _, name := range reg.List() {
		fmt.Printf("  %s\n", name)
	}

	symbols, err := store.NewParquetStore(cfg.Storage.DataDir).ListSymbols(ctx, cfg.Backtest.Market)
	if err != nil {
		return err
	}
	fmt.Printf("symbols with data (%s):\n", cfg.Backtest.Market)
	for _, sym := range symbols {
		fmt.Printf("  %s\n", sym)
	}
	return nil
}
