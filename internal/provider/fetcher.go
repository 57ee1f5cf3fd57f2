package provider

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"backlab/internal/store"
	"backlab/internal/util"
)

// FetchResult summarizes a fetch run.
type FetchResult struct {
	Symbols int
	Bars    int
	Failed  []string
}

// Fetcher pulls historical bars for a set of symbols through a Provider and
// writes them to a BarStore. Symbols are fetched concurrently under a shared
// rate limiter, and transient provider errors are retried.
type Fetcher struct {
	provider    Provider
	store       store.BarStore
	market      string
	workers     int
	maxAttempts int
	limiter     *util.RateLimiter
	log         *slog.Logger
}

// NewFetcher creates a Fetcher writing to the given market in the store.
func NewFetcher(p Provider, s store.BarStore, market string, workers, rateLimitPerMin, maxAttempts int) *Fetcher {
	if workers < 1 {
		workers = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if rateLimitPerMin < 1 {
		rateLimitPerMin = 200
	}
	return &Fetcher{
		provider:    p,
		store:       s,
		market:      market,
		workers:     workers,
		maxAttempts: maxAttempts,
		// One burst token per worker, so the pool starts without queueing
		// on the limiter.
		limiter: util.NewRateLimiterBurst(rateLimitPerMin, workers),
		log:     slog.Default().With("provider", p.Name()),
	}
}

// Fetch downloads bars for every symbol within [start, end] and persists
// them. A symbol whose fetch fails after retries is skipped with a warning;
// the run continues with the rest.
func (f *Fetcher) Fetch(ctx context.Context, symbols []string, start, end time.Time) (*FetchResult, error) {
	symbolCh := make(chan string, len(symbols))
	for _, sym := range symbols {
		symbolCh <- sym
	}
	close(symbolCh)

	var (
		wg        sync.WaitGroup
		totalBars atomic.Int64
		mu        sync.Mutex
		failed    []string
		runStart  = time.Now()
	)

	workers := min(f.workers, len(symbols))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symbolCh {
				if ctx.Err() != nil {
					return
				}

				n, err := f.fetchOne(ctx, sym, start, end)
				if err != nil {
					f.log.Warn("symbol fetch failed, skipping", "symbol", sym, "err", err)
					mu.Lock()
					failed = append(failed, sym)
					mu.Unlock()
					continue
				}
				totalBars.Add(int64(n))
				f.log.Info("symbol done", "symbol", sym, "bars", n)
			}
		}()
	}

	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f.log.Info("fetch complete",
		"symbols", len(symbols),
		"bars", totalBars.Load(),
		"failed", len(failed),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return &FetchResult{
		Symbols: len(symbols) - len(failed),
		Bars:    int(totalBars.Load()),
		Failed:  failed,
	}, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, symbol string, start, end time.Time) (int, error) {
	var n int
	err := util.Retry(ctx, f.maxAttempts, time.Second, func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		bars, err := f.provider.FetchBars(ctx, symbol, start, end)
		if err != nil {
			return err
		}
		n = len(bars)
		if n == 0 {
			return nil
		}
		return f.store.WriteBars(ctx, bars, f.market)
	})
	return n, err
}
