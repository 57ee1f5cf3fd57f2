// Package provider defines the market-data provider abstraction and the
// fetch pipeline that pulls historical bars into local storage.
package provider

import (
	"context"
	"time"

	"backlab/internal/domain"
)

// Provider fetches historical bar data from an external market-data source.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// FetchBars returns daily bars for the given symbol within [start, end],
	// normalized to domain.Bar and sorted by timestamp.
	FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}
