package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"backlab/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*AlpacaProvider)(nil)

// AlpacaProvider fetches daily US equity bars from the Alpaca market-data
// API.
type AlpacaProvider struct {
	client *marketdata.Client
}

// NewAlpacaProvider creates an AlpacaProvider with the given credentials.
// dataURL overrides the default market-data endpoint when non-empty.
func NewAlpacaProvider(apiKey, apiSecret, dataURL string) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaProvider{client: marketdata.NewClient(opts)}
}

// Name returns the provider identifier.
func (p *AlpacaProvider) Name() string { return "alpaca" }

// FetchBars fetches daily bars for one symbol within [start, end].
func (p *AlpacaProvider) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	alpacaBars, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      "sip",
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars, nil
}
