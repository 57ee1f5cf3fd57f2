package engine

import (
	"fmt"
	"time"

	"backlab/internal/domain"
)

// ApplyBuy debits cash for an approved entry and opens or extends the
// position at a volume-weighted average entry price.
func ApplyBuy(pf *domain.PortfolioState, trade *domain.ApprovedTrade, ts time.Time) error {
	total := trade.Notional + trade.Costs.Total()
	if total > pf.Cash {
		return fmt.Errorf("fill exceeds cash: need %.2f, have %.2f", total, pf.Cash)
	}
	pf.Cash -= total

	price := trade.Signal.Price
	pos, ok := pf.Positions[trade.Signal.Symbol]
	if !ok {
		pf.Positions[trade.Signal.Symbol] = &domain.Position{
			Symbol:    trade.Signal.Symbol,
			Qty:       trade.Qty,
			AvgEntry:  price,
			LastPrice: price,
			OpenedAt:  ts,
		}
		return nil
	}
	newQty := pos.Qty + trade.Qty
	pos.AvgEntry = (pos.AvgEntry*pos.Qty + price*trade.Qty) / newQty
	pos.Qty = newQty
	pos.LastPrice = price
	return nil
}

// ApplySell closes the full position at the given price, credits cash net of
// costs, and accumulates realized profit and loss. It returns the realized
// amount for the closed position.
func ApplySell(pf *domain.PortfolioState, symbol string, price float64, costs domain.Costs) (float64, error) {
	pos, ok := pf.Positions[symbol]
	if !ok || pos.Qty <= 0 {
		return 0, fmt.Errorf("no open position in %s", symbol)
	}

	notional := pos.Qty * price
	realized := (price-pos.AvgEntry)*pos.Qty - costs.Total()

	pf.Cash += notional - costs.Total()
	pf.RealizedPL += realized
	delete(pf.Positions, symbol)
	return realized, nil
}

// MarkToMarket updates the last seen price of an open position so equity
// reflects current market values. Symbols without a position are ignored.
func MarkToMarket(pf *domain.PortfolioState, symbol string, price float64) {
	if pos, ok := pf.Positions[symbol]; ok {
		pos.LastPrice = price
	}
}
