package engine

import (
	"math"
	"testing"
	"time"

	"backlab/internal/domain"
)

func TestApplyBuyAndSellAccounting(t *testing.T) {
	pf := domain.NewPortfolioState(100000)
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	buy := &domain.ApprovedTrade{
		Signal:   domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy, Price: 100},
		Qty:      100,
		Notional: 10000,
		Costs:    domain.Costs{Commission: 5, Slippage: 1},
	}
	if err := ApplyBuy(pf, buy, ts); err != nil {
		t.Fatalf("ApplyBuy returned error: %v", err)
	}

	if want := 100000.0 - 10000 - 6; math.Abs(pf.Cash-want) > 1e-9 {
		t.Errorf("Cash = %v, want %v", pf.Cash, want)
	}
	// Mark-to-market at entry price: equity is down by exactly the costs.
	if want := 100000.0 - 6; math.Abs(pf.Equity()-want) > 1e-9 {
		t.Errorf("Equity = %v, want %v", pf.Equity(), want)
	}

	realized, err := ApplySell(pf, "AAPL", 110, domain.Costs{Commission: 5, Slippage: 1})
	if err != nil {
		t.Fatalf("ApplySell returned error: %v", err)
	}
	if want := (110.0-100)*100 - 6; math.Abs(realized-want) > 1e-9 {
		t.Errorf("realized = %v, want %v", realized, want)
	}
	if len(pf.Positions) != 0 {
		t.Error("position should be removed after full sell")
	}
	// Final cash is initial plus gross gain minus both fills' costs.
	if want := 100000.0 + 1000 - 12; math.Abs(pf.Cash-want) > 1e-9 {
		t.Errorf("Cash = %v, want %v", pf.Cash, want)
	}
}

func TestApplyBuyAveragesEntry(t *testing.T) {
	pf := domain.NewPortfolioState(100000)
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	first := &domain.ApprovedTrade{
		Signal: domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy, Price: 100},
		Qty:    100, Notional: 10000,
	}
	second := &domain.ApprovedTrade{
		Signal: domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy, Price: 120},
		Qty:    100, Notional: 12000,
	}
	if err := ApplyBuy(pf, first, ts); err != nil {
		t.Fatalf("ApplyBuy returned error: %v", err)
	}
	if err := ApplyBuy(pf, second, ts.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("ApplyBuy returned error: %v", err)
	}

	pos := pf.Positions["AAPL"]
	if pos.Qty != 200 {
		t.Errorf("Qty = %v, want 200", pos.Qty)
	}
	if pos.AvgEntry != 110 {
		t.Errorf("AvgEntry = %v, want 110", pos.AvgEntry)
	}
}

func TestApplyBuyRejectsOverdraft(t *testing.T) {
	pf := domain.NewPortfolioState(1000)
	trade := &domain.ApprovedTrade{
		Signal: domain.Signal{Symbol: "AAPL", Action: domain.ActionBuy, Price: 100},
		Qty:    100, Notional: 10000,
	}
	if err := ApplyBuy(pf, trade, time.Now()); err == nil {
		t.Error("ApplyBuy exceeding cash should fail")
	}
	if pf.Cash != 1000 {
		t.Errorf("Cash = %v, want unchanged 1000", pf.Cash)
	}
}

func TestApplySellWithoutPosition(t *testing.T) {
	pf := domain.NewPortfolioState(1000)
	if _, err := ApplySell(pf, "AAPL", 100, domain.Costs{}); err == nil {
		t.Error("ApplySell without position should fail")
	}
}

func TestMarkToMarket(t *testing.T) {
	pf := domain.NewPortfolioState(100000)
	pf.Positions["AAPL"] = &domain.Position{Symbol: "AAPL", Qty: 10, AvgEntry: 100, LastPrice: 100}

	MarkToMarket(pf, "AAPL", 105)
	if pf.Positions["AAPL"].LastPrice != 105 {
		t.Errorf("LastPrice = %v, want 105", pf.Positions["AAPL"].LastPrice)
	}

	// Unknown symbol is a no-op.
	MarkToMarket(pf, "MSFT", 50)
}
