package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"backlab/internal/config"
	"backlab/internal/domain"
)

// Risk check identifiers recorded in the rejection audit log.
const (
	CheckNoPosition       = "no_position"
	CheckDuplicate        = "duplicate_position"
	CheckMaxOpenPositions = "max_open_positions"
	CheckInsufficientCash = "insufficient_cash"
	CheckMaxDrawdown      = "max_drawdown"
	CheckMaxDailyLoss     = "max_daily_loss"
)

// RiskManager applies a risk template to advisory signals, turning them into
// sized, approved trades or audited rejections. Every signal gets exactly
// one of the two outcomes.
type RiskManager struct {
	tmpl  config.RiskTemplate
	costs CostModel
	stats *RejectionStats
}

// NewRiskManager creates a RiskManager enforcing the given template.
func NewRiskManager(tmpl config.RiskTemplate, costs CostModel) *RiskManager {
	return &RiskManager{
		tmpl:  tmpl,
		costs: costs,
		stats: NewRejectionStats(),
	}
}

// Stats returns the rejection counters accumulated so far.
func (rm *RiskManager) Stats() *RejectionStats { return rm.stats }

// Evaluate runs the ordered risk checks on a signal against the current
// portfolio. Exactly one of the return values is non-nil.
//
// Sell signals close the full existing position and bypass the entry gates,
// so a losing portfolio can always reduce exposure. Buy signals run the full
// check sequence unless the template's bypass flag is set.
func (rm *RiskManager) Evaluate(sig domain.Signal, pf *domain.PortfolioState) (*domain.ApprovedTrade, *domain.RejectedSignal) {
	if sig.Action == domain.ActionSell {
		return rm.evaluateSell(sig, pf)
	}
	return rm.evaluateBuy(sig, pf)
}

func (rm *RiskManager) evaluateSell(sig domain.Signal, pf *domain.PortfolioState) (*domain.ApprovedTrade, *domain.RejectedSignal) {
	pos, ok := pf.Positions[sig.Symbol]
	if !ok || pos.Qty <= 0 {
		return nil, rm.reject(sig, []string{CheckNoPosition}, "no open position to sell")
	}
	notional := pos.Qty * sig.Price
	return &domain.ApprovedTrade{
		Signal:   sig,
		Qty:      pos.Qty,
		Notional: notional,
		Costs:    rm.costs.Costs(notional),
	}, nil
}

func (rm *RiskManager) evaluateBuy(sig domain.Signal, pf *domain.PortfolioState) (*domain.ApprovedTrade, *domain.RejectedSignal) {
	var failed []string

	if !rm.tmpl.Bypass {
		if pos, ok := pf.Positions[sig.Symbol]; ok && pos.Qty > 0 {
			failed = append(failed, CheckDuplicate)
		}
		if rm.tmpl.MaxOpenPositions > 0 && len(pf.Positions) >= rm.tmpl.MaxOpenPositions {
			failed = append(failed, CheckMaxOpenPositions)
		}
		if rm.tmpl.MaxDrawdownPct > 0 && pf.Drawdown() > rm.tmpl.MaxDrawdownPct {
			failed = append(failed, CheckMaxDrawdown)
		}
		if rm.tmpl.MaxDailyLossPct > 0 && pf.DailyLoss() > rm.tmpl.MaxDailyLossPct {
			failed = append(failed, CheckMaxDailyLoss)
		}
	}

	qty, notional := rm.size(sig, pf)
	if qty <= 0 {
		failed = append(failed, CheckInsufficientCash)
	}

	if len(failed) > 0 {
		return nil, rm.reject(sig, failed, fmt.Sprintf("failed checks: %s", strings.Join(failed, ", ")))
	}

	trade := &domain.ApprovedTrade{
		Signal:   sig,
		Qty:      qty,
		Notional: notional,
		Costs:    rm.costs.Costs(notional),
	}
	if rm.tmpl.StopLossPct > 0 {
		trade.StopLoss = sig.Price * (1 - rm.tmpl.StopLossPct)
	}
	if rm.tmpl.TakeProfitPct > 0 {
		trade.TakeProfit = sig.Price * (1 + rm.tmpl.TakeProfitPct)
	}
	return trade, nil
}

// size computes a fixed-fractional position: a fraction of current equity
// scaled by signal strength, capped by available cash after costs. A signal
// carrying a quantity hint can only shrink the position, never exceed the
// fixed-fractional limit.
func (rm *RiskManager) size(sig domain.Signal, pf *domain.PortfolioState) (qty, notional float64) {
	if sig.Price <= 0 {
		return 0, 0
	}
	strength := sig.Strength
	if strength <= 0 || strength > 1 {
		strength = 1
	}

	target := pf.Equity() * rm.tmpl.MaxPositionPct * strength
	if sig.Qty > 0 {
		if hinted := sig.Qty * sig.Price; hinted < target {
			target = hinted
		}
	}
	if affordable := rm.costs.AffordableNotional(pf.Cash); target > affordable {
		target = affordable
	}
	if target <= 0 {
		return 0, 0
	}
	return target / sig.Price, target
}

func (rm *RiskManager) reject(sig domain.Signal, checks []string, msg string) *domain.RejectedSignal {
	rm.stats.Record(checks)
	return &domain.RejectedSignal{
		Signal:       sig,
		FailedChecks: checks,
		Message:      msg,
	}
}

// RejectionStats counts rejections per failed check. Safe for concurrent
// use.
type RejectionStats struct {
	mu     sync.Mutex
	counts map[string]int
	total  int
}

// NewRejectionStats creates an empty RejectionStats.
func NewRejectionStats() *RejectionStats {
	return &RejectionStats{counts: make(map[string]int)}
}

// Record increments the counter for each failed check of one rejection.
func (s *RejectionStats) Record(checks []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	for _, c := range checks {
		s.counts[c]++
	}
}

// Total returns the number of rejected signals.
func (s *RejectionStats) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Counts returns a copy of the per-check counters.
func (s *RejectionStats) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Summary renders the counters as "check=n" pairs sorted by check name.
func (s *RejectionStats) Summary() string {
	counts := s.Counts()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}
