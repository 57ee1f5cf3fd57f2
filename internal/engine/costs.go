package engine

import "backlab/internal/domain"

// CostModel computes transaction costs for a fill. Commission is charged in
// basis points of notional with a per-trade floor. Slippage approximates
// crossing half the spread.
type CostModel struct {
	CommissionBps float64
	MinCommission float64
	SlippageBps   float64
}

// Costs returns the commission and slippage charged on a fill of the given
// notional value.
func (m CostModel) Costs(notional float64) domain.Costs {
	commission := notional * m.CommissionBps / 10000
	if commission < m.MinCommission {
		commission = m.MinCommission
	}
	return domain.Costs{
		Commission: commission,
		Slippage:   notional * m.SlippageBps / 10000 / 2,
	}
}

// AffordableNotional returns the largest notional whose value plus costs
// fits within cash. Returns 0 when cash cannot cover even the commission
// floor.
func (m CostModel) AffordableNotional(cash float64) float64 {
	slipRate := m.SlippageBps / 10000 / 2
	commRate := m.CommissionBps / 10000

	// Assume the bps commission applies, then fall back to the floor.
	notional := cash / (1 + commRate + slipRate)
	if notional*commRate >= m.MinCommission {
		return notional
	}
	notional = (cash - m.MinCommission) / (1 + slipRate)
	if notional < 0 {
		return 0
	}
	return notional
}
