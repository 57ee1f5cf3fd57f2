package builtins

import (
	"fmt"

	"backlab/internal/config"
	"backlab/internal/strategy"
)

// Default parameters for the built-in strategies.
const (
	defaultSMAFast    = 10
	defaultSMASlow    = 20
	defaultBBPeriod   = 20
	defaultBBNumDev   = 2.0
	defaultRSIPeriod  = 14
	defaultOversold   = 30.0
	defaultOverbought = 70.0
	defaultMACDFast   = 12
	defaultMACDSlow   = 26
	defaultMACDSignal = 9
	defaultEMAFast    = 9
	defaultEMASlow    = 20
)

// FromConfig builds a Registry holding the configured built-in strategies.
// Unknown strategy names and invalid parameters are errors.
func FromConfig(cfgs []config.StrategyConfig) (*strategy.Registry, error) {
	reg := strategy.NewRegistry()
	for _, c := range cfgs {
		s, err := build(c)
		if err != nil {
			return nil, err
		}
		reg.Register(s)
	}
	return reg, nil
}

func build(c config.StrategyConfig) (strategy.Strategy, error) {
	switch c.Name {
	case "sma-cross":
		return NewSMACross(
			int(param(c.Params, "fast_period", defaultSMAFast)),
			int(param(c.Params, "slow_period", defaultSMASlow)),
			int64(param(c.Params, "min_volume", 0)),
		)
	case "bollinger":
		return NewBollinger(
			int(param(c.Params, "period", defaultBBPeriod)),
			param(c.Params, "num_dev", defaultBBNumDev),
		)
	case "rsi":
		return NewRSIReversal(
			int(param(c.Params, "period", defaultRSIPeriod)),
			param(c.Params, "oversold", defaultOversold),
			param(c.Params, "overbought", defaultOverbought),
		)
	case "macd":
		return NewMACDTrend(
			int(param(c.Params, "fast_period", defaultMACDFast)),
			int(param(c.Params, "slow_period", defaultMACDSlow)),
			int(param(c.Params, "signal_period", defaultMACDSignal)),
			int(param(c.Params, "ema_fast", defaultEMAFast)),
			int(param(c.Params, "ema_slow", defaultEMASlow)),
		)
	default:
		return nil, fmt.Errorf("unknown strategy %q", c.Name)
	}
}

func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}
