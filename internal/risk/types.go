package risk

import "quant_trading/internal/models"

// Limits defines static risk configuration for a run. Immutable once the
// run starts.
type Limits struct {
	MaxPositionSize float64 // max |weight| per symbol, fraction of equity
	StopLossPct     float64 // per-position stop loss vs entry value
	TakeProfitPct   float64 // per-position take profit vs entry value
	MaxDrawdownPct  float64 // portfolio kill-switch vs peak equity
	MaxVolatility   float64 // 0 disables the portfolio volatility cap
	TargetReturn    float64 // 0 disables the target-return mode
	RiskFreeRate    float64
	LongOnly        bool
	LeverageCap     float64 // cap on gross exposure sum(|weight|)
}

// Exit is a forced close instruction emitted by the monitor. It must be
// executed before any new allocation touches the symbol in the same step.
type Exit struct {
	Symbol string
	State  models.RiskState // STOPPED_OUT, TAKEN_PROFIT or FORCED_CLOSE
	Reason string
}
