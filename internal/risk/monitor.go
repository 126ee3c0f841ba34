package risk

import (
	"time"

	"quant_trading/internal/ledger"
	"quant_trading/internal/models"
)

// Monitor evaluates risk rules every step against the ledger and current
// prices. It reads the ledger but never mutates positions directly; exits
// are returned as instructions for the executor.
type Monitor struct {
	limits Limits
	led    *ledger.Ledger

	peakEquity float64
}

func NewMonitor(limits Limits, led *ledger.Ledger) *Monitor {
	return &Monitor{limits: limits, led: led}
}

// ObserveEquity updates the peak-equity watermark (monotonically
// non-decreasing) and returns the drawdown from peak.
func (m *Monitor) ObserveEquity(equity float64) float64 {
	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	if m.peakEquity <= 0 {
		return 0
	}
	return (m.peakEquity - equity) / m.peakEquity
}

// PeakEquity returns the highest equity seen so far.
func (m *Monitor) PeakEquity() float64 { return m.peakEquity }

// Evaluate applies the transition rules in their fixed precedence order,
// first match wins:
//  1. portfolio drawdown beyond MaxDrawdownPct forces ALL open positions
//     closed;
//  2. a position's unrealized loss beyond StopLossPct stops it out;
//  3. an unrealized gain beyond TakeProfitPct takes profit;
//  4. otherwise the position stays OPEN.
//
// A missing price for an open position makes the whole evaluation unsafe
// and returns a RiskLimitBreachedError: the run must abort.
func (m *Monitor) Evaluate(ts time.Time, prices map[string]float64) ([]Exit, error) {
	positions := m.led.Positions()
	if len(positions) == 0 {
		m.ObserveEquity(m.led.Equity())
		return nil, nil
	}

	for _, p := range positions {
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			return nil, &models.RiskLimitBreachedError{Symbol: p.Symbol, Timestamp: ts, Reason: "no valid price for open position"}
		}
	}

	// Drawdown evaluated at current prices, before any exit is applied.
	equity := m.led.Cash()
	for _, p := range positions {
		equity += p.MarketValue(prices[p.Symbol])
	}
	drawdown := m.ObserveEquity(equity)

	var exits []Exit
	if m.limits.MaxDrawdownPct > 0 && drawdown >= m.limits.MaxDrawdownPct {
		for _, p := range positions {
			if p.State != models.RiskOpen {
				continue
			}
			m.led.SetRiskState(p.Symbol, models.RiskForcedClose)
			exits = append(exits, Exit{Symbol: p.Symbol, State: models.RiskForcedClose, Reason: "DRAWDOWN"})
		}
		return exits, nil
	}

	for _, p := range positions {
		if p.State != models.RiskOpen {
			continue
		}
		price := prices[p.Symbol]
		switch {
		case stopLossHit(p, price, m.limits.StopLossPct):
			m.led.SetRiskState(p.Symbol, models.RiskStoppedOut)
			exits = append(exits, Exit{Symbol: p.Symbol, State: models.RiskStoppedOut, Reason: "STOP_LOSS"})
		case takeProfitHit(p, price, m.limits.TakeProfitPct):
			m.led.SetRiskState(p.Symbol, models.RiskTakenProfit)
			exits = append(exits, Exit{Symbol: p.Symbol, State: models.RiskTakenProfit, Reason: "TAKE_PROFIT"})
		}
	}
	return exits, nil
}

func stopLossHit(p models.Position, price, stopLoss float64) bool {
	if stopLoss <= 0 {
		return false
	}
	if p.Quantity > 0 {
		return price < p.AvgEntryPrice*(1-stopLoss)
	}
	return price > p.AvgEntryPrice*(1+stopLoss)
}

func takeProfitHit(p models.Position, price, takeProfit float64) bool {
	if takeProfit <= 0 {
		return false
	}
	if p.Quantity > 0 {
		return price > p.AvgEntryPrice*(1+takeProfit)
	}
	return price < p.AvgEntryPrice*(1-takeProfit)
}
