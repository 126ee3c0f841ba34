package models

import "time"

// Side represents the direction of an order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType represents how an order is priced and triggered
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderStop   OrderType = "STOP"
)

// OrderStatus defines the lifecycle of an order.
// NEW -> FILLED | REJECTED | CANCELLED. FILLED is terminal.
// Limit and stop orders may stay NEW across bars until filled or expired.
type OrderStatus string

const (
	OrderNew       OrderStatus = "NEW"
	OrderFilled    OrderStatus = "FILLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// RiskState is the per-position risk state machine.
// OPEN -> STOPPED_OUT | TAKEN_PROFIT | FORCED_CLOSE -> CLOSED.
// CLOSED is terminal until a new position opens the symbol again.
type RiskState string

const (
	RiskOpen        RiskState = "OPEN"
	RiskStoppedOut  RiskState = "STOPPED_OUT"
	RiskTakenProfit RiskState = "TAKEN_PROFIT"
	RiskForcedClose RiskState = "FORCED_CLOSE"
	RiskClosed      RiskState = "CLOSED"
)

// Bar is one OHLCV candle for a symbol, supplied externally
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Signal is a strategy's directional conviction for one symbol at one
// timestamp. Value is bounded to [-1, 1]; Confidence is optional (0 = unset).
type Signal struct {
	Symbol     string
	Timestamp  time.Time
	Value      float64
	Confidence float64
}

// Position represents an open holding. Quantity is signed: negative for
// shorts. Mutated only through executor fills.
type Position struct {
	Symbol        string
	Quantity      float64
	AvgEntryPrice float64
	UnrealizedPL  float64
	EntryTime     time.Time
	State         RiskState
}

// MarketValue returns the signed market value at the given price.
func (p Position) MarketValue(price float64) float64 {
	return p.Quantity * price
}

// Order represents a single order. Immutable once FILLED or CANCELLED.
type Order struct {
	ID         string
	Symbol     string
	Side       Side
	Type       OrderType
	Quantity   float64
	LimitPrice float64 // LIMIT orders only
	StopPrice  float64 // STOP orders only
	Status     OrderStatus
	Reason     string // rejection reason or close reason
	CreatedAt  time.Time
	TTLBars    int // remaining bars before a resting order expires
}

// Trade is the immutable record of a completed fill. The trade log is the
// audit trail of the run: append-only, one entry per FILLED order.
type Trade struct {
	OrderID      string
	Symbol       string
	Side         Side
	Quantity     float64
	FillPrice    float64
	Commission   float64
	SlippageCost float64
	RealizedPL   float64
	Timestamp    time.Time
	Reason       string // "REBALANCE", "STOP_LOSS", "TAKE_PROFIT", "DRAWDOWN"
}

// PortfolioSnapshot is the recorded portfolio state after one simulation
// step. Read-only once appended.
type PortfolioSnapshot struct {
	Timestamp   time.Time
	Equity      float64
	Cash        float64
	Weights     map[string]float64
	PeakEquity  float64
	Drawdown    float64
	Diagnostics []string // non-fatal degradations observed this step
}
