package models

import (
	"fmt"
	"time"
)

// InsufficientDataError reports a missing feature, bar or signal for a
// symbol at a timestamp. Fatal only for that symbol's allocation decision;
// the engine holds the previous weight and continues.
type InsufficientDataError struct {
	Symbol    string
	Timestamp time.Time
	What      string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s at %s: missing %s", e.Symbol, e.Timestamp.Format(time.RFC3339), e.What)
}

// InvalidOrderError reports a malformed order. Surfaced as a REJECTED order
// record, never as a crash past the executor boundary.
type InvalidOrderError struct {
	Symbol string
	Reason string
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("invalid order for %s: %s", e.Symbol, e.Reason)
}

// RiskLimitBreachedError means the risk monitor could not safely evaluate
// its rules (e.g. a missing price for an open position). Always fatal:
// continuing risk evaluation blind risks silent capital loss.
type RiskLimitBreachedError struct {
	Symbol    string
	Timestamp time.Time
	Reason    string
}

func (e *RiskLimitBreachedError) Error() string {
	return fmt.Sprintf("risk evaluation failed for %s at %s: %s", e.Symbol, e.Timestamp.Format(time.RFC3339), e.Reason)
}

// LedgerInconsistencyError means the cash + positions == equity identity
// broke beyond tolerance. Always fatal; it indicates a bug, not a market
// condition.
type LedgerInconsistencyError struct {
	Timestamp time.Time
	Got       float64
	Want      float64
}

func (e *LedgerInconsistencyError) Error() string {
	return fmt.Sprintf("ledger inconsistent at %s: cash+positions=%.6f, expected equity %.6f", e.Timestamp.Format(time.RFC3339), e.Got, e.Want)
}
