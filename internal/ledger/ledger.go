package ledger

import (
	"math"
	"sort"
	"sync"
	"time"

	"quant_trading/internal/models"
)

// Ledger is the authoritative record of cash, holdings and P&L.
// Single-writer discipline: only the order executor mutates it; the risk
// monitor and optimizer read it.
type Ledger struct {
	mu          sync.RWMutex
	initialCash float64
	cash        float64
	realizedPL  float64 // gross of commissions
	commissions float64
	positions   map[string]*models.Position
	lastPrices  map[string]float64
}

func NewLedger(initialCash float64) *Ledger {
	return &Ledger{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*models.Position),
		lastPrices:  make(map[string]float64),
	}
}

func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

func (l *Ledger) RealizedPL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realizedPL
}

// Position returns a copy; the ledger keeps ownership of the original.
func (l *Ledger) Position(symbol string) (models.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions, sorted by symbol so
// callers iterate deterministically.
func (l *Ledger) Positions() []models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// SetRiskState records a risk-machine transition on an open position.
func (l *Ledger) SetRiskState(symbol string, state models.RiskState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.positions[symbol]; ok {
		p.State = state
	}
}

// ApplyFill books a fill atomically for one symbol: cash, average entry
// price (quantity-weighted) and realized P&L on any reduction. Returns the
// realized P&L of this fill, gross of commission.
func (l *Ledger) ApplyFill(symbol string, side models.Side, qty, fillPrice, commission float64, ts time.Time) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	dq := qty
	if side == models.SideSell {
		dq = -qty
	}
	l.cash -= dq*fillPrice + commission
	l.commissions += commission

	pos, ok := l.positions[symbol]
	if !ok {
		l.positions[symbol] = &models.Position{
			Symbol:        symbol,
			Quantity:      dq,
			AvgEntryPrice: fillPrice,
			EntryTime:     ts,
			State:         models.RiskOpen,
		}
		l.lastPrices[symbol] = fillPrice
		return 0
	}

	var realized float64
	if sameSign(pos.Quantity, dq) {
		// Adding to the position: quantity-weighted average entry.
		total := math.Abs(pos.Quantity) + math.Abs(dq)
		pos.AvgEntryPrice = (math.Abs(pos.Quantity)*pos.AvgEntryPrice + math.Abs(dq)*fillPrice) / total
		pos.Quantity += dq
	} else {
		closeQty := math.Min(math.Abs(pos.Quantity), math.Abs(dq))
		realized = (fillPrice - pos.AvgEntryPrice) * closeQty * sign(pos.Quantity)
		l.realizedPL += realized
		origSign := sign(pos.Quantity)
		pos.Quantity += dq
		if math.Abs(pos.Quantity) < 1e-12 {
			delete(l.positions, symbol)
			return realized
		}
		if sign(pos.Quantity) != origSign {
			// The fill flipped the position; the remainder opens fresh.
			pos.AvgEntryPrice = fillPrice
			pos.EntryTime = ts
			pos.State = models.RiskOpen
		}
		// A partial close leaves the average entry price unchanged.
	}
	l.lastPrices[symbol] = fillPrice
	return realized
}

// MarkToMarket revalues all open positions at the given close prices.
// A missing price for an open position is an error; the caller decides
// whether it is fatal.
func (l *Ledger) MarkToMarket(prices map[string]float64, ts time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for sym, p := range l.positions {
		price, ok := prices[sym]
		if !ok {
			return &models.InsufficientDataError{Symbol: sym, Timestamp: ts, What: "close price"}
		}
		l.lastPrices[sym] = price
		p.UnrealizedPL = (price - p.AvgEntryPrice) * p.Quantity
	}
	return nil
}

// Equity is cash plus the market value of all open positions at the last
// marked prices.
func (l *Ledger) Equity() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.equityLocked()
}

func (l *Ledger) equityLocked() float64 {
	eq := l.cash
	for sym, p := range l.positions {
		eq += p.Quantity * l.lastPrices[sym]
	}
	return eq
}

// Weights returns the signed fraction of equity held in each symbol at the
// last marked prices.
func (l *Ledger) Weights() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w := make(map[string]float64, len(l.positions))
	eq := l.equityLocked()
	if eq <= 0 {
		return w
	}
	for sym, p := range l.positions {
		w[sym] = p.Quantity * l.lastPrices[sym] / eq
	}
	return w
}

// CheckConsistency cross-checks the equity identity by two independent
// routes: the cash/market-value sum versus the accumulated P&L trail
// (initial capital + realized + unrealized - commissions). A divergence
// beyond tolerance means a booking bug and must stop the run.
func (l *Ledger) CheckConsistency(ts time.Time) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	got := l.equityLocked()
	want := l.initialCash + l.realizedPL - l.commissions
	for _, p := range l.positions {
		want += p.UnrealizedPL
	}
	tol := 1e-6 * math.Max(math.Abs(want), 1)
	if math.Abs(got-want) > tol || math.IsNaN(got) || math.IsInf(got, 0) {
		return &models.LedgerInconsistencyError{Timestamp: ts, Got: got, Want: want}
	}
	return nil
}

func sameSign(a, b float64) bool {
	return a >= 0 && b >= 0 || a <= 0 && b <= 0
}

func sign(a float64) float64 {
	if a < 0 {
		return -1
	}
	return 1
}
