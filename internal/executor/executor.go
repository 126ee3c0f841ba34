package executor

import (
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"quant_trading/internal/ledger"
	"quant_trading/internal/models"
)

var (
	metricOrdersFilled   = prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_orders_filled_total", Help: "Orders that reached FILLED"})
	metricOrdersRejected = prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_orders_rejected_total", Help: "Orders rejected by the executor"})
	metricOrdersExpired  = prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_orders_expired_total", Help: "Resting orders cancelled on TTL expiry"})
	metricRiskExits      = prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_risk_exits_total", Help: "Positions closed by risk transitions"})
)

func init() {
	prometheus.MustRegister(metricOrdersFilled, metricOrdersRejected, metricOrdersExpired, metricRiskExits)
}

// Config holds the transaction-cost model and the order book limits.
type Config struct {
	CommissionRate    float64
	FixedFee          float64
	SlippageRate      float64
	LotStep           float64 // quantity granularity, e.g. 1 share
	MinQty            float64 // smallest acceptable order quantity
	LimitOrderTTLBars int     // bars a resting order survives before expiry
}

// Executor converts weight deltas into orders and simulates their fills.
// It is the ledger's single writer.
type Executor struct {
	cfg Config
	led *ledger.Ledger

	seq     int
	resting []*models.Order // NEW limit/stop orders carried across bars
}

func New(cfg Config, led *ledger.Ledger) *Executor {
	if cfg.LotStep <= 0 {
		cfg.LotStep = 1
	}
	return &Executor{cfg: cfg, led: led}
}

func (e *Executor) nextID() string {
	e.seq++
	return fmt.Sprintf("ORD-%08d", e.seq)
}

// Execute turns target weight deltas into market orders and fills them at
// the bar close with slippage. Symbols are processed in sorted order so the
// trade log is deterministic. Rejections come back as REJECTED order
// records; they never raise.
func (e *Executor) Execute(ts time.Time, deltas map[string]float64, equity float64, bars map[string]models.Bar) ([]models.Trade, []models.Order) {
	symbols := make([]string, 0, len(deltas))
	for sym := range deltas {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var trades []models.Trade
	var orders []models.Order
	for _, sym := range symbols {
		delta := deltas[sym]
		bar, ok := bars[sym]
		if !ok || bar.Close <= 0 {
			continue
		}
		qty := e.roundLot(math.Abs(delta) * equity / bar.Close)
		if qty == 0 {
			continue
		}
		side := models.SideBuy
		if delta < 0 {
			side = models.SideSell
		}
		order := models.Order{
			ID:        e.nextID(),
			Symbol:    sym,
			Side:      side,
			Type:      models.OrderMarket,
			Quantity:  qty,
			Status:    models.OrderNew,
			CreatedAt: ts,
		}
		trade, rejected := e.fillMarket(&order, bar, ts, "REBALANCE", false)
		orders = append(orders, order)
		if rejected {
			continue
		}
		trades = append(trades, trade)
	}
	return trades, orders
}

// CloseNow liquidates a position at the bar close as a market order on
// behalf of a risk transition. Risk exits always fill: closing reduces
// exposure, so the cash and minimum-quantity checks do not apply.
func (e *Executor) CloseNow(ts time.Time, symbol, reason string, bar models.Bar) (models.Trade, error) {
	pos, ok := e.led.Position(symbol)
	if !ok || pos.Quantity == 0 {
		return models.Trade{}, &models.InvalidOrderError{Symbol: symbol, Reason: "no open position to close"}
	}
	side := models.SideSell
	if pos.Quantity < 0 {
		side = models.SideBuy
	}
	order := models.Order{
		ID:        e.nextID(),
		Symbol:    symbol,
		Side:      side,
		Type:      models.OrderMarket,
		Quantity:  math.Abs(pos.Quantity),
		Status:    models.OrderNew,
		Reason:    reason,
		CreatedAt: ts,
	}
	trade, rejected := e.fillMarket(&order, bar, ts, reason, true)
	if rejected {
		return models.Trade{}, &models.InvalidOrderError{Symbol: symbol, Reason: order.Reason}
	}
	metricRiskExits.Inc()
	return trade, nil
}

// Place accepts a limit or stop order that rests in the book until its
// price condition is met or its TTL expires. Malformed orders are rejected
// with an InvalidOrderError; nothing is booked.
func (e *Executor) Place(ts time.Time, symbol string, side models.Side, typ models.OrderType, qty, price float64) (models.Order, error) {
	if qty <= 0 {
		return models.Order{}, &models.InvalidOrderError{Symbol: symbol, Reason: "non-positive quantity"}
	}
	if typ != models.OrderLimit && typ != models.OrderStop {
		return models.Order{}, &models.InvalidOrderError{Symbol: symbol, Reason: fmt.Sprintf("unsupported resting order type %s", typ)}
	}
	if price <= 0 {
		return models.Order{}, &models.InvalidOrderError{Symbol: symbol, Reason: "non-positive price"}
	}
	order := &models.Order{
		ID:        e.nextID(),
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Quantity:  e.roundLot(qty),
		Status:    models.OrderNew,
		CreatedAt: ts,
		TTLBars:   e.cfg.LimitOrderTTLBars,
	}
	if typ == models.OrderLimit {
		order.LimitPrice = price
	} else {
		order.StopPrice = price
	}
	e.resting = append(e.resting, order)
	return *order, nil
}

// CheckResting walks the order book once per bar: limit orders fill when
// the bar's range crosses the limit price, stop orders trigger like market
// orders once price crosses the stop level, and stale orders expire.
func (e *Executor) CheckResting(ts time.Time, bars map[string]models.Bar) []models.Trade {
	var trades []models.Trade
	keep := e.resting[:0]
	for _, order := range e.resting {
		bar, ok := bars[order.Symbol]
		if !ok {
			keep = append(keep, order)
			continue
		}
		switch {
		case order.Type == models.OrderLimit && limitCrossed(order, bar):
			trade, rejected := e.fillAt(order, order.LimitPrice, 0, ts, "LIMIT")
			if !rejected {
				trades = append(trades, trade)
				continue
			}
		case order.Type == models.OrderStop && stopTriggered(order, bar):
			// From the trigger onward the order behaves like a market
			// order, so slippage applies against the stop level.
			fill := order.StopPrice * (1 + slippageSign(order.Side)*e.cfg.SlippageRate)
			trade, rejected := e.fillAt(order, fill, math.Abs(fill-order.StopPrice)*order.Quantity, ts, "STOP")
			if !rejected {
				trades = append(trades, trade)
				continue
			}
		}
		if order.Status == models.OrderRejected {
			continue
		}
		order.TTLBars--
		if order.TTLBars <= 0 {
			order.Status = models.OrderCancelled
			order.Reason = "TTL expired"
			metricOrdersExpired.Inc()
			log.Printf("⏳ Order %s (%s %s) expired unfilled", order.ID, order.Side, order.Symbol)
			continue
		}
		keep = append(keep, order)
	}
	e.resting = keep
	return trades
}

// OpenOrders returns copies of the resting order book.
func (e *Executor) OpenOrders() []models.Order {
	out := make([]models.Order, 0, len(e.resting))
	for _, o := range e.resting {
		out = append(out, *o)
	}
	return out
}

func (e *Executor) fillMarket(order *models.Order, bar models.Bar, ts time.Time, reason string, isClose bool) (models.Trade, bool) {
	fill := bar.Close * (1 + slippageSign(order.Side)*e.cfg.SlippageRate)
	slipCost := math.Abs(fill-bar.Close) * order.Quantity

	// A close only reduces exposure, so neither the minimum-quantity nor
	// the cash check may block it: a remainder below MinQty must still be
	// closable by a risk exit.
	if !isClose && order.Quantity < e.cfg.MinQty {
		return e.reject(order, "quantity below minimum lot"), true
	}
	commission := e.commission(order.Quantity, fill)
	if !isClose && order.Side == models.SideBuy && order.Quantity*fill+commission > e.led.Cash() {
		return e.reject(order, "insufficient cash"), true
	}

	realized := e.led.ApplyFill(order.Symbol, order.Side, order.Quantity, fill, commission, ts)
	order.Status = models.OrderFilled
	metricOrdersFilled.Inc()
	return models.Trade{
		OrderID:      order.ID,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Quantity:     order.Quantity,
		FillPrice:    fill,
		Commission:   commission,
		SlippageCost: slipCost,
		RealizedPL:   realized,
		Timestamp:    ts,
		Reason:       reason,
	}, false
}

func (e *Executor) fillAt(order *models.Order, fill, slipCost float64, ts time.Time, reason string) (models.Trade, bool) {
	if order.Quantity < e.cfg.MinQty {
		return e.reject(order, "quantity below minimum lot"), true
	}
	commission := e.commission(order.Quantity, fill)
	if order.Side == models.SideBuy && order.Quantity*fill+commission > e.led.Cash() {
		return e.reject(order, "insufficient cash"), true
	}
	realized := e.led.ApplyFill(order.Symbol, order.Side, order.Quantity, fill, commission, ts)
	order.Status = models.OrderFilled
	metricOrdersFilled.Inc()
	return models.Trade{
		OrderID:      order.ID,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Quantity:     order.Quantity,
		FillPrice:    fill,
		Commission:   commission,
		SlippageCost: slipCost,
		RealizedPL:   realized,
		Timestamp:    ts,
		Reason:       reason,
	}, false
}

func (e *Executor) reject(order *models.Order, reason string) models.Trade {
	order.Status = models.OrderRejected
	order.Reason = reason
	metricOrdersRejected.Inc()
	log.Printf("❌ Order %s rejected: %s %s x%.4f (%s)", order.ID, order.Side, order.Symbol, order.Quantity, reason)
	return models.Trade{}
}

// commission is max(fixed fee, notional * rate), computed in decimal to
// keep fee arithmetic exact at small rates.
func (e *Executor) commission(qty, price float64) float64 {
	notional := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price))
	c := notional.Mul(decimal.NewFromFloat(e.cfg.CommissionRate))
	if fixed := decimal.NewFromFloat(e.cfg.FixedFee); c.LessThan(fixed) {
		c = fixed
	}
	f, _ := c.Float64()
	return f
}

// roundLot floors a raw quantity down to the lot step.
func (e *Executor) roundLot(qty float64) float64 {
	step := decimal.NewFromFloat(e.cfg.LotStep)
	rounded := decimal.NewFromFloat(qty).Div(step).Floor().Mul(step)
	f, _ := rounded.Float64()
	return f
}

func slippageSign(side models.Side) float64 {
	if side == models.SideBuy {
		return 1
	}
	return -1
}

func limitCrossed(order *models.Order, bar models.Bar) bool {
	if order.Side == models.SideBuy {
		return bar.Low <= order.LimitPrice
	}
	return bar.High >= order.LimitPrice
}

func stopTriggered(order *models.Order, bar models.Bar) bool {
	if order.Side == models.SideBuy {
		return bar.High >= order.StopPrice
	}
	return bar.Low <= order.StopPrice
}
