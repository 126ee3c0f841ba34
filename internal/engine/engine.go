package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"quant_trading/config"
	"quant_trading/internal/analysis"
	"quant_trading/internal/executor"
	"quant_trading/internal/ledger"
	"quant_trading/internal/models"
	"quant_trading/internal/optimizer"
	"quant_trading/internal/risk"
)

// Frame is one simulation step's input: the bar close for every symbol
// that traded, plus the strategy signals for this timestamp. Symbols
// absent from Bars simply carry no data this step.
type Frame struct {
	Timestamp time.Time
	Bars      map[string]models.Bar
	Signals   map[string]float64
}

// Result is the completed run: the full audit trail plus summary figures.
type Result struct {
	RunID          string
	InitialCapital float64
	FinalEquity    float64
	TotalReturn    float64
	Snapshots      []models.PortfolioSnapshot
	Trades         []models.Trade
	Positions      []models.Position
	Cash           float64
}

// Engine replays bar frames strictly in sequence, driving the risk
// monitor, optimizer and executor in a fixed order each step. Two runs
// over identical frames produce identical trade logs.
type Engine struct {
	cfg  *config.Config
	led  *ledger.Ledger
	mon  *risk.Monitor
	opt  *optimizer.Optimizer
	exec *executor.Executor

	history     map[string][]float64 // rolling close prices per symbol
	prevWeights map[string]float64
	havePrev    bool

	snapshots []models.PortfolioSnapshot
	trades    []models.Trade
	lastTS    time.Time
}

func New(cfg *config.Config) *Engine {
	limits := risk.Limits{
		MaxPositionSize: cfg.MaxPositionSize,
		StopLossPct:     cfg.StopLossPct,
		TakeProfitPct:   cfg.TakeProfitPct,
		MaxDrawdownPct:  cfg.MaxDrawdownPct,
		MaxVolatility:   cfg.MaxVolatility,
		TargetReturn:    cfg.TargetReturn,
		RiskFreeRate:    cfg.RiskFreeRate,
		LongOnly:        cfg.LongOnly,
		LeverageCap:     cfg.LeverageCap,
	}
	led := ledger.NewLedger(cfg.InitialCapital)
	return &Engine{
		cfg: cfg,
		led: led,
		mon: risk.NewMonitor(limits, led),
		opt: optimizer.New(limits),
		exec: executor.New(executor.Config{
			CommissionRate:    cfg.CommissionRate,
			FixedFee:          cfg.FixedFee,
			SlippageRate:      cfg.SlippageRate,
			LotStep:           cfg.LotStep,
			MinQty:            cfg.MinQty,
			LimitOrderTTLBars: cfg.LimitOrderTTLBars,
		}, led),
		history: make(map[string][]float64),
	}
}

// Ledger exposes the run's ledger for inspection.
func (e *Engine) Ledger() *ledger.Ledger { return e.led }

// Run replays frames in order. Frames must carry strictly increasing
// timestamps; a violation, a missing price for an open position, or a
// ledger inconsistency aborts the run with the state recorded up to the
// last consistent step.
func (e *Engine) Run(ctx context.Context, frames []Frame) (*Result, error) {
	runID := uuid.NewString()
	log.Printf("🚀 Starting simulation %s: %d frames, initial capital %.2f", runID, len(frames), e.cfg.InitialCapital)
	e.mon.ObserveEquity(e.led.Equity())

	for _, frame := range frames {
		select {
		case <-ctx.Done():
			return e.result(runID), ctx.Err()
		default:
		}
		if !e.lastTS.IsZero() && !frame.Timestamp.After(e.lastTS) {
			return e.result(runID), fmt.Errorf("out-of-order frame: %s after %s", frame.Timestamp, e.lastTS)
		}
		e.lastTS = frame.Timestamp

		if err := e.step(frame); err != nil {
			log.Printf("💥 Simulation aborted at %s: %v", frame.Timestamp.Format(time.RFC3339), err)
			return e.result(runID), err
		}
	}

	res := e.result(runID)
	log.Printf("✅ Simulation complete: final equity %.2f (%.2f%%), %d trades", res.FinalEquity, res.TotalReturn*100, len(res.Trades))
	return res, nil
}

// step executes one frame in the fixed order: resting orders, risk
// evaluation and exits, moment estimation, target weights, rebalance
// fills, mark-to-market, consistency check, snapshot.
func (e *Engine) step(frame Frame) error {
	ts := frame.Timestamp
	var diags []string

	prices := make(map[string]float64, len(frame.Bars))
	for sym, bar := range frame.Bars {
		if bar.Close > 0 {
			prices[sym] = bar.Close
		}
	}

	// (a) resting limit/stop orders see the new bar first.
	e.trades = append(e.trades, e.exec.CheckResting(ts, frame.Bars)...)

	// (b) risk transitions, then their exit fills, before any rebalance.
	exits, err := e.mon.Evaluate(ts, prices)
	if err != nil {
		return err
	}
	for _, exit := range exits {
		bar, ok := frame.Bars[exit.Symbol]
		if !ok {
			return &models.InsufficientDataError{Symbol: exit.Symbol, Timestamp: ts, What: "bar for risk exit"}
		}
		trade, err := e.exec.CloseNow(ts, exit.Symbol, exit.Reason, bar)
		if err != nil {
			return err
		}
		log.Printf("🛑 %s closed (%s): %.4f @ %.4f, realized %.2f", exit.Symbol, exit.Reason, trade.Quantity, trade.FillPrice, trade.RealizedPL)
		e.trades = append(e.trades, trade)
	}

	// (c) roll the price history forward for the symbols present this bar.
	symbols := make([]string, 0, len(prices))
	for sym := range prices {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		h := append(e.history[sym], prices[sym])
		if max := e.cfg.ReturnLookback + 1; len(h) > max {
			h = h[len(h)-max:]
		}
		e.history[sym] = h
	}

	// Revalue open positions at the new closes before reading equity or
	// current weights; an unpriceable open position is fatal.
	if err := e.led.MarkToMarket(prices, ts); err != nil {
		return err
	}
	equity := e.led.Equity()

	// (d) target weights: estimate moments, solve, fall back on failure.
	target, tdiags := e.targetWeights(symbols, frame.Signals)
	diags = append(diags, tdiags...)

	// (e) rebalance toward the target from the post-exit weights.
	current := e.led.Weights()
	deltas := make(map[string]float64, len(target))
	for _, sym := range symbols {
		if d := target[sym] - current[sym]; d != 0 {
			deltas[sym] = d
		}
	}
	trades, orders := e.exec.Execute(ts, deltas, equity, frame.Bars)
	e.trades = append(e.trades, trades...)
	for _, o := range orders {
		if o.Status == models.OrderRejected {
			diags = append(diags, fmt.Sprintf("order %s rejected: %s", o.ID, o.Reason))
		}
	}

	// (f) final revaluation at the closes, then the equity cross-check.
	if err := e.led.MarkToMarket(prices, ts); err != nil {
		return err
	}
	if err := e.led.CheckConsistency(ts); err != nil {
		return err
	}

	// (g) record the step.
	equity = e.led.Equity()
	drawdown := e.mon.ObserveEquity(equity)
	// Merge, don't replace: a symbol skipping this bar keeps its last
	// target for the hold-previous fallbacks.
	if e.prevWeights == nil {
		e.prevWeights = make(map[string]float64)
	}
	for sym, w := range target {
		e.prevWeights[sym] = w
	}
	e.havePrev = true
	e.snapshots = append(e.snapshots, models.PortfolioSnapshot{
		Timestamp:   ts,
		Equity:      equity,
		Cash:        e.led.Cash(),
		Weights:     e.led.Weights(),
		PeakEquity:  e.mon.PeakEquity(),
		Drawdown:    drawdown,
		Diagnostics: diags,
	})
	return nil
}

// targetWeights estimates return moments over the lookback window and
// solves for target weights, with a bounded retry on infeasibility.
// Symbols without a signal or without enough history hold their previous
// weight while the rest proceed; an unsolvable problem degrades the whole
// allocation to the previous step's targets (equal-weight if no target
// exists yet).
func (e *Engine) targetWeights(symbols []string, signals map[string]float64) (map[string]float64, []string) {
	target := make(map[string]float64, len(symbols))
	var diags []string

	ready := make([]string, 0, len(symbols))
	var noSignal, shortHistory []string
	rets := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		// An absent signal is missing data, not a flat opinion; holding
		// the previous weight keeps the position instead of liquidating.
		if _, ok := signals[sym]; !ok {
			noSignal = append(noSignal, sym)
			target[sym] = e.prevWeights[sym]
			continue
		}
		r := analysis.Returns(e.history[sym])
		if len(r) < 2 {
			shortHistory = append(shortHistory, sym)
			target[sym] = e.prevWeights[sym]
			continue
		}
		ready = append(ready, sym)
		rets[sym] = r
	}
	if len(noSignal) > 0 {
		diags = append(diags, fmt.Sprintf("missing signal for %v, holding previous weights", noSignal))
	}
	if len(shortHistory) > 0 {
		diags = append(diags, fmt.Sprintf("insufficient history for %v, holding previous weights", shortHistory))
	}
	if len(ready) == 0 {
		return target, diags
	}

	mu, cov, ok := analysis.EstimateMoments(ready, rets, e.cfg.ReturnLookback)
	if !ok {
		for _, sym := range ready {
			target[sym] = e.prevWeights[sym]
		}
		return target, append(diags, "moment estimation failed, holding previous weights")
	}

	in := optimizer.Inputs{
		Symbols:         ready,
		ExpectedReturns: mu,
		Covariance:      cov,
		Signals:         signals,
		PrevWeights:     e.prevWeights,
	}

	b := &backoff.Backoff{Min: time.Millisecond, Max: 50 * time.Millisecond, Factor: 2}
	var lastErr error
	for attempt := 0; attempt <= e.cfg.SolverMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(b.Duration())
		}
		solved, err := e.opt.Optimize(in)
		if err == nil {
			for i, sym := range ready {
				w := solved[sym]
				if e.cfg.VolDamping {
					w /= 1 + math.Sqrt(cov.At(i, i))
				}
				target[sym] = w
			}
			return target, diags
		}
		lastErr = err
		var infeasible *optimizer.InfeasibleError
		if !errors.As(err, &infeasible) {
			break
		}
	}

	if !e.havePrev {
		ew := e.equalWeight(len(ready))
		for _, sym := range ready {
			target[sym] = ew
		}
		return target, append(diags, fmt.Sprintf("optimization failed (%v), using equal weights", lastErr))
	}
	for _, sym := range ready {
		target[sym] = e.prevWeights[sym]
	}
	return target, append(diags, fmt.Sprintf("optimization failed (%v), holding previous weights", lastErr))
}

// equalWeight is the first-step degraded allocation, respecting the
// position and leverage caps.
func (e *Engine) equalWeight(n int) float64 {
	w := 1 / float64(n)
	if lc := e.cfg.LeverageCap; lc > 0 && lc < 1 {
		w = lc / float64(n)
	}
	if w > e.cfg.MaxPositionSize {
		w = e.cfg.MaxPositionSize
	}
	return w
}

func (e *Engine) result(runID string) *Result {
	equity := e.led.Equity()
	total := 0.0
	if e.cfg.InitialCapital > 0 {
		total = equity/e.cfg.InitialCapital - 1
	}
	if math.IsNaN(total) {
		total = 0
	}
	return &Result{
		RunID:          runID,
		InitialCapital: e.cfg.InitialCapital,
		FinalEquity:    equity,
		TotalReturn:    total,
		Snapshots:      e.snapshots,
		Trades:         e.trades,
		Positions:      e.led.Positions(),
		Cash:           e.led.Cash(),
	}
}
