package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"quant_trading/config"
	"quant_trading/internal/analysis"
	"quant_trading/internal/engine"
	"quant_trading/internal/models"
	"quant_trading/internal/storage"
	"quant_trading/internal/strategy"
)

func main() {
	cfg := config.Load()
	log.Printf("📋 Config: capital %.2f, commission %.4f, slippage %.4f, max position %.2f", cfg.InitialCapital, cfg.CommissionRate, cfg.SlippageRate, cfg.MaxPositionSize)

	bars, err := storage.LoadBars(cfg.DataFile)
	if err != nil {
		log.Fatalf("❌ Failed to load bars: %v", err)
	}
	log.Printf("📊 Loaded %d bars from %s", len(bars), cfg.DataFile)

	strat := strategy.Ensemble{Strategies: []strategy.Strategy{strategy.MovingAverageCrossover{}}}
	frames := buildFrames(bars, strat)
	log.Printf("🧮 Built %d frames across %d symbols", len(frames), countSymbols(bars))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg)
	result, err := eng.Run(ctx, frames)
	if err != nil {
		log.Fatalf("❌ Simulation failed: %v", err)
	}

	if err := writeOutputs(cfg, result); err != nil {
		log.Fatalf("❌ Failed to write outputs: %v", err)
	}

	metrics := analysis.ComputeMetrics(result.Snapshots, result.Trades)
	log.Printf("📈 Run %s summary:", result.RunID)
	log.Printf("   Total return:  %.2f%%", metrics.TotalReturn*100)
	log.Printf("   Annual return: %.2f%%", metrics.AnnualReturn*100)
	log.Printf("   Volatility:    %.2f%%", metrics.Volatility*100)
	log.Printf("   Sharpe:        %.2f  Sortino: %.2f", metrics.SharpeRatio, metrics.SortinoRatio)
	log.Printf("   Max drawdown:  %.2f%%", metrics.MaxDrawdown*100)
	log.Printf("   Trades:        %d (win rate %.1f%%, profit factor %.2f)", metrics.TotalTrades, metrics.WinRate*100, metrics.ProfitFactor)
}

// buildFrames computes per-symbol features, runs the strategy over them
// and regroups everything by timestamp for sequential replay.
func buildFrames(bars []models.Bar, strat strategy.Strategy) []engine.Frame {
	bySymbol := make(map[string][]models.Bar)
	for _, b := range bars {
		bySymbol[b.Symbol] = append(bySymbol[b.Symbol], b)
	}

	signals := make(map[time.Time]map[string]float64)
	for sym, series := range bySymbol {
		rows := analysis.ComputeFeatures(series)
		for _, sig := range strat.GenerateSignals(rows) {
			if signals[sig.Timestamp] == nil {
				signals[sig.Timestamp] = make(map[string]float64)
			}
			signals[sig.Timestamp][sym] = sig.Value
		}
	}

	byTS := make(map[time.Time]map[string]models.Bar)
	for _, b := range bars {
		if byTS[b.Timestamp] == nil {
			byTS[b.Timestamp] = make(map[string]models.Bar)
		}
		byTS[b.Timestamp][b.Symbol] = b
	}

	stamps := make([]time.Time, 0, len(byTS))
	for ts := range byTS {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	frames := make([]engine.Frame, 0, len(stamps))
	for _, ts := range stamps {
		sig := signals[ts]
		if sig == nil {
			sig = map[string]float64{}
		}
		frames = append(frames, engine.Frame{Timestamp: ts, Bars: byTS[ts], Signals: sig})
	}
	return frames
}

func writeOutputs(cfg *config.Config, result *engine.Result) error {
	tw, err := storage.NewTradeWriter(cfg.TradeLogPath)
	if err != nil {
		return err
	}
	defer tw.Close()
	for _, t := range result.Trades {
		if err := tw.Write(t); err != nil {
			return err
		}
	}

	ew, err := storage.NewEquityWriter(cfg.EquityLogPath)
	if err != nil {
		return err
	}
	defer ew.Close()
	for _, s := range result.Snapshots {
		if err := ew.Write(s); err != nil {
			return err
		}
	}
	log.Printf("💾 Wrote %d trades to %s and %d snapshots to %s", len(result.Trades), cfg.TradeLogPath, len(result.Snapshots), cfg.EquityLogPath)
	return nil
}

func countSymbols(bars []models.Bar) int {
	set := make(map[string]struct{})
	for _, b := range bars {
		set[b.Symbol] = struct{}{}
	}
	return len(set)
}
