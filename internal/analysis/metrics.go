package analysis

import (
	"math"

	"quant_trading/internal/models"
)

const annualFactor = 252 // trading days per year

// Metrics holds raw performance numbers for a run. Formatting them into a
// report is the consumer's job.
type Metrics struct {
	TotalReturn  float64
	AnnualReturn float64
	Volatility   float64
	SharpeRatio  float64
	SortinoRatio float64
	MaxDrawdown  float64
	WinRate      float64
	AvgWin       float64
	AvgLoss      float64
	ProfitFactor float64
	TotalTrades  int
}

// ComputeMetrics derives performance metrics from the equity curve and the
// trade log.
func ComputeMetrics(snapshots []models.PortfolioSnapshot, trades []models.Trade) Metrics {
	var m Metrics
	m.TotalTrades = len(trades)

	returns := equityReturns(snapshots)
	if len(returns) > 0 {
		growth := 1.0
		for _, r := range returns {
			growth *= 1 + r
		}
		m.TotalReturn = growth - 1
		m.AnnualReturn = math.Pow(growth, annualFactor/float64(len(returns))) - 1

		mean, sd := meanStd(returns)
		m.Volatility = sd * math.Sqrt(annualFactor)
		if sd > 0 {
			m.SharpeRatio = math.Sqrt(annualFactor) * mean / sd
		}
		if dsd := downsideStd(returns); dsd > 0 {
			m.SortinoRatio = math.Sqrt(annualFactor) * mean / dsd
		}
	}
	for _, s := range snapshots {
		if s.Drawdown > m.MaxDrawdown {
			m.MaxDrawdown = s.Drawdown
		}
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, t := range trades {
		switch {
		case t.RealizedPL > 0:
			wins++
			winSum += t.RealizedPL
		case t.RealizedPL < 0:
			losses++
			lossSum += t.RealizedPL
		}
	}
	closed := wins + losses
	if closed > 0 {
		m.WinRate = float64(wins) / float64(closed)
	}
	if wins > 0 {
		m.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = lossSum / float64(losses)
		m.ProfitFactor = math.Abs(winSum / lossSum)
	} else if wins > 0 {
		m.ProfitFactor = math.Inf(1)
	}
	return m
}

func equityReturns(snapshots []models.PortfolioSnapshot) []float64 {
	if len(snapshots) < 2 {
		return nil
	}
	out := make([]float64, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (snapshots[i].Equity-prev)/prev)
	}
	return out
}

func meanStd(xs []float64) (mean, sd float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var varsum float64
	for _, x := range xs {
		d := x - mean
		varsum += d * d
	}
	return mean, math.Sqrt(varsum / float64(len(xs)))
}

func downsideStd(xs []float64) float64 {
	var neg []float64
	for _, x := range xs {
		if x < 0 {
			neg = append(neg, x)
		}
	}
	_, sd := meanStd(neg)
	return sd
}
