package strategy

import (
	"time"

	"quant_trading/internal/analysis"
	"quant_trading/internal/models"
)

// Strategy produces one bounded signal per feature row. The engine only
// ever consumes signal tables; it never depends on a concrete variant, so
// rule-based, ML-backed and ensemble implementations are interchangeable.
type Strategy interface {
	GenerateSignals(rows []analysis.FeatureRow) []models.Signal
}

// MovingAverageCrossover signals long when the short SMA is above the long
// SMA and short when below. Rows inside the warmup window stay flat.
type MovingAverageCrossover struct{}

func (MovingAverageCrossover) GenerateSignals(rows []analysis.FeatureRow) []models.Signal {
	out := make([]models.Signal, len(rows))
	for i, r := range rows {
		sig := models.Signal{Symbol: r.Symbol, Timestamp: time.Unix(r.Timestamp, 0).UTC()}
		switch {
		case r.SMA20 == 0 || r.SMA50 == 0:
			// warmup, no opinion
		case r.SMA20 > r.SMA50:
			sig.Value = 1
		case r.SMA20 < r.SMA50:
			sig.Value = -1
		}
		out[i] = sig
	}
	return out
}

// Ensemble combines member strategies by weighted vote, thresholding the
// combined score at +-0.5 into a discrete signal.
type Ensemble struct {
	Strategies []Strategy
	Weights    []float64 // nil means equal weights
}

func (e Ensemble) GenerateSignals(rows []analysis.FeatureRow) []models.Signal {
	weights := e.Weights
	if weights == nil {
		weights = make([]float64, len(e.Strategies))
		for i := range weights {
			weights[i] = 1 / float64(len(e.Strategies))
		}
	}

	combined := make([]float64, len(rows))
	for i, s := range e.Strategies {
		for j, sig := range s.GenerateSignals(rows) {
			combined[j] += sig.Value * weights[i]
		}
	}

	out := make([]models.Signal, len(rows))
	for j, r := range rows {
		sig := models.Signal{Symbol: r.Symbol, Timestamp: time.Unix(r.Timestamp, 0).UTC()}
		switch {
		case combined[j] > 0.5:
			sig.Value = 1
		case combined[j] < -0.5:
			sig.Value = -1
		}
		out[j] = sig
	}
	return out
}
