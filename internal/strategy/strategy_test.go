package strategy

import (
	"testing"

	"quant_trading/internal/analysis"
	"quant_trading/internal/models"
)

func row(sma20, sma50 float64) analysis.FeatureRow {
	return analysis.FeatureRow{Symbol: "AAPL", Timestamp: 1704153600, SMA20: sma20, SMA50: sma50}
}

func TestCrossoverDirection(t *testing.T) {
	rows := []analysis.FeatureRow{
		row(0, 0),     // warmup
		row(101, 100), // bullish
		row(99, 100),  // bearish
		row(100, 100), // no edge
	}
	sigs := MovingAverageCrossover{}.GenerateSignals(rows)
	want := []float64{0, 1, -1, 0}
	for i, w := range want {
		if sigs[i].Value != w {
			t.Errorf("signal[%d] = %v, want %v", i, sigs[i].Value, w)
		}
	}
	if sigs[0].Symbol != "AAPL" {
		t.Errorf("symbol not carried through: %+v", sigs[0])
	}
}

func TestEnsembleMajorityVote(t *testing.T) {
	rows := []analysis.FeatureRow{row(101, 100)}

	e := Ensemble{Strategies: []Strategy{
		MovingAverageCrossover{},
		MovingAverageCrossover{},
	}}
	sigs := e.GenerateSignals(rows)
	if sigs[0].Value != 1 {
		t.Errorf("unanimous vote = %v, want 1", sigs[0].Value)
	}
}

func TestEnsembleDisagreementIsFlat(t *testing.T) {
	rows := []analysis.FeatureRow{row(101, 100)}

	e := Ensemble{
		Strategies: []Strategy{MovingAverageCrossover{}, inverted{}},
	}
	sigs := e.GenerateSignals(rows)
	if sigs[0].Value != 0 {
		t.Errorf("split vote = %v, want 0", sigs[0].Value)
	}
}

func TestEnsembleExplicitWeights(t *testing.T) {
	rows := []analysis.FeatureRow{row(101, 100)}

	e := Ensemble{
		Strategies: []Strategy{MovingAverageCrossover{}, inverted{}},
		Weights:    []float64{0.9, 0.1},
	}
	sigs := e.GenerateSignals(rows)
	if sigs[0].Value != 1 {
		t.Errorf("weighted vote = %v, want 1", sigs[0].Value)
	}
}

// inverted negates the crossover signal, for exercising disagreement.
type inverted struct{}

func (inverted) GenerateSignals(rows []analysis.FeatureRow) []models.Signal {
	sigs := MovingAverageCrossover{}.GenerateSignals(rows)
	for i := range sigs {
		sigs[i].Value = -sigs[i].Value
	}
	return sigs
}
