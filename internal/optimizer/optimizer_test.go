package optimizer

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"quant_trading/internal/risk"
)

func testLimits() risk.Limits {
	return risk.Limits{
		MaxPositionSize: 0.25,
		LongOnly:        true,
		LeverageCap:     1,
	}
}

func diagCov(vars ...float64) *mat.SymDense {
	n := len(vars)
	cov := mat.NewSymDense(n, nil)
	for i, v := range vars {
		cov.SetSym(i, i, v)
	}
	return cov
}

func TestFlatSignalYieldsZeroWeight(t *testing.T) {
	o := New(testLimits())
	w, err := o.Optimize(Inputs{
		Symbols:         []string{"AAPL"},
		ExpectedReturns: map[string]float64{"AAPL": 0.1},
		Covariance:      diagCov(0.04),
		Signals:         map[string]float64{"AAPL": 0},
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if w["AAPL"] != 0 {
		t.Errorf("weight with flat signal = %v, want 0", w["AAPL"])
	}
}

func TestWeightClampedToPositionCap(t *testing.T) {
	o := New(testLimits())
	w, err := o.Optimize(Inputs{
		Symbols:         []string{"AAPL"},
		ExpectedReturns: map[string]float64{"AAPL": 0.1},
		Covariance:      diagCov(0.04),
		Signals:         map[string]float64{"AAPL": 1},
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	// Unconstrained optimum is 0.1/(0.04*4) = 0.625, box-clamped to the cap.
	if math.Abs(w["AAPL"]-0.25) > 1e-12 {
		t.Errorf("weight = %v, want 0.25", w["AAPL"])
	}
}

func TestLongOnlyClampsNegativeEdge(t *testing.T) {
	o := New(testLimits())
	w, err := o.Optimize(Inputs{
		Symbols:         []string{"AAPL"},
		ExpectedReturns: map[string]float64{"AAPL": 0.1},
		Covariance:      diagCov(0.04),
		Signals:         map[string]float64{"AAPL": -1},
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if w["AAPL"] != 0 {
		t.Errorf("long-only weight on negative edge = %v, want 0", w["AAPL"])
	}
}

func TestShortAllowedWhenNotLongOnly(t *testing.T) {
	limits := testLimits()
	limits.LongOnly = false
	o := New(limits)
	w, err := o.Optimize(Inputs{
		Symbols:         []string{"AAPL"},
		ExpectedReturns: map[string]float64{"AAPL": 0.1},
		Covariance:      diagCov(0.04),
		Signals:         map[string]float64{"AAPL": -1},
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if math.Abs(w["AAPL"]-(-0.25)) > 1e-12 {
		t.Errorf("weight = %v, want -0.25", w["AAPL"])
	}
}

func TestSingularCovarianceIsInfeasible(t *testing.T) {
	o := New(testLimits())
	cov := mat.NewSymDense(2, []float64{
		0.04, 0.04,
		0.04, 0.04,
	})
	_, err := o.Optimize(Inputs{
		Symbols:         []string{"AAPL", "MSFT"},
		ExpectedReturns: map[string]float64{"AAPL": 0.1, "MSFT": 0.1},
		Covariance:      cov,
		Signals:         map[string]float64{"AAPL": 1, "MSFT": 1},
	})
	var infeasible *InfeasibleError
	if !errors.As(err, &infeasible) {
		t.Fatalf("error = %v, want *InfeasibleError", err)
	}
}

func TestDimensionMismatchIsInfeasible(t *testing.T) {
	o := New(testLimits())
	_, err := o.Optimize(Inputs{
		Symbols:         []string{"AAPL", "MSFT"},
		ExpectedReturns: map[string]float64{"AAPL": 0.1, "MSFT": 0.1},
		Covariance:      diagCov(0.04),
		Signals:         map[string]float64{"AAPL": 1, "MSFT": 1},
	})
	var infeasible *InfeasibleError
	if !errors.As(err, &infeasible) {
		t.Fatalf("error = %v, want *InfeasibleError", err)
	}
}

func TestLeverageCapScalesGrossExposure(t *testing.T) {
	limits := testLimits()
	limits.LeverageCap = 0.3
	o := New(limits)
	w, err := o.Optimize(Inputs{
		Symbols:         []string{"AAPL", "MSFT"},
		ExpectedReturns: map[string]float64{"AAPL": 0.1, "MSFT": 0.1},
		Covariance:      diagCov(0.04, 0.04),
		Signals:         map[string]float64{"AAPL": 1, "MSFT": 1},
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	// Both clamp to 0.25, gross 0.5 scales down to the 0.3 cap.
	for _, sym := range []string{"AAPL", "MSFT"} {
		if math.Abs(w[sym]-0.15) > 1e-12 {
			t.Errorf("weight[%s] = %v, want 0.15", sym, w[sym])
		}
	}
}

func TestVolatilityCapShrinksWeights(t *testing.T) {
	limits := testLimits()
	limits.MaxPositionSize = 1
	limits.MaxVolatility = 0.05
	o := New(limits)
	w, err := o.Optimize(Inputs{
		Symbols:         []string{"AAPL"},
		ExpectedReturns: map[string]float64{"AAPL": 0.5},
		Covariance:      diagCov(0.0004),
		Signals:         map[string]float64{"AAPL": 1},
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	vol := math.Abs(w["AAPL"]) * 0.02 // sqrt(w^2 * 0.0004)
	if vol > limits.MaxVolatility+1e-12 {
		t.Errorf("portfolio vol = %v exceeds cap %v", vol, limits.MaxVolatility)
	}
	if w["AAPL"] > limits.MaxPositionSize {
		t.Errorf("weight = %v exceeds position cap", w["AAPL"])
	}
}

func TestTurnoverTieBreakKeepsPreviousWeights(t *testing.T) {
	o := New(testLimits())
	in := Inputs{
		Symbols:         []string{"AAPL", "MSFT"},
		ExpectedReturns: map[string]float64{"AAPL": 0.1, "MSFT": 0.08},
		Covariance:      diagCov(0.04, 0.05),
		Signals:         map[string]float64{"AAPL": 1, "MSFT": 1},
	}
	first, err := o.Optimize(in)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	in.PrevWeights = first
	second, err := o.Optimize(in)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	for sym, w := range first {
		if second[sym] != w {
			t.Errorf("re-solve moved %s from %v to %v despite equal objective", sym, w, second[sym])
		}
	}
}

func TestDeadBandSuppressesDustRebalance(t *testing.T) {
	o := New(testLimits())
	in := Inputs{
		Symbols:         []string{"AAPL"},
		ExpectedReturns: map[string]float64{"AAPL": 0.01},
		Covariance:      diagCov(0.04),
		Signals:         map[string]float64{"AAPL": 1},
	}
	first, err := o.Optimize(in)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	prev := first["AAPL"] + 5e-5 // inside the dead band
	in.PrevWeights = map[string]float64{"AAPL": prev}
	second, err := o.Optimize(in)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if second["AAPL"] != prev {
		t.Errorf("dust rebalance not suppressed: got %v, want %v", second["AAPL"], prev)
	}
}

func TestEmptyUniverse(t *testing.T) {
	o := New(testLimits())
	w, err := o.Optimize(Inputs{})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(w) != 0 {
		t.Errorf("weights for empty universe: %v", w)
	}
}
