package optimizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"quant_trading/internal/risk"
)

// InfeasibleError signals that the constraint set has no solution (singular
// covariance, unreachable target return, empty feasible region). The caller
// recovers by falling back to the previous step's weights; this error never
// aborts a run on its own.
type InfeasibleError struct {
	Reason string
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("optimization infeasible: %s", e.Reason)
}

// Inputs carries one step's optimization problem. Symbols fixes the
// iteration order so results are invariant to map ordering; Covariance is
// indexed in the same order.
type Inputs struct {
	Symbols         []string
	ExpectedReturns map[string]float64
	Covariance      *mat.SymDense
	Signals         map[string]float64
	PrevWeights     map[string]float64
}

// Optimizer computes target portfolio weights by constrained mean-variance
// optimization. Stateless: every call depends only on its inputs, so the
// per-step solve may run on copied data without affecting determinism.
type Optimizer struct {
	limits       risk.Limits
	riskAversion float64

	// Turnover controls. Weight changes below deadBand are suppressed, and
	// the previous weights win outright when their objective is within
	// tieTol of the candidate's.
	deadBand float64
	tieTol   float64
}

func New(limits risk.Limits) *Optimizer {
	return &Optimizer{
		limits:       limits,
		riskAversion: deriveRiskAversion(limits),
		deadBand:     1e-4,
		tieTol:       1e-9,
	}
}

// deriveRiskAversion maps the configured risk appetite onto the lambda of
// the mean-variance objective. A tighter volatility cap or a smaller excess
// target return both mean a more risk-averse solve.
func deriveRiskAversion(l risk.Limits) float64 {
	if l.MaxVolatility > 0 {
		return 1 / (2 * l.MaxVolatility * l.MaxVolatility)
	}
	if l.TargetReturn > l.RiskFreeRate {
		return 1 / (2 * (l.TargetReturn - l.RiskFreeRate))
	}
	return 2.0
}

// Optimize returns target weights per symbol. Signals tilt expected returns
// multiplicatively before the solve: a flat signal removes the symbol's
// edge entirely, a full-conviction signal passes it through unchanged.
// Constraints: |w_i| <= MaxPositionSize (w_i >= 0 when long-only),
// sum(|w|) <= LeverageCap, and portfolio volatility <= MaxVolatility when
// configured. Ties against the previous weights are broken in favor of the
// lower-turnover portfolio.
func (o *Optimizer) Optimize(in Inputs) (map[string]float64, error) {
	n := len(in.Symbols)
	if n == 0 {
		return map[string]float64{}, nil
	}
	if in.Covariance == nil || in.Covariance.SymmetricDim() != n {
		return nil, &InfeasibleError{Reason: "covariance dimension mismatch"}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(in.Covariance); !ok {
		return nil, &InfeasibleError{Reason: "covariance matrix is singular"}
	}

	mu := mat.NewVecDense(n, nil)
	for i, sym := range in.Symbols {
		s := clamp(in.Signals[sym], -1, 1)
		mu.SetVec(i, in.ExpectedReturns[sym]*s)
	}

	w := mat.NewVecDense(n, nil)
	if allZero(mu) {
		// No edge anywhere: the optimum under any risk penalty is flat.
		return o.finish(in, w, mu), nil
	}

	base := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(base, mu); err != nil {
		return nil, &InfeasibleError{Reason: "covariance solve failed: " + err.Error()}
	}

	if o.limits.TargetReturn > 0 {
		// Minimum-variance portfolio achieving the target expected return:
		// w = t * inv(Sigma) mu / (mu' inv(Sigma) mu).
		denom := mat.Dot(mu, base)
		if denom <= 0 {
			return nil, &InfeasibleError{Reason: "target return unreachable"}
		}
		w.ScaleVec(o.limits.TargetReturn/denom, base)
	} else {
		w.ScaleVec(1/(2*o.riskAversion), base)
	}

	// Quadratic constraint: cap portfolio volatility by uniform shrink,
	// which preserves the direction of the unconstrained optimum.
	if o.limits.MaxVolatility > 0 {
		if vol := math.Sqrt(mat.Inner(w, in.Covariance, w)); vol > o.limits.MaxVolatility {
			w.ScaleVec(o.limits.MaxVolatility/vol, w)
		}
	}

	o.project(w)

	if o.limits.TargetReturn > 0 {
		if got := mat.Dot(mu, w); got < o.limits.TargetReturn-1e-9 {
			return nil, &InfeasibleError{Reason: "target return conflicts with weight bounds"}
		}
	}

	return o.finish(in, w, mu), nil
}

// project clamps weights into the box and scales gross exposure down to the
// leverage cap. Scaling toward zero cannot violate the box again.
func (o *Optimizer) project(w *mat.VecDense) {
	lo := -o.limits.MaxPositionSize
	if o.limits.LongOnly {
		lo = 0
	}
	gross := 0.0
	for i := 0; i < w.Len(); i++ {
		v := clamp(w.AtVec(i), lo, o.limits.MaxPositionSize)
		w.SetVec(i, v)
		gross += math.Abs(v)
	}
	grossCap := o.limits.LeverageCap
	if grossCap <= 0 {
		grossCap = 1
	}
	if gross > grossCap {
		w.ScaleVec(grossCap/gross, w)
	}
}

// finish applies the turnover controls against the previous weights and
// converts the solution back to a symbol-keyed map.
func (o *Optimizer) finish(in Inputs, w, mu *mat.VecDense) map[string]float64 {
	n := len(in.Symbols)

	if in.PrevWeights != nil {
		prev := mat.NewVecDense(n, nil)
		lo := -o.limits.MaxPositionSize
		if o.limits.LongOnly {
			lo = 0
		}
		for i, sym := range in.Symbols {
			prev.SetVec(i, clamp(in.PrevWeights[sym], lo, o.limits.MaxPositionSize))
		}

		// Whole-portfolio tie-break: equal scores go to the allocation
		// with zero turnover.
		if o.objective(prev, mu, in.Covariance) >= o.objective(w, mu, in.Covariance)-o.tieTol {
			w.CopyVec(prev)
		} else {
			// Per-symbol dead band: suppress dust rebalances.
			for i := 0; i < n; i++ {
				if math.Abs(w.AtVec(i)-prev.AtVec(i)) < o.deadBand {
					w.SetVec(i, prev.AtVec(i))
				}
			}
		}
	}

	out := make(map[string]float64, n)
	for i, sym := range in.Symbols {
		out[sym] = w.AtVec(i)
	}
	return out
}

func (o *Optimizer) objective(w, mu *mat.VecDense, sigma *mat.SymDense) float64 {
	return mat.Dot(mu, w) - o.riskAversion*mat.Inner(w, sigma, w)
}

func allZero(v *mat.VecDense) bool {
	for i := 0; i < v.Len(); i++ {
		if v.AtVec(i) != 0 {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
