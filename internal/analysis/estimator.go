package analysis

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// EstimateMoments computes per-symbol mean returns and the sample
// covariance matrix from aligned return histories, using the most recent
// `lookback` observations. Histories must be index-aligned across symbols;
// ok is false until at least two aligned observations exist, since a
// covariance cannot be estimated from fewer.
func EstimateMoments(symbols []string, history map[string][]float64, lookback int) (mu map[string]float64, cov *mat.SymDense, ok bool) {
	n := len(symbols)
	if n == 0 {
		return nil, nil, false
	}
	rows := -1
	for _, sym := range symbols {
		h := history[sym]
		if rows < 0 || len(h) < rows {
			rows = len(h)
		}
	}
	if rows > lookback {
		rows = lookback
	}
	if rows < 2 {
		return nil, nil, false
	}

	mu = make(map[string]float64, n)
	samples := mat.NewDense(rows, n, nil)
	for j, sym := range symbols {
		h := history[sym]
		window := h[len(h)-rows:]
		mu[sym] = stat.Mean(window, nil)
		for i, r := range window {
			samples.Set(i, j, r)
		}
	}
	cov = mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, samples, nil)
	return mu, cov, true
}

// Returns converts a close-price series into simple period returns.
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (closes[i]-closes[i-1])/closes[i-1])
	}
	return out
}
