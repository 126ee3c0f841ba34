package analysis

import (
	"math"

	"quant_trading/internal/models"
)

// FeatureRow is one row of the feature table: a bar plus the indicator
// columns computed over the history up to and including it.
type FeatureRow struct {
	Symbol    string
	Timestamp int64 // unix seconds, matches the bar
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64

	SMA20      float64
	SMA50      float64
	RSI        float64
	BBUpper    float64
	BBLower    float64
	MACD       float64
	MACDSignal float64
	ATR        float64
	OBV        float64
}

// ComputeFeatures builds the feature table for one symbol's bar series.
// Rows before the longest warmup window carry zero-valued indicators.
func ComputeFeatures(bars []models.Bar) []FeatureRow {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	sma20 := rollingSMA(closes, 20)
	sma50 := rollingSMA(closes, 50)
	rsi := rollingRSI(closes, 14)
	macd, macdSignal := rollingMACD(closes)
	bbU, bbL := rollingBollinger(closes, 20, 2.0)
	atr := rollingATR(bars, 14)
	obv := rollingOBV(bars)

	rows := make([]FeatureRow, len(bars))
	for i, b := range bars {
		rows[i] = FeatureRow{
			Symbol:     b.Symbol,
			Timestamp:  b.Timestamp.Unix(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			SMA20:      sma20[i],
			SMA50:      sma50[i],
			RSI:        rsi[i],
			BBUpper:    bbU[i],
			BBLower:    bbL[i],
			MACD:       macd[i],
			MACDSignal: macdSignal[i],
			ATR:        atr[i],
			OBV:        obv[i],
		}
	}
	return rows
}

func rollingSMA(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	var sum float64
	for i, p := range prices {
		sum += p
		if i >= period {
			sum -= prices[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

func rollingEMA(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	if len(prices) == 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	ema := prices[0]
	for i, p := range prices {
		if i == 0 {
			out[i] = ema
			continue
		}
		ema = p*k + ema*(1-k)
		out[i] = ema
	}
	return out
}

// rollingRSI uses Wilder smoothing over gains and losses.
func rollingRSI(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	if len(prices) <= period {
		return out
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)
	for i := period + 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// rollingMACD is the standard 12/26 EMA difference with a 9-period signal.
func rollingMACD(prices []float64) (macd, signal []float64) {
	fast := rollingEMA(prices, 12)
	slow := rollingEMA(prices, 26)
	macd = make([]float64, len(prices))
	for i := range prices {
		macd[i] = fast[i] - slow[i]
	}
	signal = rollingEMA(macd, 9)
	return macd, signal
}

func rollingBollinger(prices []float64, period int, width float64) (upper, lower []float64) {
	upper = make([]float64, len(prices))
	lower = make([]float64, len(prices))
	sma := rollingSMA(prices, period)
	for i := period - 1; i < len(prices); i++ {
		var varsum float64
		for j := i - period + 1; j <= i; j++ {
			d := prices[j] - sma[i]
			varsum += d * d
		}
		sd := math.Sqrt(varsum / float64(period))
		upper[i] = sma[i] + width*sd
		lower[i] = sma[i] - width*sd
	}
	return upper, lower
}

func rollingATR(bars []models.Bar, period int) []float64 {
	out := make([]float64, len(bars))
	if len(bars) <= period {
		return out
	}
	tr := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	var sum float64
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	out[period] = atr
	for i := period + 1; i < len(bars); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}

func rollingOBV(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	var obv float64
	for i := 1; i < len(bars); i++ {
		switch {
		case bars[i].Close > bars[i-1].Close:
			obv += bars[i].Volume
		case bars[i].Close < bars[i-1].Close:
			obv -= bars[i].Volume
		}
		out[i] = obv
	}
	return out
}
