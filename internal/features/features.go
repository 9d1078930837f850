// Package features computes the technical feature frame behind regime
// classification. It is a pure function of the candle sequence: same
// input, same output, no randomness.
package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/regimelab/regimecast/internal/model"
)

// Rolling window periods. The trainer persists the feature column order in
// the model registry, but the window arithmetic is shared here so trainer
// and worker can never diverge.
const (
	VolatilityWindow = 24
	SMAWindow        = 50
	RSIWindow        = 14
)

// Canonical feature column names as stored in model parameters.
const (
	ColLogReturn  = "log_return"
	ColVolatility = "volatility"
	ColSMA        = "sma"
	ColSMASlope   = "sma_slope"
	ColRSI        = "rsi"
)

// Row is the feature vector derived for one candle. Values inside the
// rolling warm-up prefix are NaN.
type Row struct {
	Timestamp  int64 // unix seconds, aligned with the source candle
	Close      float64
	LogReturn  float64
	Volatility float64
	SMA        float64
	SMASlope   float64
	RSI        float64
}

// Value returns the named feature from the row. Unknown names report
// ok=false so callers can reject drifted model parameters.
func (r Row) Value(col string) (float64, bool) {
	switch col {
	case ColLogReturn:
		return r.LogReturn, true
	case ColVolatility:
		return r.Volatility, true
	case ColSMA:
		return r.SMA, true
	case ColSMASlope:
		return r.SMASlope, true
	case ColRSI:
		return r.RSI, true
	}
	return math.NaN(), false
}

// Vector assembles the features named by cols, in order. The second return
// is false when a column name is unknown or any value is NaN.
func (r Row) Vector(cols []string) ([]float64, bool) {
	vec := make([]float64, len(cols))
	for i, col := range cols {
		v, ok := r.Value(col)
		if !ok || math.IsNaN(v) {
			return nil, false
		}
		vec[i] = v
	}
	return vec, true
}

// Frame is the per-candle feature sequence, oldest first.
type Frame []Row

// Latest returns the feature row of the newest candle.
func (f Frame) Latest() (Row, bool) {
	if len(f) == 0 {
		return Row{}, false
	}
	return f[len(f)-1], true
}

// Compute derives the feature frame from a candle sequence for one
// (symbol, timeframe). Input is sorted by time first if needed.
func Compute(candles []model.Candle) Frame {
	if len(candles) == 0 {
		return nil
	}

	cs := candles
	if !sort.SliceIsSorted(cs, func(i, j int) bool { return cs[i].Timestamp.Before(cs[j].Timestamp) }) {
		cs = make([]model.Candle, len(candles))
		copy(cs, candles)
		sort.Slice(cs, func(i, j int) bool { return cs[i].Timestamp.Before(cs[j].Timestamp) })
	}

	n := len(cs)
	closes := make([]float64, n)
	for i, c := range cs {
		closes[i] = c.Close
	}

	logReturns := logReturns(closes)
	vols := rollingStd(logReturns, VolatilityWindow)
	smas := rollingMean(closes, SMAWindow)
	rsis := rsi(closes, RSIWindow)

	frame := make(Frame, n)
	for i := range cs {
		slope := math.NaN()
		if i > 0 && !math.IsNaN(smas[i]) && !math.IsNaN(smas[i-1]) {
			slope = smas[i] - smas[i-1]
		}
		frame[i] = Row{
			Timestamp:  cs[i].Timestamp.Unix(),
			Close:      closes[i],
			LogReturn:  logReturns[i],
			Volatility: vols[i],
			SMA:        smas[i],
			SMASlope:   slope,
			RSI:        rsis[i],
		}
	}
	return frame
}

func logReturns(closes []float64) []float64 {
	out := make([]float64, len(closes))
	out[0] = math.NaN()
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = math.Log(closes[i] / closes[i-1])
	}
	return out
}

// rollingMean is the simple moving average over the trailing window,
// NaN until the window is full.
func rollingMean(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		if i+1 < window {
			out[i] = math.NaN()
			continue
		}
		out[i] = stat.Mean(xs[i+1-window:i+1], nil)
	}
	return out
}

// rollingStd is the trailing sample standard deviation; windows containing
// NaN stay NaN, matching the warm-up semantics of the source frame.
func rollingStd(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		if i+1 < window {
			out[i] = math.NaN()
			continue
		}
		win := xs[i+1-window : i+1]
		if hasNaN(win) {
			out[i] = math.NaN()
			continue
		}
		out[i] = stat.StdDev(win, nil)
	}
	return out
}

// rsi computes the 14-period relative strength index using simple rolling
// means of gains and losses. A zero mean loss yields RSI = 100.
func rsi(closes []float64, window int) []float64 {
	n := len(closes)
	gains := make([]float64, n)
	losses := make([]float64, n)
	gains[0], losses[0] = math.NaN(), math.NaN()
	for i := 1; i < n; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	out := make([]float64, n)
	for i := range closes {
		// Need window deltas, which start at index 1.
		if i < window {
			out[i] = math.NaN()
			continue
		}
		meanGain := stat.Mean(gains[i+1-window:i+1], nil)
		meanLoss := stat.Mean(losses[i+1-window:i+1], nil)
		if meanLoss == 0 {
			out[i] = 100
			continue
		}
		rs := meanGain / meanLoss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

func hasNaN(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}
