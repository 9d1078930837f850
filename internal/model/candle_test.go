package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandleValidate(t *testing.T) {
	base := Candle{
		EventType: EventCandleClose,
		Symbol:    "BTC-USD",
		Exchange:  "BINANCE",
		Timestamp: time.Date(2023, 10, 27, 12, 0, 0, 0, time.UTC),
		Open:      34000, High: 34100, Low: 33900, Close: 34050,
		Volume:    105.5,
		Timeframe: "1h",
	}

	assert.NoError(t, base.Validate())

	bad := base
	bad.Low = 34200 // above open/close
	assert.Error(t, bad.Validate())

	bad = base
	bad.High = 33000
	assert.Error(t, bad.Validate())

	bad = base
	bad.Volume = -1
	assert.Error(t, bad.Validate())

	bad = base
	bad.Symbol = ""
	assert.Error(t, bad.Validate())
}

func TestCandleValidateTimestampAlignment(t *testing.T) {
	base := Candle{
		EventType: EventCandleClose,
		Symbol:    "BTC-USD",
		Exchange:  "BINANCE",
		Timestamp: time.Date(2023, 10, 27, 12, 0, 0, 0, time.UTC),
		Open:      34000, High: 34100, Low: 33900, Close: 34050,
		Volume:    105.5,
		Timeframe: "1h",
	}
	assert.NoError(t, base.Validate())

	// An hourly candle opening mid-hour is off the interval grid.
	bad := base
	bad.Timestamp = time.Date(2023, 10, 27, 12, 30, 0, 0, time.UTC)
	assert.Error(t, bad.Validate())

	// 12:30 sits on the 15-minute grid.
	ok := bad
	ok.Timeframe = "15m"
	assert.NoError(t, ok.Validate())

	ok = base
	ok.Timeframe = "1d"
	ok.Timestamp = time.Date(2023, 10, 27, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, ok.Validate())

	bad = ok
	bad.Timestamp = time.Date(2023, 10, 27, 12, 0, 0, 0, time.UTC)
	assert.Error(t, bad.Validate())

	// Unrecognized interval codes skip the alignment check.
	ok = base
	ok.Timeframe = "weekly"
	ok.Timestamp = time.Date(2023, 10, 27, 12, 7, 3, 0, time.UTC)
	assert.NoError(t, ok.Validate())
}

func TestModelParametersLabels(t *testing.T) {
	p := ModelParameters{
		FeatureCols: []string{"log_return", "volatility", "rsi"},
		ScalerMean:  []float64{0, 0, 50},
		ScalerScale: []float64{1, 1, 10},
		Centroids:   [][]float64{{0, 0, 0}, {1, 1, 1}},
		Labels:      map[int]string{0: "PANIC"},
	}
	require.NoError(t, p.Validate())

	assert.Equal(t, "PANIC", p.Label(0))
	assert.Equal(t, "CLUSTER_1", p.Label(1))
}

func TestModelParametersJSONRoundTrip(t *testing.T) {
	// The registry stores labels keyed by centroid index; JSONB serializes
	// integer keys as strings and they must come back intact.
	p := ModelParameters{
		FeatureCols: []string{"log_return", "volatility", "rsi"},
		ScalerMean:  []float64{0.001, 0.02, 55},
		ScalerScale: []float64{0.01, 0.005, 12},
		Centroids:   [][]float64{{-1, 2, 0.5}, {0.2, -0.3, 1}},
		Labels:      map[int]string{0: "PANIC", 1: "BULL"},
	}

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var back ModelParameters
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, p, back)
}

func TestModelParametersValidateDims(t *testing.T) {
	p := ModelParameters{
		FeatureCols: []string{"a", "b"},
		ScalerMean:  []float64{0},
		ScalerScale: []float64{1, 1},
		Centroids:   [][]float64{{0, 0}},
	}
	assert.Error(t, p.Validate())

	p.ScalerMean = []float64{0, 0}
	p.Centroids = [][]float64{{0}}
	assert.Error(t, p.Validate())
}
