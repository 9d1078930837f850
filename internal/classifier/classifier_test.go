package classifier

import (
	"context"
	"errors"
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regimelab/regimecast/internal/config"
	"github.com/regimelab/regimecast/internal/features"
	"github.com/regimelab/regimecast/internal/model"
)

var labelPattern = regexp.MustCompile(`^(BULL|BEAR|SIDEWAYS)_(HIGH|LOW)_VOL$`)

type stubModels struct {
	rec *model.ModelRecord
	err error
}

func (s *stubModels) Active(ctx context.Context) (*model.ModelRecord, error) {
	return s.rec, s.err
}

func ruleConfig() config.Classifier {
	return config.Classifier{
		Mode:                config.ModeRuleBased,
		VolatilityThreshold: 0.02,
		TrendThreshold:      0.0,
		HistoryWindow:       100,
	}
}

// candlesFromCloses builds hourly candles around a close series.
func candlesFromCloses(closes []float64) []model.Candle {
	start := time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{
			EventType: model.EventCandleClose,
			Symbol:    "BTC-USD",
			Exchange:  "BINANCE",
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c * 1.001,
			Low:       c * 0.999,
			Close:     c,
			Volume:    100,
			Timeframe: "1h",
		}
	}
	return out
}

// volatileUptrend climbs hard with alternating pullbacks so both the SMA
// slope and the rolling volatility clear their thresholds.
func volatileUptrend(n int) []model.Candle {
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		if i%2 == 0 {
			price *= 1.08
		} else {
			price *= 0.99
		}
		closes[i] = price
	}
	return candlesFromCloses(closes)
}

func flatSeries(n int) []model.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100.0
	}
	return candlesFromCloses(closes)
}

func TestClassifyRuleBasedBullHighVol(t *testing.T) {
	cls := New(ruleConfig(), &stubModels{})
	result, err := cls.Classify(context.Background(), volatileUptrend(60))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "BULL_HIGH_VOL", result.RegimeLabel)
	assert.Equal(t, "BTC-USD", result.Symbol)
	assert.Nil(t, result.RegimeID)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Greater(t, result.Metrics.TrendScore, 0.0)
	assert.Greater(t, result.Metrics.Volatility, 0.02)
	assert.Regexp(t, labelPattern, result.RegimeLabel)
}

func TestClassifyRuleBasedSidewaysLowVol(t *testing.T) {
	cls := New(ruleConfig(), &stubModels{})
	result, err := cls.Classify(context.Background(), flatSeries(60))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "SIDEWAYS_LOW_VOL", result.RegimeLabel)
	assert.Regexp(t, labelPattern, result.RegimeLabel)
}

func TestClassifyInsufficientHistory(t *testing.T) {
	cls := New(ruleConfig(), &stubModels{})

	result, err := cls.Classify(context.Background(), volatileUptrend(10))
	require.NoError(t, err)
	assert.Nil(t, result, "volatility window not warmed up")

	result, err = cls.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func mlConfig() config.Classifier {
	cfg := ruleConfig()
	cfg.Mode = config.ModeMLClustering
	return cfg
}

func TestClassifyMLNearestCentroid(t *testing.T) {
	candles := volatileUptrend(60)

	// Anchor the scaler on the actual latest feature vector so the
	// standardized point sits at the origin and the centroid distances
	// are exact.
	frame := features.Compute(candles)
	state, ok := frame.Latest()
	require.True(t, ok)
	cols := []string{features.ColLogReturn, features.ColVolatility, features.ColRSI}
	vec, ok := state.Vector(cols)
	require.True(t, ok)

	params := model.ModelParameters{
		FeatureCols: cols,
		ScalerMean:  vec,
		ScalerScale: []float64{1, 1, 1},
		Centroids: [][]float64{
			{3, 3, 3},
			{0.1, 0.1, 5},
			{-8, -8, -8},
			{10, 10, 10},
		},
		Labels: map[int]string{0: "BULL", 1: "PANIC", 2: "BEAR", 3: "REGIME_3"},
	}
	models := &stubModels{rec: &model.ModelRecord{ID: 7, Algorithm: "KMeans", Parameters: params, IsActive: true}}

	cls := New(mlConfig(), models)
	result, err := cls.Classify(context.Background(), candles)
	require.NoError(t, err)
	require.NotNil(t, result)

	wantDist := math.Sqrt(0.1*0.1 + 0.1*0.1 + 5*5)
	require.NotNil(t, result.RegimeID)
	assert.Equal(t, 1, *result.RegimeID)
	assert.Equal(t, "PANIC", result.RegimeLabel)
	assert.InDelta(t, 1/(1+wantDist), result.Confidence, 1e-9)
}

func TestClassifyMLZeroScaleGuard(t *testing.T) {
	candles := volatileUptrend(60)
	frame := features.Compute(candles)
	state, _ := frame.Latest()
	cols := []string{features.ColLogReturn, features.ColVolatility}
	vec, ok := state.Vector(cols)
	require.True(t, ok)

	params := model.ModelParameters{
		FeatureCols: cols,
		ScalerMean:  vec,
		ScalerScale: []float64{0, 0}, // degenerate scaler must not divide by zero
		Centroids:   [][]float64{{0, 0}, {5, 5}},
		Labels:      map[int]string{0: "SIDEWAYS", 1: "BULL"},
	}
	models := &stubModels{rec: &model.ModelRecord{ID: 1, Parameters: params, IsActive: true}}

	result, err := New(mlConfig(), models).Classify(context.Background(), candles)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "SIDEWAYS", result.RegimeLabel)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestClassifyMLFallsBackWithoutModel(t *testing.T) {
	cls := New(mlConfig(), &stubModels{rec: nil})

	result, err := cls.Classify(context.Background(), volatileUptrend(60))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "BULL_HIGH_VOL", result.RegimeLabel)
	assert.Nil(t, result.RegimeID)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestClassifyMLFallsBackOnRegistryError(t *testing.T) {
	cls := New(mlConfig(), &stubModels{err: errors.New("db down")})

	result, err := cls.Classify(context.Background(), volatileUptrend(60))
	require.NoError(t, err, "registry errors degrade to rules, not failures")
	require.NotNil(t, result)
	assert.Nil(t, result.RegimeID)
	assert.Regexp(t, labelPattern, result.RegimeLabel)
}

func TestClassifyMLInvalidParamsFallsBack(t *testing.T) {
	params := model.ModelParameters{
		FeatureCols: []string{features.ColLogReturn, features.ColVolatility},
		ScalerMean:  []float64{0},
		ScalerScale: []float64{1, 1},
		Centroids:   [][]float64{{0, 0}},
	}
	models := &stubModels{rec: &model.ModelRecord{ID: 3, Parameters: params, IsActive: true}}

	result, err := New(mlConfig(), models).Classify(context.Background(), volatileUptrend(60))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Nil(t, result.RegimeID)
}
