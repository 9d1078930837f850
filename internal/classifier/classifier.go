// Package classifier assigns a market regime to each incoming candle,
// either through deterministic rules or the nearest-centroid model loaded
// from the registry.
package classifier

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/regimelab/regimecast/internal/config"
	"github.com/regimelab/regimecast/internal/features"
	"github.com/regimelab/regimecast/internal/metrics"
	"github.com/regimelab/regimecast/internal/model"
)

// modelSource loads the active model record. Nil with no error means the
// registry holds no active model.
type modelSource interface {
	Active(ctx context.Context) (*model.ModelRecord, error)
}

// Classifier turns a candle window into a regime result.
type Classifier struct {
	cfg    config.Classifier
	models modelSource
}

// New creates a classifier. The model source is consulted only in
// ML_CLUSTERING mode.
func New(cfg config.Classifier, models modelSource) *Classifier {
	return &Classifier{cfg: cfg, models: models}
}

// Classify computes features over the window and assigns a regime to its
// newest candle. A nil result with nil error means the window has not
// warmed up enough to classify.
func (c *Classifier) Classify(ctx context.Context, candles []model.Candle) (*model.RegimeResult, error) {
	if len(candles) == 0 {
		return nil, nil
	}

	frame := features.Compute(candles)
	state, ok := frame.Latest()
	if !ok || math.IsNaN(state.Volatility) {
		return nil, nil
	}

	last := candles[len(candles)-1]

	if c.cfg.Mode == config.ModeMLClustering {
		result, err := c.classifyML(ctx, state, last)
		if err != nil {
			log.Error().Err(err).Str("symbol", last.Symbol).Msg("ML classification failed, falling back to rules")
		}
		if result != nil {
			return result, nil
		}
		metrics.ClassifierFallbacks.Inc()
	}

	return c.classifyRuleBased(state, last), nil
}

// Mode returns the configured classification mode, for metrics labels.
func (c *Classifier) Mode() string { return c.cfg.Mode }

func (c *Classifier) metricsFor(state features.Row) model.RegimeMetrics {
	trend := state.SMASlope
	if math.IsNaN(trend) {
		trend = 0
	}
	rsi := state.RSI
	if math.IsNaN(rsi) {
		rsi = 0
	}
	return model.RegimeMetrics{
		TrendScore: trend,
		Volatility: state.Volatility,
		Additional: map[string]float64{"rsi": rsi},
	}
}

func now() time.Time { return time.Now().UTC() }
