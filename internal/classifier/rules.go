package classifier

import (
	"math"

	"github.com/regimelab/regimecast/internal/features"
	"github.com/regimelab/regimecast/internal/model"
)

// classifyRuleBased labels the window from two thresholds: SMA slope
// picks the direction, rolling volatility picks the volatility bucket.
// The label is always {BULL|BEAR|SIDEWAYS}_{HIGH|LOW}_VOL.
func (c *Classifier) classifyRuleBased(state features.Row, last model.Candle) *model.RegimeResult {
	trend := state.SMASlope
	if math.IsNaN(trend) {
		trend = 0
	}

	var direction string
	switch {
	case trend > c.cfg.TrendThreshold:
		direction = "BULL"
	case trend < -c.cfg.TrendThreshold:
		direction = "BEAR"
	default:
		direction = "SIDEWAYS"
	}

	volLabel := "LOW_VOL"
	if state.Volatility > c.cfg.VolatilityThreshold {
		volLabel = "HIGH_VOL"
	}

	return &model.RegimeResult{
		Symbol:      last.Symbol,
		RegimeLabel: direction + "_" + volLabel,
		RegimeID:    nil,
		Confidence:  1.0,
		Metrics:     c.metricsFor(state),
		UpdatedAt:   now(),
	}
}
