package model

import "time"

// RegimeMetrics carries the raw indicator values behind a classification.
type RegimeMetrics struct {
	TrendScore float64            `json:"trend_score"`
	Volatility float64            `json:"volatility"`
	Additional map[string]float64 `json:"additional_metrics,omitempty"`
}

// RegimeResult is the classifier's output for one (symbol, timeframe).
// RegimeID is nil for rule-based output. Confidence is a distance-derived
// ranking score in [0,1], not a probability.
type RegimeResult struct {
	Symbol      string        `json:"symbol"`
	RegimeLabel string        `json:"regime_label"`
	RegimeID    *int          `json:"regime_id"`
	Confidence  float64       `json:"confidence"`
	Metrics     RegimeMetrics `json:"metrics"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
