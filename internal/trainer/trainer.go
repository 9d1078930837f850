// Package trainer fits the k-means regime model from historical candles
// and promotes it into the model registry.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/regimelab/regimecast/internal/config"
	"github.com/regimelab/regimecast/internal/features"
	"github.com/regimelab/regimecast/internal/metrics"
	"github.com/regimelab/regimecast/internal/model"
)

const algorithmName = "KMeans"

// featureCols is the fitted feature order, persisted with the model so
// the classifier reads vectors in exactly this order.
var featureCols = []string{features.ColLogReturn, features.ColVolatility, features.ColRSI}

type candleSource interface {
	Since(ctx context.Context, from time.Time) ([]model.Candle, error)
}

type modelPromoter interface {
	Promote(ctx context.Context, algorithm string, params model.ModelParameters) error
}

// Trainer runs the batch fit: load lookback candles, build features per
// symbol, standardize, cluster, label, promote.
type Trainer struct {
	cfg     config.Trainer
	candles candleSource
	models  modelPromoter
}

// New creates a trainer over the candle store and model registry.
func New(cfg config.Trainer, candles candleSource, models modelPromoter) *Trainer {
	return &Trainer{cfg: cfg, candles: candles, models: models}
}

var errNoData = errors.New("not enough training data")

// Run executes one training pass. It fails without touching the registry
// when the lookback window yields too few complete feature rows.
func (t *Trainer) Run(ctx context.Context) error {
	if err := t.run(ctx); err != nil {
		outcome := "failed"
		if errors.Is(err, errNoData) {
			outcome = "empty"
		}
		metrics.TrainerRuns.WithLabelValues(outcome).Inc()
		return err
	}
	metrics.TrainerRuns.WithLabelValues("promoted").Inc()
	return nil
}

func (t *Trainer) run(ctx context.Context) error {
	from := time.Now().UTC().AddDate(0, 0, -t.cfg.LookbackDays)
	candles, err := t.candles.Since(ctx, from)
	if err != nil {
		return fmt.Errorf("load training candles: %w", err)
	}

	rows := buildDataset(candles)
	if len(rows) < t.cfg.K {
		return fmt.Errorf("%w: %d rows for k=%d", errNoData, len(rows), t.cfg.K)
	}
	log.Info().Int("rows", len(rows)).Int("candles", len(candles)).Msg("Training dataset assembled")

	sc := fitScaler(rows)
	scaled := sc.transform(rows)
	centroids := fitKMeans(scaled, t.cfg.K, t.cfg.Seed)
	labels := labelCentroids(centroids, sc)

	params := model.ModelParameters{
		FeatureCols: featureCols,
		ScalerMean:  sc.mean,
		ScalerScale: sc.scale,
		Centroids:   centroids,
		Labels:      labels,
	}
	if err := t.models.Promote(ctx, algorithmName, params); err != nil {
		return fmt.Errorf("promote model: %w", err)
	}

	log.Info().Int("k", t.cfg.K).Interface("labels", labels).Msg("New regime model promoted")
	return nil
}

// buildDataset computes features per (symbol, timeframe) series and keeps
// the rows whose full vector is warmed up.
func buildDataset(candles []model.Candle) [][]float64 {
	groups := make(map[string][]model.Candle)
	for _, c := range candles {
		key := c.Exchange + ":" + c.Symbol + ":" + c.Timeframe
		groups[key] = append(groups[key], c)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Group order is fixed so a given dataset and seed always fit the
	// same centroids.
	var rows [][]float64
	for _, k := range keys {
		frame := features.Compute(groups[k])
		for _, row := range frame {
			if vec, ok := row.Vector(featureCols); ok {
				rows = append(rows, vec)
			}
		}
	}
	return rows
}

// labelCentroids assigns business names to cluster indices. The most
// stressed cluster, highest standardized volatility net of return, is
// PANIC. Of the rest, the one with the highest raw return is BULL.
// Everything else keeps a positional name.
func labelCentroids(centroids [][]float64, sc scaler) map[int]string {
	const (
		retCol = 0 // log_return position in featureCols
		volCol = 1 // volatility position in featureCols
	)

	labels := make(map[int]string, len(centroids))

	panicIdx, panicScore := 0, centroids[0][volCol]-centroids[0][retCol]
	for i, c := range centroids {
		if score := c[volCol] - c[retCol]; score > panicScore {
			panicIdx, panicScore = i, score
		}
	}
	labels[panicIdx] = "PANIC"

	bullIdx, bullRet := -1, 0.0
	for i, c := range centroids {
		if i == panicIdx {
			continue
		}
		ret := sc.inverse(c)[retCol]
		if bullIdx == -1 || ret > bullRet {
			bullIdx, bullRet = i, ret
		}
	}
	if bullIdx >= 0 {
		labels[bullIdx] = "BULL"
	}

	for i := range centroids {
		if _, ok := labels[i]; !ok {
			labels[i] = fmt.Sprintf("REGIME_%d", i)
		}
	}
	return labels
}
