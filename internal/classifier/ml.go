package classifier

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/regimelab/regimecast/internal/features"
	"github.com/regimelab/regimecast/internal/model"
)

// classifyML assigns the nearest centroid of the active model. It returns
// (nil, nil) when no active model exists or the feature vector is not yet
// computable, letting the caller fall back to the rule path.
func (c *Classifier) classifyML(ctx context.Context, state features.Row, last model.Candle) (*model.RegimeResult, error) {
	rec, err := c.models.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active model: %w", err)
	}
	if rec == nil {
		return nil, nil
	}

	params := rec.Parameters
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("active model %d: %w", rec.ID, err)
	}

	// Feature order comes from the registry, never from code, so the
	// worker cannot drift from what the trainer fitted.
	vec, ok := state.Vector(params.FeatureCols)
	if !ok {
		return nil, nil
	}

	z := make([]float64, len(vec))
	for i, x := range vec {
		scale := params.ScalerScale[i]
		if scale == 0 {
			scale = 1
		}
		z[i] = (x - params.ScalerMean[i]) / scale
	}

	nearest, best := 0, floats.Distance(z, params.Centroids[0], 2)
	for j := 1; j < len(params.Centroids); j++ {
		if d := floats.Distance(z, params.Centroids[j], 2); d < best {
			nearest, best = j, d
		}
	}

	id := nearest
	return &model.RegimeResult{
		Symbol:      last.Symbol,
		RegimeLabel: params.Label(nearest),
		RegimeID:    &id,
		Confidence:  1 / (1 + best),
		Metrics:     c.metricsFor(state),
		UpdatedAt:   now(),
	}, nil
}
