package model

import (
	"fmt"
	"time"
)

// ModelParameters is the JSONB payload stored in the model registry.
// FeatureCols is the source of truth for feature ordering at
// classification time; the worker never hard-codes it.
type ModelParameters struct {
	FeatureCols []string       `json:"feature_cols"`
	ScalerMean  []float64      `json:"scaler_mean"`
	ScalerScale []float64      `json:"scaler_scale"`
	Centroids   [][]float64    `json:"centroids"`
	Labels      map[int]string `json:"labels"`
}

// Validate checks the dimensional consistency of a trained model.
func (p ModelParameters) Validate() error {
	d := len(p.FeatureCols)
	if d == 0 {
		return fmt.Errorf("model parameters: empty feature_cols")
	}
	if len(p.ScalerMean) != d || len(p.ScalerScale) != d {
		return fmt.Errorf("model parameters: scaler dims %d/%d do not match %d features",
			len(p.ScalerMean), len(p.ScalerScale), d)
	}
	if len(p.Centroids) == 0 {
		return fmt.Errorf("model parameters: no centroids")
	}
	for i, c := range p.Centroids {
		if len(c) != d {
			return fmt.Errorf("model parameters: centroid %d has %d dims, want %d", i, len(c), d)
		}
	}
	return nil
}

// Label returns the regime name for a centroid index, falling back to the
// generic CLUSTER_{i} name when the trainer left it unlabeled.
func (p ModelParameters) Label(idx int) string {
	if name, ok := p.Labels[idx]; ok {
		return name
	}
	return fmt.Sprintf("CLUSTER_%d", idx)
}

// ModelRecord is one row of the model registry. At most one record is
// active at any instant visible to readers.
type ModelRecord struct {
	ID         int             `json:"id" db:"id"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	Algorithm  string          `json:"algorithm" db:"algorithm"`
	Parameters ModelParameters `json:"parameters"`
	IsActive   bool            `json:"is_active" db:"is_active"`
}
