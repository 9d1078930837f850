package trainer

import (
	"gonum.org/v1/gonum/stat"
)

// scaler standardizes feature columns to zero mean and unit variance.
// The fitted moments travel with the model so the worker applies the
// exact same transform at classification time.
type scaler struct {
	mean  []float64
	scale []float64
}

// fitScaler computes per-column mean and population standard deviation.
// Constant columns get scale 1 so the transform stays finite.
func fitScaler(rows [][]float64) scaler {
	if len(rows) == 0 {
		return scaler{}
	}
	dims := len(rows[0])
	col := make([]float64, len(rows))
	s := scaler{
		mean:  make([]float64, dims),
		scale: make([]float64, dims),
	}
	for j := 0; j < dims; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		s.mean[j] = stat.Mean(col, nil)
		s.scale[j] = stat.PopStdDev(col, nil)
		if s.scale[j] == 0 {
			s.scale[j] = 1
		}
	}
	return s
}

// transform standardizes every row into a new matrix.
func (s scaler) transform(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		z := make([]float64, len(row))
		for j, x := range row {
			z[j] = (x - s.mean[j]) / s.scale[j]
		}
		out[i] = z
	}
	return out
}

// inverse maps one standardized point back to feature space.
func (s scaler) inverse(z []float64) []float64 {
	x := make([]float64, len(z))
	for j, v := range z {
		x[j] = v*s.scale[j] + s.mean[j]
	}
	return x
}
