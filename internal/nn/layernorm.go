package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LayerNorm normalizes each row to zero mean and unit variance, then
// applies a learned scale and shift.
type LayerNorm struct {
	Dim     int
	Epsilon float64
	Gamma   *mat.VecDense
	Beta    *mat.VecDense
}

// NewLayerNorm creates a layer normalization with gamma = 1 and beta = 0.
func NewLayerNorm(dim int, epsilon float64) (*LayerNorm, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("layernorm dimension must be positive, got %d", dim)
	}
	if epsilon <= 0 {
		return nil, fmt.Errorf("layernorm epsilon must be positive, got %g", epsilon)
	}
	ones := make([]float64, dim)
	for i := range ones {
		ones[i] = 1
	}
	return &LayerNorm{
		Dim:     dim,
		Epsilon: epsilon,
		Gamma:   mat.NewVecDense(dim, ones),
		Beta:    mat.NewVecDense(dim, nil),
	}, nil
}

// Children implements Module.
func (ln *LayerNorm) Children() []Module { return nil }

// Parameters implements Parameterized.
func (ln *LayerNorm) Parameters() []mat.Matrix { return []mat.Matrix{ln.Gamma, ln.Beta} }

// Forward normalizes every row of x in place.
func (ln *LayerNorm) Forward(x *mat.Dense) error {
	r, c := x.Dims()
	if c != ln.Dim {
		return fmt.Errorf("layernorm expects %d features, got %d", ln.Dim, c)
	}
	gamma := ln.Gamma.RawVector().Data
	beta := ln.Beta.RawVector().Data
	n := float64(c)
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		mean := floats.Sum(row) / n
		variance := 0.0
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= n
		inv := 1 / math.Sqrt(variance+ln.Epsilon)
		for j, v := range row {
			row[j] = (v-mean)*inv*gamma[j] + beta[j]
		}
	}
	return nil
}
