package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"kadapter/internal/tensor"
)

// Linear is an affine map y = xW + b applied over the trailing dimension.
type Linear struct {
	In     int
	Out    int
	Weight *mat.Dense // In x Out
	Bias   *mat.VecDense
}

// NewLinear creates a zero-initialized affine layer. Callers initialize
// weights explicitly.
func NewLinear(in, out int) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("invalid linear dimensions: in=%d, out=%d (must be positive)", in, out)
	}
	return &Linear{
		In:     in,
		Out:    out,
		Weight: mat.NewDense(in, out, nil),
		Bias:   mat.NewVecDense(out, nil),
	}, nil
}

// Children implements Module.
func (l *Linear) Children() []Module { return nil }

// Parameters implements Parameterized.
func (l *Linear) Parameters() []mat.Matrix { return []mat.Matrix{l.Weight, l.Bias} }

// ForwardDense applies the layer to every row of x.
func (l *Linear) ForwardDense(x mat.Matrix) (*mat.Dense, error) {
	r, c := x.Dims()
	if c != l.In {
		return nil, fmt.Errorf("linear layer expects %d input features, got %d", l.In, c)
	}
	out := mat.NewDense(r, l.Out, nil)
	out.Mul(x, l.Weight)
	bias := l.Bias.RawVector().Data
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
	return out, nil
}

// Forward applies the layer to a tensor, keeping its leading dimensions.
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := l.ForwardDense(x.Dense())
	if err != nil {
		return nil, err
	}
	return tensor.FromDense(x.Lead(), out)
}
