// Package tensor provides the activations passed between adapter components.
//
// A Tensor has one or more leading dimensions (typically batch and sequence)
// and a trailing feature dimension. Storage is a single gonum dense matrix
// with one row per leading position, so affine maps apply to the whole
// tensor with one matrix multiply.
package tensor

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a [lead..., Dim] array of float64 values.
type Tensor struct {
	lead []int
	data *mat.Dense
}

// New creates a zero tensor with the given leading dimensions and feature dimension.
func New(lead []int, dim int) (*Tensor, error) {
	rows, err := leadRows(lead)
	if err != nil {
		return nil, err
	}
	if dim <= 0 {
		return nil, fmt.Errorf("invalid feature dimension %d (must be positive)", dim)
	}
	return &Tensor{
		lead: append([]int(nil), lead...),
		data: mat.NewDense(rows, dim, nil),
	}, nil
}

// MustNew is like New but panics on invalid dimensions.
// Use in tests and examples only.
func MustNew(lead []int, dim int) *Tensor {
	t, err := New(lead, dim)
	if err != nil {
		panic(err)
	}
	return t
}

// FromDense wraps d as a tensor with the given leading dimensions.
// The product of lead must equal the number of rows of d. The tensor
// shares storage with d.
func FromDense(lead []int, d *mat.Dense) (*Tensor, error) {
	if d == nil {
		return nil, fmt.Errorf("dense matrix cannot be nil")
	}
	rows, err := leadRows(lead)
	if err != nil {
		return nil, err
	}
	r, _ := d.Dims()
	if r != rows {
		return nil, fmt.Errorf("leading dims %v need %d rows, matrix has %d", lead, rows, r)
	}
	return &Tensor{lead: append([]int(nil), lead...), data: d}, nil
}

// FromSlices builds a [batch, seq, dim] tensor from nested slices.
func FromSlices(values [][][]float64) (*Tensor, error) {
	if len(values) == 0 || len(values[0]) == 0 || len(values[0][0]) == 0 {
		return nil, fmt.Errorf("cannot build tensor from empty slices")
	}
	batch, seq, dim := len(values), len(values[0]), len(values[0][0])
	t, err := New([]int{batch, seq}, dim)
	if err != nil {
		return nil, err
	}
	for b, s := range values {
		if len(s) != seq {
			return nil, fmt.Errorf("ragged input: batch %d has %d positions, want %d", b, len(s), seq)
		}
		for p, row := range s {
			if len(row) != dim {
				return nil, fmt.Errorf("ragged input: batch %d position %d has %d features, want %d", b, p, len(row), dim)
			}
			t.data.SetRow(b*seq+p, row)
		}
	}
	return t, nil
}

// Full creates a tensor with every element set to v.
func Full(lead []int, dim int, v float64) (*Tensor, error) {
	t, err := New(lead, dim)
	if err != nil {
		return nil, err
	}
	t.Apply(func(float64) float64 { return v })
	return t, nil
}

// ZerosLike returns a zero tensor with the same shape as t.
func ZerosLike(t *Tensor) *Tensor {
	r, c := t.data.Dims()
	return &Tensor{lead: append([]int(nil), t.lead...), data: mat.NewDense(r, c, nil)}
}

func leadRows(lead []int) (int, error) {
	if len(lead) == 0 {
		return 0, fmt.Errorf("tensor needs at least one leading dimension")
	}
	rows := 1
	for _, n := range lead {
		if n <= 0 {
			return 0, fmt.Errorf("invalid leading dimensions %v (must be positive)", lead)
		}
		rows *= n
	}
	return rows, nil
}

// Shape returns the full shape, leading dimensions followed by Dim.
func (t *Tensor) Shape() []int {
	return append(append([]int(nil), t.lead...), t.Dim())
}

// Lead returns a copy of the leading dimensions.
func (t *Tensor) Lead() []int { return append([]int(nil), t.lead...) }

// Dim returns the trailing feature dimension.
func (t *Tensor) Dim() int {
	_, c := t.data.Dims()
	return c
}

// Rows returns the number of leading positions.
func (t *Tensor) Rows() int {
	r, _ := t.data.Dims()
	return r
}

// SeqLen returns the size of the innermost leading dimension.
func (t *Tensor) SeqLen() int { return t.lead[len(t.lead)-1] }

// Dense exposes the backing matrix. Writes are visible through t.
func (t *Tensor) Dense() *mat.Dense { return t.data }

// At returns the element at leading position row and feature col.
func (t *Tensor) At(row, col int) float64 { return t.data.At(row, col) }

// Set writes the element at leading position row and feature col.
func (t *Tensor) Set(row, col int, v float64) { t.data.Set(row, col, v) }

// Sequences returns one view per sequence, each of shape (SeqLen, Dim).
// The views share storage with t.
func (t *Tensor) Sequences() []*mat.Dense {
	seq := t.SeqLen()
	n := t.Rows() / seq
	views := make([]*mat.Dense, n)
	for i := range views {
		views[i] = t.data.Slice(i*seq, (i+1)*seq, 0, t.Dim()).(*mat.Dense)
	}
	return views
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.lead) != len(b.lead) || a.Dim() != b.Dim() {
		return false
	}
	for i := range a.lead {
		if a.lead[i] != b.lead[i] {
			return false
		}
	}
	return true
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{lead: append([]int(nil), t.lead...), data: mat.DenseCopyOf(t.data)}
}

// Add returns a + b element-wise.
func Add(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("cannot add nil tensors")
	}
	if !SameShape(a, b) {
		return nil, fmt.Errorf("tensor shapes don't match for addition: a%v, b%v", a.Shape(), b.Shape())
	}
	out := ZerosLike(a)
	out.data.Add(a.data, b.data)
	return out, nil
}

// Sub returns a - b element-wise.
func Sub(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("cannot subtract nil tensors")
	}
	if !SameShape(a, b) {
		return nil, fmt.Errorf("tensor shapes don't match for subtraction: a%v, b%v", a.Shape(), b.Shape())
	}
	out := ZerosLike(a)
	out.data.Sub(a.data, b.data)
	return out, nil
}

// AddInPlace adds o into t.
func (t *Tensor) AddInPlace(o *Tensor) error {
	if o == nil {
		return fmt.Errorf("cannot add nil tensor")
	}
	if !SameShape(t, o) {
		return fmt.Errorf("tensor shapes don't match for addition: a%v, b%v", t.Shape(), o.Shape())
	}
	t.data.Add(t.data, o.data)
	return nil
}

// Apply replaces every element x with fn(x).
func (t *Tensor) Apply(fn func(float64) float64) {
	t.data.Apply(func(_, _ int, v float64) float64 { return fn(v) }, t.data)
}

// Norm returns the Frobenius norm of the tensor.
func (t *Tensor) Norm() float64 { return mat.Norm(t.data, 2) }

// Equal reports whether a and b have the same shape and all elements
// within epsilon of each other.
func Equal(a, b *Tensor, epsilon float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !SameShape(a, b) {
		return false
	}
	return mat.EqualApprox(a.data, b.data, epsilon)
}

// MaxAbs returns the largest absolute element value.
func (t *Tensor) MaxAbs() float64 {
	m := 0.0
	r, c := t.data.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m = math.Max(m, math.Abs(t.data.At(i, j)))
		}
	}
	return m
}

// String returns a compact representation of the tensor.
func (t *Tensor) String() string {
	if t == nil {
		return "nil"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Tensor%v\n", t.Shape())
	fmt.Fprintf(&b, "%.4v", mat.Formatted(t.data, mat.Squeeze()))
	return b.String()
}
