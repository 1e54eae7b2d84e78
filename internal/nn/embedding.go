package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"kadapter/internal/tensor"
)

// Embedding is a lookup table of Num vectors of size Dim.
type Embedding struct {
	Num    int
	Dim    int
	Weight *mat.Dense // Num x Dim
}

// NewEmbedding creates a zero embedding table.
func NewEmbedding(num, dim int) (*Embedding, error) {
	if num <= 0 || dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions: num=%d, dim=%d (must be positive)", num, dim)
	}
	return &Embedding{Num: num, Dim: dim, Weight: mat.NewDense(num, dim, nil)}, nil
}

// Children implements Module.
func (e *Embedding) Children() []Module { return nil }

// Parameters implements Parameterized.
func (e *Embedding) Parameters() []mat.Matrix { return []mat.Matrix{e.Weight} }

// Lookup gathers the rows for a rectangular batch of ids into a
// [batch, seq, Dim] tensor.
func (e *Embedding) Lookup(ids [][]int) (*tensor.Tensor, error) {
	if len(ids) == 0 || len(ids[0]) == 0 {
		return nil, fmt.Errorf("embedding lookup needs a non-empty batch")
	}
	seq := len(ids[0])
	out, err := tensor.New([]int{len(ids), seq}, e.Dim)
	if err != nil {
		return nil, err
	}
	dst := out.Dense()
	for b, row := range ids {
		if len(row) != seq {
			return nil, fmt.Errorf("ragged batch: sequence %d has length %d, want %d", b, len(row), seq)
		}
		for p, id := range row {
			if id < 0 || id >= e.Num {
				return nil, fmt.Errorf("id %d out of range [0, %d) at sequence %d position %d", id, e.Num, b, p)
			}
			dst.SetRow(b*seq+p, e.Weight.RawRowView(id))
		}
	}
	return out, nil
}

// AddPositions adds row p of the table to position p of every sequence in x.
func (e *Embedding) AddPositions(x *tensor.Tensor) error {
	if x.Dim() != e.Dim {
		return fmt.Errorf("position embedding dim %d doesn't match input dim %d", e.Dim, x.Dim())
	}
	seq := x.SeqLen()
	if seq > e.Num {
		return fmt.Errorf("sequence length %d exceeds %d position embeddings", seq, e.Num)
	}
	table := e.Weight.Slice(0, seq, 0, e.Dim)
	for _, s := range x.Sequences() {
		s.Add(s, table)
	}
	return nil
}
