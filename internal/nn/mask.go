package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// maskedScore replaces attention scores of padded keys before the softmax.
const maskedScore = -1e9

// Mask marks which key positions of one sequence may be attended to:
// 1 attends, 0 is padding. A nil Mask attends everywhere.
type Mask []float64

// NewMask converts a 0/1 attention mask row into a Mask.
func NewMask(row []int) (Mask, error) {
	m := make(Mask, len(row))
	for j, v := range row {
		switch v {
		case 0, 1:
			m[j] = float64(v)
		default:
			return nil, fmt.Errorf("attention mask values must be 0 or 1, got %d at position %d", v, j)
		}
	}
	return m, nil
}

// PaddingMask attends to the first valid of seqLen positions.
func PaddingMask(seqLen, valid int) Mask {
	m := make(Mask, seqLen)
	for j := 0; j < seqLen && j < valid; j++ {
		m[j] = 1
	}
	return m
}

// apply overwrites the score columns of masked keys.
func (m Mask) apply(scores *mat.Dense) {
	if m == nil {
		return
	}
	r, _ := scores.Dims()
	for j, keep := range m {
		if keep > 0 {
			continue
		}
		for i := 0; i < r; i++ {
			scores.Set(i, j, maskedScore)
		}
	}
}
