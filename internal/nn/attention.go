package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// AttentionConfig holds configuration options for creating an attention layer.
type AttentionConfig struct {
	NumHeads    int
	ModelDim    int
	DropoutRate float64
}

// MultiHeadAttention is scaled dot-product self-attention over each sequence.
type MultiHeadAttention struct {
	NumHeads int
	ModelDim int
	HeadDim  int
	Query    *Linear
	Key      *Linear
	Value    *Linear
	Dropout  *Dropout
}

// NewMultiHeadAttention creates a new multi-head attention layer with the specified configuration.
func NewMultiHeadAttention(config AttentionConfig, rng *rand.Rand) (*MultiHeadAttention, error) {
	if config.NumHeads <= 0 {
		return nil, fmt.Errorf("number of heads must be positive, got %d", config.NumHeads)
	}
	if config.ModelDim <= 0 {
		return nil, fmt.Errorf("model dimension must be positive, got %d", config.ModelDim)
	}
	if config.ModelDim%config.NumHeads != 0 {
		return nil, fmt.Errorf("model dimension (%d) must be divisible by number of heads (%d)",
			config.ModelDim, config.NumHeads)
	}
	if config.DropoutRate < 0 || config.DropoutRate >= 1.0 {
		return nil, fmt.Errorf("dropout rate must be in range [0, 1), got %f", config.DropoutRate)
	}

	mha := &MultiHeadAttention{
		NumHeads: config.NumHeads,
		ModelDim: config.ModelDim,
		HeadDim:  config.ModelDim / config.NumHeads,
		Dropout:  NewDropout(config.DropoutRate, rng),
	}
	var err error
	if mha.Query, err = NewLinear(config.ModelDim, config.ModelDim); err != nil {
		return nil, fmt.Errorf("failed to create query projection: %w", err)
	}
	if mha.Key, err = NewLinear(config.ModelDim, config.ModelDim); err != nil {
		return nil, fmt.Errorf("failed to create key projection: %w", err)
	}
	if mha.Value, err = NewLinear(config.ModelDim, config.ModelDim); err != nil {
		return nil, fmt.Errorf("failed to create value projection: %w", err)
	}
	return mha, nil
}

// Children implements Module.
func (a *MultiHeadAttention) Children() []Module {
	return []Module{a.Query, a.Key, a.Value, a.Dropout}
}

// Forward attends every position of seq (L x ModelDim) to every other
// position and returns the concatenated per-head context.
func (a *MultiHeadAttention) Forward(seq *mat.Dense) (*mat.Dense, error) {
	return a.ForwardMasked(seq, nil)
}

// ForwardMasked is Forward with padded keys excluded by mask.
func (a *MultiHeadAttention) ForwardMasked(seq *mat.Dense, mask Mask) (*mat.Dense, error) {
	n, _ := seq.Dims()
	if mask != nil && len(mask) != n {
		return nil, fmt.Errorf("mask covers %d positions, sequence has %d", len(mask), n)
	}
	q, err := a.Query.ForwardDense(seq)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	k, err := a.Key.ForwardDense(seq)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	v, err := a.Value.ForwardDense(seq)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}

	heads := mat.NewDense(n, a.ModelDim, nil)
	scores := mat.NewDense(n, n, nil)
	scale := 1 / math.Sqrt(float64(a.HeadDim))
	for h := 0; h < a.NumHeads; h++ {
		lo, hi := h*a.HeadDim, (h+1)*a.HeadDim
		qh := q.Slice(0, n, lo, hi)
		kh := k.Slice(0, n, lo, hi)
		vh := v.Slice(0, n, lo, hi)

		scores.Mul(qh, kh.T())
		scores.Scale(scale, scores)
		mask.apply(scores)
		softmaxRows(scores)
		a.Dropout.Forward(scores)

		ctx := heads.Slice(0, n, lo, hi).(*mat.Dense)
		ctx.Mul(scores, vh)
	}
	return heads, nil
}

// softmaxRows applies a numerically stable softmax to each row of m in place.
func softmaxRows(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		max := floats.Max(row)
		for j, v := range row {
			row[j] = math.Exp(v - max)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
}
