package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"kadapter/internal/tensor"
)

// EncoderConfig describes a stack of self-attention encoder layers.
type EncoderConfig struct {
	ModelDim         int
	NumLayers        int
	NumHeads         int
	IntermediateSize int
	Activation       Activation
	HiddenDropout    float64
	AttentionDropout float64
	LayerNormEps     float64
	// MaxPositions > 0 adds a learned position embedding in front of the stack.
	MaxPositions int
}

// Validate checks the configuration before any layer is built.
func (c EncoderConfig) Validate() error {
	switch {
	case c.ModelDim <= 0:
		return fmt.Errorf("model dimension must be positive, got %d", c.ModelDim)
	case c.NumLayers <= 0:
		return fmt.Errorf("number of layers must be positive, got %d", c.NumLayers)
	case c.NumHeads <= 0:
		return fmt.Errorf("number of heads must be positive, got %d", c.NumHeads)
	case c.ModelDim%c.NumHeads != 0:
		return fmt.Errorf("model dimension (%d) must be divisible by number of heads (%d)", c.ModelDim, c.NumHeads)
	case c.IntermediateSize <= 0:
		return fmt.Errorf("intermediate size must be positive, got %d", c.IntermediateSize)
	case c.HiddenDropout < 0 || c.HiddenDropout >= 1:
		return fmt.Errorf("hidden dropout must be in range [0, 1), got %f", c.HiddenDropout)
	case c.AttentionDropout < 0 || c.AttentionDropout >= 1:
		return fmt.Errorf("attention dropout must be in range [0, 1), got %f", c.AttentionDropout)
	case c.LayerNormEps <= 0:
		return fmt.Errorf("layernorm epsilon must be positive, got %g", c.LayerNormEps)
	case c.MaxPositions < 0:
		return fmt.Errorf("max positions must be non-negative, got %d", c.MaxPositions)
	}
	return nil
}

// EncoderLayer is one post-LN transformer block:
// attention, projection, residual, norm, feed-forward, residual, norm.
type EncoderLayer struct {
	Attention     *MultiHeadAttention
	AttnOutput    *Linear
	AttnDropout   *Dropout
	AttnNorm      *LayerNorm
	Intermediate  *Linear
	Activation    Activation
	Output        *Linear
	OutputDropout *Dropout
	OutputNorm    *LayerNorm
}

// NewEncoderLayer creates an encoder layer from a validated config.
func NewEncoderLayer(cfg EncoderConfig, rng *rand.Rand) (*EncoderLayer, error) {
	attn, err := NewMultiHeadAttention(AttentionConfig{
		NumHeads:    cfg.NumHeads,
		ModelDim:    cfg.ModelDim,
		DropoutRate: cfg.AttentionDropout,
	}, rng)
	if err != nil {
		return nil, err
	}
	el := &EncoderLayer{
		Attention:     attn,
		AttnDropout:   NewDropout(cfg.HiddenDropout, rng),
		Activation:    cfg.Activation,
		OutputDropout: NewDropout(cfg.HiddenDropout, rng),
	}
	if el.AttnOutput, err = NewLinear(cfg.ModelDim, cfg.ModelDim); err != nil {
		return nil, err
	}
	if el.AttnNorm, err = NewLayerNorm(cfg.ModelDim, cfg.LayerNormEps); err != nil {
		return nil, err
	}
	if el.Intermediate, err = NewLinear(cfg.ModelDim, cfg.IntermediateSize); err != nil {
		return nil, err
	}
	if el.Output, err = NewLinear(cfg.IntermediateSize, cfg.ModelDim); err != nil {
		return nil, err
	}
	if el.OutputNorm, err = NewLayerNorm(cfg.ModelDim, cfg.LayerNormEps); err != nil {
		return nil, err
	}
	return el, nil
}

// Children implements Module.
func (el *EncoderLayer) Children() []Module {
	return []Module{
		el.Attention, el.AttnOutput, el.AttnDropout, el.AttnNorm,
		el.Intermediate, el.Output, el.OutputDropout, el.OutputNorm,
	}
}

// Forward processes one sequence (L x ModelDim) and returns a new matrix.
func (el *EncoderLayer) Forward(seq *mat.Dense) (*mat.Dense, error) {
	return el.ForwardMasked(seq, nil)
}

// ForwardMasked is Forward with padded positions hidden from attention.
func (el *EncoderLayer) ForwardMasked(seq *mat.Dense, mask Mask) (*mat.Dense, error) {
	ctx, err := el.Attention.ForwardMasked(seq, mask)
	if err != nil {
		return nil, err
	}
	attnOut, err := el.AttnOutput.ForwardDense(ctx)
	if err != nil {
		return nil, err
	}
	el.AttnDropout.Forward(attnOut)
	attnOut.Add(attnOut, seq)
	if err := el.AttnNorm.Forward(attnOut); err != nil {
		return nil, err
	}

	inter, err := el.Intermediate.ForwardDense(attnOut)
	if err != nil {
		return nil, err
	}
	el.Activation.Apply(inter)
	out, err := el.Output.ForwardDense(inter)
	if err != nil {
		return nil, err
	}
	el.OutputDropout.Forward(out)
	out.Add(out, attnOut)
	if err := el.OutputNorm.Forward(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Encoder is a stack of EncoderLayers with an optional learned position
// embedding in front.
type Encoder struct {
	Config    EncoderConfig
	Positions *Embedding
	Layers    []*EncoderLayer
}

// NewEncoder creates an encoder stack. Weights start at zero except the
// layer norm scales; callers initialize them.
func NewEncoder(cfg EncoderConfig, rng *rand.Rand) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	enc := &Encoder{Config: cfg, Layers: make([]*EncoderLayer, cfg.NumLayers)}
	if cfg.MaxPositions > 0 {
		pos, err := NewEmbedding(cfg.MaxPositions, cfg.ModelDim)
		if err != nil {
			return nil, err
		}
		enc.Positions = pos
	}
	for i := range enc.Layers {
		layer, err := NewEncoderLayer(cfg, rng)
		if err != nil {
			return nil, fmt.Errorf("failed to create encoder layer %d: %w", i, err)
		}
		enc.Layers[i] = layer
	}
	return enc, nil
}

// Children implements Module.
func (e *Encoder) Children() []Module {
	children := make([]Module, 0, len(e.Layers)+1)
	if e.Positions != nil {
		children = append(children, e.Positions)
	}
	for _, l := range e.Layers {
		children = append(children, l)
	}
	return children
}

// Forward runs x through the stack. Each sequence is processed
// independently; the result has the same shape as x.
func (e *Encoder) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Dim() != e.Config.ModelDim {
		return nil, fmt.Errorf("encoder expects %d features, got %d", e.Config.ModelDim, x.Dim())
	}
	out := x.Clone()
	if e.Positions != nil {
		if err := e.Positions.AddPositions(out); err != nil {
			return nil, err
		}
	}
	for i, layer := range e.Layers {
		if err := ForwardSequences(out, layer.Forward); err != nil {
			return nil, fmt.Errorf("encoder layer %d: %w", i, err)
		}
	}
	return out, nil
}

// ForwardSequences applies fn to every sequence of x and writes the
// results back into x.
func ForwardSequences(x *tensor.Tensor, fn func(*mat.Dense) (*mat.Dense, error)) error {
	for _, s := range x.Sequences() {
		res, err := fn(s)
		if err != nil {
			return err
		}
		s.Copy(res)
	}
	return nil
}
