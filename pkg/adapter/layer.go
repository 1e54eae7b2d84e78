package adapter

import (
	"fmt"
	"math/rand"

	"kadapter/internal/nn"
	"kadapter/internal/tensor"
)

// AdapterLayer is one bottleneck block: down-projection, a small encoder
// stack, up-projection and a residual add back to the input.
type AdapterLayer struct {
	BaseHiddenDim    int
	HiddenDim        int
	InitializerRange float64

	Down    *nn.Linear
	Encoder *nn.Encoder
	Up      *nn.Linear

	rng *rand.Rand
}

// NewAdapterLayer builds an adapter layer and initializes its weights.
func NewAdapterLayer(cfg LayerConfig) (*AdapterLayer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	encCfg, err := cfg.Encoder.build(cfg.HiddenDim)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	l := &AdapterLayer{
		BaseHiddenDim:    cfg.BaseHiddenDim,
		HiddenDim:        cfg.HiddenDim,
		InitializerRange: cfg.InitializerRange,
		rng:              rng,
	}
	if l.Down, err = nn.NewLinear(cfg.BaseHiddenDim, cfg.HiddenDim); err != nil {
		return nil, configErrorf("down projection: %v", err)
	}
	if l.Encoder, err = nn.NewEncoder(encCfg, rng); err != nil {
		return nil, configErrorf("encoder: %v", err)
	}
	if l.Up, err = nn.NewLinear(cfg.HiddenDim, cfg.BaseHiddenDim); err != nil {
		return nil, configErrorf("up projection: %v", err)
	}
	l.InitWeights()
	return l, nil
}

// Children implements nn.Module.
func (l *AdapterLayer) Children() []nn.Module {
	return []nn.Module{l.Down, l.Encoder, l.Up}
}

// Forward returns x + Up(Encoder(Down(x))). The result has the shape of x.
func (l *AdapterLayer) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := l.Bottleneck(x)
	if err != nil {
		return nil, err
	}
	if err := out.AddInPlace(x); err != nil {
		return nil, shapeErrorf("residual: %v", err)
	}
	return out, nil
}

// Bottleneck returns Up(Encoder(Down(x))) without the residual term.
func (l *AdapterLayer) Bottleneck(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil {
		return nil, shapeErrorf("adapter layer input is nil")
	}
	if x.Dim() != l.BaseHiddenDim {
		return nil, shapeErrorf("adapter layer expects %d features, got shape %v", l.BaseHiddenDim, x.Shape())
	}
	down, err := l.Down.Forward(x)
	if err != nil {
		return nil, shapeErrorf("down projection: %v", err)
	}
	enc, err := l.Encoder.Forward(down)
	if err != nil {
		return nil, shapeErrorf("encoder: %v", err)
	}
	up, err := l.Up.Forward(enc)
	if err != nil {
		return nil, shapeErrorf("up projection: %v", err)
	}
	return up, nil
}

// InitWeights re-samples every linear weight and embedding table from
// U[-r, r] and zeroes every linear bias. Layer norms keep their values.
// Calling it after training discards the learned weights.
func (l *AdapterLayer) InitWeights() {
	r := l.InitializerRange
	uniform := func(_, _ int, _ float64) float64 { return (l.rng.Float64()*2 - 1) * r }
	nn.Walk(l, func(m nn.Module) {
		switch mod := m.(type) {
		case *nn.Linear:
			mod.Weight.Apply(uniform, mod.Weight)
			mod.Bias.Zero()
		case *nn.Embedding:
			mod.Weight.Apply(uniform, mod.Weight)
		}
	})
}

// SetTraining turns dropout inside the encoder stack on or off.
func (l *AdapterLayer) SetTraining(training bool) { nn.SetTraining(l, training) }

// NumParameters returns the number of learned scalars in the layer.
func (l *AdapterLayer) NumParameters() int { return nn.CountParameters(l) }

func (l *AdapterLayer) String() string {
	return fmt.Sprintf("AdapterLayer(%d -> %d, encoder %d x %d heads, params=%d)",
		l.BaseHiddenDim, l.HiddenDim, l.Encoder.Config.NumLayers, l.Encoder.Config.NumHeads, l.NumParameters())
}
