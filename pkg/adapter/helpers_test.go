package adapter

import (
	"fmt"
	"sync/atomic"

	"kadapter/internal/tensor"
)

// fakeModel serves fixed per-layer features so fusion arithmetic can be
// checked by hand.
type fakeModel struct {
	hidden   int
	names    []string
	features map[string]*tensor.Tensor
	last     *tensor.Tensor
	runErr   error
	calls    atomic.Int64
}

// newFakeModel creates a model whose layer i emits a [2, 3, hidden]
// tensor filled with values[i].
func newFakeModel(hidden int, values ...float64) *fakeModel {
	m := &fakeModel{hidden: hidden, features: map[string]*tensor.Tensor{}}
	for i, v := range values {
		name := fmt.Sprintf("layer.%d", i)
		t, _ := tensor.Full([]int{2, 3}, hidden, v)
		m.names = append(m.names, name)
		m.features[name] = t
	}
	m.last, _ = tensor.Full([]int{2, 3}, hidden, -0.5)
	return m
}

func (m *fakeModel) HiddenSize() int { return m.hidden }

func (m *fakeModel) Extractor(layers []string) (FeatureExtractor, error) {
	for _, l := range layers {
		if _, ok := m.features[l]; !ok {
			return nil, fmt.Errorf("unknown layer %q", l)
		}
	}
	return &fakeExtractor{m: m, layers: append([]string(nil), layers...)}, nil
}

type fakeExtractor struct {
	m      *fakeModel
	layers []string
}

func (e *fakeExtractor) Run(*Inputs) (*BaseOutput, []*tensor.Tensor, error) {
	e.m.calls.Add(1)
	if e.m.runErr != nil {
		return nil, nil, e.m.runErr
	}
	feats := make([]*tensor.Tensor, len(e.layers))
	for i, l := range e.layers {
		feats[i] = e.m.features[l].Clone()
	}
	return &BaseOutput{LastHiddenState: e.m.last.Clone()}, feats, nil
}

func smallConfig(layers ...string) *Config {
	cfg := NewDefaultConfig()
	cfg.InjectionLayers = layers
	cfg.HiddenDim = 4
	cfg.InitializerRange = 0.02
	cfg.Seed = 42
	cfg.Encoder = EncoderConfig{
		NumLayers:        1,
		NumHeads:         2,
		IntermediateSize: 8,
		Activation:       "gelu",
		HiddenDropout:    0.1,
		AttentionDropout: 0.1,
		LayerNormEps:     1e-12,
	}
	return cfg
}

func smallLayerConfig(base int) LayerConfig {
	cfg := smallConfig("x")
	return cfg.layerConfig(base, 7, 0)
}

// zeroUp turns the layer into an identity map.
func (l *AdapterLayer) zeroUp() {
	l.Up.Weight.Zero()
	l.Up.Bias.Zero()
}

func identityAdapter(a *Adapter) *Adapter {
	for _, l := range a.Layers {
		l.zeroUp()
	}
	return a
}
