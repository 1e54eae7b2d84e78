// Package basemodel provides a small BERT-style encoder that implements
// adapter.BaseModel. Adapters attach to its named layers:
//
//	embeddings, encoder.layer.0, ..., encoder.layer.N-1
//
// Weights are randomly initialized; the model stands in for a pretrained
// encoder in tests, demos and shape checks. It is always frozen: dropout
// never runs and nothing mutates its weights after construction.
package basemodel

import (
	"fmt"
	"math/rand"

	"kadapter/internal/nn"
	"kadapter/internal/tensor"
	"kadapter/pkg/adapter"
)

// EmbeddingsLayer names the hidden state after the embedding block.
const EmbeddingsLayer = "embeddings"

// LayerName returns the hook name of encoder layer i.
func LayerName(i int) string { return fmt.Sprintf("encoder.layer.%d", i) }

// Config describes the reference encoder.
type Config struct {
	VocabSize        int     `json:"vocab_size" yaml:"vocab_size" toml:"vocab_size"`
	HiddenSize       int     `json:"hidden_size" yaml:"hidden_size" toml:"hidden_size"`
	NumLayers        int     `json:"num_hidden_layers" yaml:"num_hidden_layers" toml:"num_hidden_layers"`
	NumHeads         int     `json:"num_attention_heads" yaml:"num_attention_heads" toml:"num_attention_heads"`
	IntermediateSize int     `json:"intermediate_size" yaml:"intermediate_size" toml:"intermediate_size"`
	MaxPositions     int     `json:"max_position_embeddings" yaml:"max_position_embeddings" toml:"max_position_embeddings"`
	Activation       string  `json:"hidden_act" yaml:"hidden_act" toml:"hidden_act"`
	LayerNormEps     float64 `json:"layer_norm_eps" yaml:"layer_norm_eps" toml:"layer_norm_eps"`
	InitializerRange float64 `json:"initializer_range" yaml:"initializer_range" toml:"initializer_range"`
	Seed             int64   `json:"seed" yaml:"seed" toml:"seed"`
}

// NewDefaultConfig returns a four-layer encoder with hidden size 64.
func NewDefaultConfig() Config {
	return Config{
		VocabSize:        1000,
		HiddenSize:       64,
		NumLayers:        4,
		NumHeads:         4,
		IntermediateSize: 256,
		MaxPositions:     128,
		Activation:       "gelu",
		LayerNormEps:     1e-12,
		InitializerRange: 0.02,
		Seed:             1,
	}
}

func (c Config) encoderConfig() (nn.EncoderConfig, error) {
	act, err := nn.ParseActivation(c.Activation)
	if err != nil {
		return nn.EncoderConfig{}, err
	}
	return nn.EncoderConfig{
		ModelDim:         c.HiddenSize,
		NumLayers:        c.NumLayers,
		NumHeads:         c.NumHeads,
		IntermediateSize: c.IntermediateSize,
		Activation:       act,
		LayerNormEps:     c.LayerNormEps,
	}, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.VocabSize <= 0 {
		return fmt.Errorf("vocab size must be positive, got %d", c.VocabSize)
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("max positions must be positive, got %d", c.MaxPositions)
	}
	if c.InitializerRange <= 0 {
		return fmt.Errorf("initializer range must be positive, got %g", c.InitializerRange)
	}
	enc, err := c.encoderConfig()
	if err != nil {
		return err
	}
	return enc.Validate()
}

// Model is the reference encoder.
type Model struct {
	Config    Config
	Tokens    *nn.Embedding
	Positions *nn.Embedding
	EmbedNorm *nn.LayerNorm
	Layers    []*nn.EncoderLayer

	names []string
	index map[string]int
}

// New builds and initializes a model.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid base model config: %w", err)
	}
	encCfg, err := cfg.encoderConfig()
	if err != nil {
		return nil, err
	}
	m := &Model{Config: cfg, Layers: make([]*nn.EncoderLayer, cfg.NumLayers)}
	if m.Tokens, err = nn.NewEmbedding(cfg.VocabSize, cfg.HiddenSize); err != nil {
		return nil, err
	}
	if m.Positions, err = nn.NewEmbedding(cfg.MaxPositions, cfg.HiddenSize); err != nil {
		return nil, err
	}
	if m.EmbedNorm, err = nn.NewLayerNorm(cfg.HiddenSize, cfg.LayerNormEps); err != nil {
		return nil, err
	}
	for i := range m.Layers {
		if m.Layers[i], err = nn.NewEncoderLayer(encCfg, nil); err != nil {
			return nil, fmt.Errorf("failed to create encoder layer %d: %w", i, err)
		}
	}

	m.names = append(m.names, EmbeddingsLayer)
	for i := range m.Layers {
		m.names = append(m.names, LayerName(i))
	}
	m.index = make(map[string]int, len(m.names))
	for i, n := range m.names {
		m.index[n] = i
	}
	m.initWeights(rand.New(rand.NewSource(cfg.Seed)))
	return m, nil
}

// MustNew is like New but panics on error. Use in tests and examples only.
func MustNew(cfg Config) *Model {
	m, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return m
}

// initWeights draws weights from N(0, range^2) and zeroes biases.
func (m *Model) initWeights(rng *rand.Rand) {
	std := m.Config.InitializerRange
	normal := func(_, _ int, _ float64) float64 { return rng.NormFloat64() * std }
	nn.Walk(m, func(mod nn.Module) {
		switch l := mod.(type) {
		case *nn.Linear:
			l.Weight.Apply(normal, l.Weight)
			l.Bias.Zero()
		case *nn.Embedding:
			l.Weight.Apply(normal, l.Weight)
		}
	})
}

// Children implements nn.Module.
func (m *Model) Children() []nn.Module {
	children := []nn.Module{m.Tokens, m.Positions, m.EmbedNorm}
	for _, l := range m.Layers {
		children = append(children, l)
	}
	return children
}

// HiddenSize implements adapter.BaseModel.
func (m *Model) HiddenSize() int { return m.Config.HiddenSize }

// LayerNames lists every hookable layer in forward order.
func (m *Model) LayerNames() []string { return append([]string(nil), m.names...) }

// NumParameters returns the number of weights in the model.
func (m *Model) NumParameters() int { return nn.CountParameters(m) }

// Forward runs the model without capturing features.
func (m *Model) Forward(inputs *adapter.Inputs) (*adapter.BaseOutput, error) {
	out, _, err := m.run(inputs, nil)
	return out, err
}

// Extractor implements adapter.BaseModel.
func (m *Model) Extractor(layers []string) (adapter.FeatureExtractor, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: no layers to extract", adapter.ErrConfig)
	}
	idx := make([]int, len(layers))
	for i, name := range layers {
		j, ok := m.index[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown layer %q (have %v)", adapter.ErrConfig, name, m.names)
		}
		idx[i] = j
	}
	return &extractor{m: m, idx: idx}, nil
}

type extractor struct {
	m   *Model
	idx []int
}

// Run implements adapter.FeatureExtractor.
func (e *extractor) Run(inputs *adapter.Inputs) (*adapter.BaseOutput, []*tensor.Tensor, error) {
	return e.m.run(inputs, e.idx)
}

// run performs one forward pass and returns a copy of the hidden state
// at each position in capture, in capture order.
func (m *Model) run(inputs *adapter.Inputs, capture []int) (*adapter.BaseOutput, []*tensor.Tensor, error) {
	if inputs == nil || len(inputs.InputIDs) == 0 {
		return nil, nil, fmt.Errorf("empty input batch")
	}
	wanted := make(map[int]*tensor.Tensor, len(capture))
	for _, i := range capture {
		wanted[i] = nil
	}
	record := func(i int, h *tensor.Tensor) {
		if _, ok := wanted[i]; ok {
			wanted[i] = h.Clone()
		}
	}

	h, err := m.Tokens.Lookup(inputs.InputIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("token embedding: %w", err)
	}
	if err := m.Positions.AddPositions(h); err != nil {
		return nil, nil, fmt.Errorf("position embedding: %w", err)
	}
	if err := m.EmbedNorm.Forward(h.Dense()); err != nil {
		return nil, nil, err
	}
	masks, err := attentionMasks(inputs)
	if err != nil {
		return nil, nil, err
	}
	record(0, h)

	for i, layer := range m.Layers {
		for b, seq := range h.Sequences() {
			res, err := layer.ForwardMasked(seq, masks[b])
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", LayerName(i), err)
			}
			seq.Copy(res)
		}
		record(i+1, h)
	}

	features := make([]*tensor.Tensor, len(capture))
	used := make(map[int]bool, len(capture))
	for k, i := range capture {
		features[k] = wanted[i]
		if used[i] {
			features[k] = wanted[i].Clone()
		}
		used[i] = true
	}
	return &adapter.BaseOutput{LastHiddenState: h}, features, nil
}

// attentionMasks returns one mask per sequence. Sequences without an
// attention mask attend everywhere.
func attentionMasks(inputs *adapter.Inputs) ([]nn.Mask, error) {
	masks := make([]nn.Mask, len(inputs.InputIDs))
	if inputs.AttentionMask == nil {
		return masks, nil
	}
	if len(inputs.AttentionMask) != len(inputs.InputIDs) {
		return nil, fmt.Errorf("attention mask has %d rows for %d sequences", len(inputs.AttentionMask), len(inputs.InputIDs))
	}
	for b, row := range inputs.AttentionMask {
		if len(row) != len(inputs.InputIDs[b]) {
			return nil, fmt.Errorf("attention mask row %d has %d positions, want %d", b, len(row), len(inputs.InputIDs[b]))
		}
		m, err := nn.NewMask(row)
		if err != nil {
			return nil, fmt.Errorf("attention mask row %d: %w", b, err)
		}
		masks[b] = m
	}
	return masks, nil
}
