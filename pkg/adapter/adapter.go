package adapter

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kadapter/internal/tensor"
)

// Adapter is a set of adapter layers attached to a base model, trained in
// isolation while the base model stays frozen.
type Adapter struct {
	ID              string
	InjectionLayers []string
	Layers          []*AdapterLayer
	SkipLayers      int
	HiddenSize      int

	base BaseModel
	run  FeatureExtractor
	log  zerolog.Logger
}

// Skip records one cross-layer skip addition: the output of layer From was
// added to the output of layer At.
type Skip struct {
	At   int
	From int
}

// Output holds the result of one forward pass.
type Output struct {
	// Final is the output of the last adapter layer.
	Final *tensor.Tensor
	// LastHiddenState is the base model's final hidden state.
	LastHiddenState *tensor.Tensor
	// LayerOutputs holds every adapter layer output, skips included.
	LayerOutputs []*tensor.Tensor
	Skips        []Skip
}

// New attaches an adapter to model. The model is bound to
// cfg.InjectionLayers in order and one AdapterLayer is built per layer.
// A nil cfg is rejected since injection layers have no default.
func New(model BaseModel, cfg *Config) (*Adapter, error) {
	if model == nil {
		return nil, configErrorf("base model is nil")
	}
	if cfg == nil {
		return nil, configErrorf("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hidden := model.HiddenSize()
	if hidden <= 0 {
		return nil, configErrorf("base model hidden size must be positive, got %d", hidden)
	}

	run, err := model.Extractor(cfg.InjectionLayers)
	if err != nil {
		if IsConfigError(err) {
			return nil, err
		}
		return nil, configErrorf("bind injection layers: %v", err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	layers := make([]*AdapterLayer, len(cfg.InjectionLayers))
	for i := range layers {
		l, err := NewAdapterLayer(cfg.layerConfig(hidden, seed, i))
		if err != nil {
			return nil, fmt.Errorf("adapter layer %d (%s): %w", i, cfg.InjectionLayers[i], err)
		}
		layers[i] = l
	}

	id := cfg.Name
	if id == "" {
		id = uuid.NewString()
	}
	return &Adapter{
		ID:              id,
		InjectionLayers: append([]string(nil), cfg.InjectionLayers...),
		Layers:          layers,
		SkipLayers:      cfg.SkipLayers,
		HiddenSize:      hidden,
		base:            model,
		run:             run,
		log:             zerolog.Nop(),
	}, nil
}

// SetLogger installs a structured logger.
func (a *Adapter) SetLogger(l zerolog.Logger) { a.log = l }

// BaseModel returns the model the adapter is attached to.
func (a *Adapter) BaseModel() BaseModel { return a.base }

// Forward runs the base model once and fuses the adapter layers over the
// captured hidden states. It returns the last adapter output and the base
// model's last hidden state.
func (a *Adapter) Forward(inputs *Inputs) (*tensor.Tensor, *tensor.Tensor, error) {
	out, err := a.ForwardDetailed(inputs)
	if err != nil {
		return nil, nil, err
	}
	return out.Final, out.LastHiddenState, nil
}

// ForwardDetailed is Forward with every intermediate adapter output and
// the applied skips.
func (a *Adapter) ForwardDetailed(inputs *Inputs) (*Output, error) {
	start := time.Now()
	out, err := a.forward(inputs)
	if err != nil {
		forwardErrorsTotal.WithLabelValues(errorKind(err)).Inc()
		a.log.Error().Err(err).Str("adapter", a.ID).Msg("adapter forward failed")
		return nil, err
	}
	elapsed := time.Since(start)
	forwardTotal.Inc()
	forwardDuration.Observe(elapsed.Seconds())
	skipAdditionsTotal.Add(float64(len(out.Skips)))
	a.log.Debug().
		Str("adapter", a.ID).
		Ints("shape", out.Final.Shape()).
		Int("layers", len(out.LayerOutputs)).
		Int("skips", len(out.Skips)).
		Dur("elapsed", elapsed).
		Msg("adapter forward")
	return out, nil
}

func (a *Adapter) forward(inputs *Inputs) (*Output, error) {
	base, features, err := a.run.Run(inputs)
	if err != nil {
		return nil, fmt.Errorf("base model forward: %w", err)
	}
	if base == nil || base.LastHiddenState == nil {
		return nil, shapeErrorf("base model returned no last hidden state")
	}
	hidden := base.LastHiddenState
	if hidden.Dim() != a.HiddenSize {
		return nil, shapeErrorf("base last hidden state has shape %v, want trailing dim %d", hidden.Shape(), a.HiddenSize)
	}
	if len(features) != len(a.Layers) {
		return nil, shapeErrorf("base model returned %d features for %d injection layers", len(features), len(a.Layers))
	}

	out := &Output{
		LastHiddenState: hidden,
		LayerOutputs:    make([]*tensor.Tensor, 0, len(a.Layers)),
	}
	for i, layer := range a.Layers {
		feat := features[i]
		if feat == nil || !tensor.SameShape(feat, hidden) {
			var got []int
			if feat != nil {
				got = feat.Shape()
			}
			return nil, shapeErrorf("feature at %q has shape %v, want %v", a.InjectionLayers[i], got, hidden.Shape())
		}

		prev := tensor.ZerosLike(hidden)
		if i > 0 {
			prev = out.LayerOutputs[i-1]
		}
		fusion, err := tensor.Add(feat, prev)
		if err != nil {
			return nil, shapeErrorf("fusion at %q: %v", a.InjectionLayers[i], err)
		}
		res, err := layer.Forward(fusion)
		if err != nil {
			return nil, fmt.Errorf("adapter layer %d (%s): %w", i, a.InjectionLayers[i], err)
		}
		out.LayerOutputs = append(out.LayerOutputs, res)

		if from, ok := skipSource(i, a.SkipLayers); ok {
			if err := res.AddInPlace(out.LayerOutputs[from]); err != nil {
				return nil, shapeErrorf("skip %d -> %d: %v", from, i, err)
			}
			out.Skips = append(out.Skips, Skip{At: i, From: from})
		}
	}
	out.Final = out.LayerOutputs[len(out.LayerOutputs)-1]
	return out, nil
}

// skipSource returns the index of the earlier output added to output i,
// if any. Every k-th output (i+1 divisible by k) receives output
// (i+1)/k - 1. For k == 1 that index is i itself, so the immediately
// preceding output is used instead and the first output gets none.
func skipSource(i, k int) (int, bool) {
	if k <= 0 || (i+1)%k != 0 {
		return 0, false
	}
	from := (i+1)/k - 1
	if from >= i {
		from = i - 1
	}
	if from < 0 {
		return 0, false
	}
	return from, true
}

// InitWeights re-initializes every adapter layer. See AdapterLayer.InitWeights.
func (a *Adapter) InitWeights() {
	for _, l := range a.Layers {
		l.InitWeights()
	}
}

// SetTraining turns dropout on or off in every adapter layer. Training
// mode is not safe for concurrent Forward calls.
func (a *Adapter) SetTraining(training bool) {
	for _, l := range a.Layers {
		l.SetTraining(training)
	}
}

// NumParameters returns the number of trainable scalars across all layers.
func (a *Adapter) NumParameters() int {
	n := 0
	for _, l := range a.Layers {
		n += l.NumParameters()
	}
	return n
}

// Describe returns a multi-line summary of the adapter.
func (a *Adapter) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "adapter %s: %d layers, skip_layers=%d, base hidden=%d, params=%d\n",
		a.ID, len(a.Layers), a.SkipLayers, a.HiddenSize, a.NumParameters())
	for i, l := range a.Layers {
		fmt.Fprintf(&b, "  [%d] %-20s %s", i, a.InjectionLayers[i], l)
		if from, ok := skipSource(i, a.SkipLayers); ok {
			fmt.Fprintf(&b, " +skip from [%d]", from)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
