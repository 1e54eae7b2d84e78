package adapter

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kadapter/internal/tensor"
)

func TestSkipSource(t *testing.T) {
	tests := []struct {
		k, i   int
		from   int
		hasSkp bool
	}{
		{k: 0, i: 0}, {k: 0, i: 5},
		{k: 1, i: 0},
		{k: 1, i: 1, from: 0, hasSkp: true},
		{k: 1, i: 4, from: 3, hasSkp: true},
		{k: 2, i: 0}, {k: 2, i: 2},
		{k: 2, i: 1, from: 0, hasSkp: true},
		{k: 2, i: 3, from: 1, hasSkp: true},
		{k: 2, i: 5, from: 2, hasSkp: true},
		{k: 3, i: 2, from: 0, hasSkp: true},
		{k: 3, i: 5, from: 1, hasSkp: true},
		{k: 3, i: 8, from: 2, hasSkp: true},
		{k: 3, i: 7},
	}
	for _, tt := range tests {
		from, ok := skipSource(tt.i, tt.k)
		assert.Equal(t, tt.hasSkp, ok, "k=%d i=%d", tt.k, tt.i)
		if tt.hasSkp {
			assert.Equal(t, tt.from, from, "k=%d i=%d", tt.k, tt.i)
		}
	}
}

func TestSkipSourceNeverLooksAhead(t *testing.T) {
	for k := 0; k <= 6; k++ {
		for i := 0; i < 24; i++ {
			from, ok := skipSource(i, k)
			if !ok {
				assert.False(t, k > 1 && (i+1)%k == 0, "k=%d i=%d should skip", k, i)
				continue
			}
			assert.Zero(t, (i+1)%k, "k=%d i=%d", k, i)
			assert.GreaterOrEqual(t, from, 0)
			assert.Less(t, from, i, "k=%d i=%d must reference an earlier output", k, i)
		}
	}
}

func TestForwardSkipChain(t *testing.T) {
	// Identity adapter layers reduce fusion to plain arithmetic on the
	// constant features 1, 10, 100, 1000.
	tests := []struct {
		skip    int
		outputs []float64
		skips   []Skip
	}{
		{skip: 0, outputs: []float64{1, 11, 111, 1111}},
		{skip: 1, outputs: []float64{1, 12, 124, 1248}, skips: []Skip{{1, 0}, {2, 1}, {3, 2}}},
		{skip: 2, outputs: []float64{1, 12, 112, 1124}, skips: []Skip{{1, 0}, {3, 1}}},
		{skip: 3, outputs: []float64{1, 11, 112, 1112}, skips: []Skip{{2, 0}}},
		{skip: 5, outputs: []float64{1, 11, 111, 1111}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("skip=%d", tt.skip), func(t *testing.T) {
			model := newFakeModel(8, 1, 10, 100, 1000)
			cfg := smallConfig(model.names...)
			cfg.SkipLayers = tt.skip
			a, err := New(model, cfg)
			require.NoError(t, err)
			identityAdapter(a)

			out, err := a.ForwardDetailed(&Inputs{})
			require.NoError(t, err)
			require.Len(t, out.LayerOutputs, 4)
			for i, want := range tt.outputs {
				got := out.LayerOutputs[i]
				assert.InDelta(t, want, got.At(0, 0), 1e-9, "output %d", i)
				assert.InDelta(t, want, got.At(5, 7), 1e-9, "output %d", i)
			}
			assert.Equal(t, tt.skips, out.Skips)
			assert.Same(t, out.LayerOutputs[3], out.Final)
		})
	}
}

func TestForwardSingleInjectionLayer(t *testing.T) {
	model := newFakeModel(8, 0.3)
	for _, skip := range []int{0, 1, 3} {
		cfg := smallConfig(model.names...)
		cfg.SkipLayers = skip
		a, err := New(model, cfg)
		require.NoError(t, err)

		final, last, err := a.Forward(&Inputs{})
		require.NoError(t, err)

		// zero fusion input: the feature goes through unchanged
		want, err := a.Layers[0].Forward(model.features["layer.0"])
		require.NoError(t, err)
		assert.True(t, tensor.Equal(want, final, 1e-12), "skip=%d", skip)
		assert.True(t, tensor.Equal(model.last, last, 0))
	}
}

func TestForwardSkipGrowsMagnitude(t *testing.T) {
	// base hidden 16, bottleneck 4, three injection layers
	run := func(skip int) []float64 {
		model := newFakeModel(16, 1, 1, 1)
		cfg := smallConfig(model.names...)
		cfg.SkipLayers = skip
		a, err := New(model, cfg)
		require.NoError(t, err)
		identityAdapter(a)

		out, err := a.ForwardDetailed(&Inputs{})
		require.NoError(t, err)
		norms := make([]float64, len(out.LayerOutputs))
		for i, o := range out.LayerOutputs {
			norms[i] = o.Norm()
		}
		return norms
	}

	baseline := run(0)
	skipped := run(1)
	for i := 1; i < 3; i++ {
		assert.Greater(t, skipped[i], skipped[i-1])
		assert.Greater(t, skipped[i], baseline[i])
	}
	assert.InDelta(t, baseline[0], skipped[0], 1e-12)
}

func TestForwardWithTrainedLayersIsDeterministic(t *testing.T) {
	model := newFakeModel(8, 0.1, -0.2, 0.3, 0.7)
	a, err := New(model, smallConfig(model.names...))
	require.NoError(t, err)

	first, _, err := a.Forward(&Inputs{})
	require.NoError(t, err)
	second, _, err := a.Forward(&Inputs{})
	require.NoError(t, err)
	assert.True(t, tensor.Equal(first, second, 0))
	assert.Equal(t, []int{2, 3, 8}, first.Shape())
	assert.EqualValues(t, 2, model.calls.Load(), "base model runs once per forward")
}

func TestForwardShapeErrors(t *testing.T) {
	t.Run("feature shape", func(t *testing.T) {
		model := newFakeModel(8, 1, 2)
		model.features["layer.1"] = tensor.MustNew([]int{2, 4}, 8)
		a, err := New(model, smallConfig(model.names...))
		require.NoError(t, err)

		before := testutil.ToFloat64(forwardErrorsTotal.WithLabelValues("shape"))
		_, _, err = a.Forward(&Inputs{})
		require.Error(t, err)
		assert.True(t, IsShapeError(err))
		assert.Contains(t, err.Error(), "layer.1")
		assert.Equal(t, before+1, testutil.ToFloat64(forwardErrorsTotal.WithLabelValues("shape")))
	})

	t.Run("hidden size", func(t *testing.T) {
		model := newFakeModel(8, 1)
		model.last = tensor.MustNew([]int{2, 3}, 6)
		a, err := New(model, smallConfig(model.names...))
		require.NoError(t, err)

		_, _, err = a.Forward(&Inputs{})
		assert.True(t, IsShapeError(err))
	})

	t.Run("feature count", func(t *testing.T) {
		model := newFakeModel(8, 1, 2)
		a, err := New(model, smallConfig(model.names...))
		require.NoError(t, err)
		a.run = &fakeExtractor{m: model, layers: model.names[:1]}

		_, _, err = a.Forward(&Inputs{})
		assert.True(t, IsShapeError(err))
	})

	t.Run("base model failure", func(t *testing.T) {
		model := newFakeModel(8, 1)
		boom := errors.New("boom")
		model.runErr = boom
		a, err := New(model, smallConfig(model.names...))
		require.NoError(t, err)

		_, _, err = a.Forward(&Inputs{})
		assert.ErrorIs(t, err, boom)
		assert.False(t, IsShapeError(err))
	})
}

func TestNewConfigErrors(t *testing.T) {
	model := newFakeModel(8, 1, 2)
	tests := map[string]*Config{
		"empty layers":     smallConfig(),
		"duplicate layers": smallConfig("layer.0", "layer.0"),
		"unknown layer":    smallConfig("layer.0", "layer.9"),
		"blank layer":      smallConfig(""),
	}
	negSkip := smallConfig("layer.0")
	negSkip.SkipLayers = -1
	tests["negative skip"] = negSkip
	badHeads := smallConfig("layer.0")
	badHeads.Encoder.NumHeads = 3
	tests["heads"] = badHeads
	noLayers := smallConfig("layer.0")
	noLayers.Encoder.NumLayers = 0
	tests["encoder layers"] = noLayers

	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := New(model, cfg)
			require.Error(t, err)
			assert.True(t, IsConfigError(err), "got %v", err)
		})
	}

	_, err := New(nil, smallConfig("layer.0"))
	assert.True(t, IsConfigError(err))
	_, err = New(model, nil)
	assert.True(t, IsConfigError(err))
}

func TestNewBuildsOneLayerPerInjectionPoint(t *testing.T) {
	model := newFakeModel(8, 1, 2, 3)
	a, err := New(model, smallConfig("layer.2", "layer.0"))
	require.NoError(t, err)

	require.Len(t, a.Layers, len(a.InjectionLayers))
	assert.Equal(t, []string{"layer.2", "layer.0"}, a.InjectionLayers)
	assert.Equal(t, DefaultSkipLayers, a.SkipLayers)
	assert.Same(t, model, a.BaseModel())
	for _, l := range a.Layers {
		assert.Equal(t, 8, l.BaseHiddenDim)
		assert.Equal(t, 4, l.HiddenDim)
	}
	// each layer has its own initialization stream
	assert.NotEqual(t, a.Layers[0].Down.Weight.RawMatrix().Data, a.Layers[1].Down.Weight.RawMatrix().Data)

	// injection order drives extraction order
	identityAdapter(a)
	out, err := a.ForwardDetailed(&Inputs{})
	require.NoError(t, err)
	assert.InDelta(t, 3, out.LayerOutputs[0].At(0, 0), 1e-12)
	assert.InDelta(t, 4, out.LayerOutputs[1].At(0, 0), 1e-12)
}

func TestSeedReproducible(t *testing.T) {
	model := newFakeModel(8, 1, 2)
	a, err := New(model, smallConfig(model.names...))
	require.NoError(t, err)
	b, err := New(model, smallConfig(model.names...))
	require.NoError(t, err)

	for i := range a.Layers {
		assert.Equal(t, a.Layers[i].Up.Weight.RawMatrix().Data, b.Layers[i].Up.Weight.RawMatrix().Data)
	}
	assert.NotEqual(t, a.ID, b.ID)
}

func TestForwardMetrics(t *testing.T) {
	model := newFakeModel(8, 1, 2, 3)
	cfg := smallConfig(model.names...)
	cfg.SkipLayers = 1
	a, err := New(model, cfg)
	require.NoError(t, err)

	total := testutil.ToFloat64(forwardTotal)
	skips := testutil.ToFloat64(skipAdditionsTotal)
	_, _, err = a.Forward(&Inputs{})
	require.NoError(t, err)
	assert.Equal(t, total+1, testutil.ToFloat64(forwardTotal))
	assert.Equal(t, skips+2, testutil.ToFloat64(skipAdditionsTotal))
}

func TestForwardConcurrentInference(t *testing.T) {
	model := newFakeModel(8, 0.5, 0.25, 0.125)
	a, err := New(model, smallConfig(model.names...))
	require.NoError(t, err)
	want, _, err := a.Forward(&Inputs{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*tensor.Tensor, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = a.Forward(&Inputs{})
		}(i)
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		assert.True(t, tensor.Equal(want, results[i], 0))
	}
}

func TestParametersAndDescribe(t *testing.T) {
	model := newFakeModel(8, 1, 2)
	cfg := smallConfig(model.names...)
	cfg.Name = "factual"
	cfg.SkipLayers = 2
	a, err := New(model, cfg)
	require.NoError(t, err)

	assert.Equal(t, 2*a.Layers[0].NumParameters(), a.NumParameters())
	desc := a.Describe()
	assert.Contains(t, desc, "adapter factual: 2 layers")
	assert.Contains(t, desc, "+skip from [0]")

	before := a.Layers[1].Up.Weight.At(0, 0)
	a.InitWeights()
	assert.NotEqual(t, before, a.Layers[1].Up.Weight.At(0, 0))
}
