package basemodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kadapter/internal/tensor"
	"kadapter/pkg/adapter"
)

func tinyConfig() Config {
	cfg := NewDefaultConfig()
	cfg.VocabSize = 50
	cfg.HiddenSize = 16
	cfg.NumLayers = 3
	cfg.NumHeads = 2
	cfg.IntermediateSize = 32
	cfg.MaxPositions = 8
	return cfg
}

func tinyInputs() *adapter.Inputs {
	return &adapter.Inputs{InputIDs: [][]int{{1, 2, 3, 4}, {5, 6, 7, 0}}}
}

func TestLayerNames(t *testing.T) {
	m := MustNew(tinyConfig())
	assert.Equal(t, []string{"embeddings", "encoder.layer.0", "encoder.layer.1", "encoder.layer.2"}, m.LayerNames())
	assert.Equal(t, 16, m.HiddenSize())
	assert.Greater(t, m.NumParameters(), 0)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := tinyConfig()
	cfg.NumHeads = 5
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = tinyConfig()
	cfg.Activation = "unknown"
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = tinyConfig()
	cfg.VocabSize = 0
	assert.Panics(t, func() { MustNew(cfg) })
}

func TestExtractorUnknownLayer(t *testing.T) {
	m := MustNew(tinyConfig())
	_, err := m.Extractor([]string{"encoder.layer.0", "encoder.layer.7"})
	require.Error(t, err)
	assert.True(t, adapter.IsConfigError(err))

	_, err = m.Extractor(nil)
	assert.True(t, adapter.IsConfigError(err))
}

func TestRunCapturesInRequestedOrder(t *testing.T) {
	m := MustNew(tinyConfig())
	ex, err := m.Extractor([]string{"encoder.layer.2", "embeddings", "encoder.layer.0"})
	require.NoError(t, err)

	out, feats, err := ex.Run(tinyInputs())
	require.NoError(t, err)
	require.Len(t, feats, 3)
	assert.Equal(t, []int{2, 4, 16}, out.LastHiddenState.Shape())
	for _, f := range feats {
		assert.Equal(t, out.LastHiddenState.Shape(), f.Shape())
	}
	// the last encoder layer's hidden state is the final hidden state
	assert.True(t, tensor.Equal(out.LastHiddenState, feats[0], 0))
	assert.False(t, tensor.Equal(feats[1], feats[2], 1e-9))

	plain, err := m.Forward(tinyInputs())
	require.NoError(t, err)
	assert.True(t, tensor.Equal(plain.LastHiddenState, out.LastHiddenState, 0))
}

func TestRunReturnsFreshTensors(t *testing.T) {
	m := MustNew(tinyConfig())
	ex, err := m.Extractor([]string{"encoder.layer.1"})
	require.NoError(t, err)

	_, first, err := ex.Run(tinyInputs())
	require.NoError(t, err)
	want := first[0].Clone()
	first[0].Apply(func(float64) float64 { return 0 })

	_, second, err := ex.Run(tinyInputs())
	require.NoError(t, err)
	assert.True(t, tensor.Equal(want, second[0], 0))
}

func TestRunInputErrors(t *testing.T) {
	m := MustNew(tinyConfig())
	ex, err := m.Extractor([]string{"embeddings"})
	require.NoError(t, err)

	for name, in := range map[string]*adapter.Inputs{
		"nil":          nil,
		"empty":        {},
		"ragged":       {InputIDs: [][]int{{1, 2}, {3}}},
		"out of vocab": {InputIDs: [][]int{{1, 50}}},
		"too long":     {InputIDs: [][]int{{1, 2, 3, 4, 5, 6, 7, 8, 9}}},
	} {
		_, _, err := ex.Run(in)
		assert.Error(t, err, name)
	}
}

func TestAdapterEndToEnd(t *testing.T) {
	m := MustNew(tinyConfig())
	f := adapter.NewFactory(m)
	enc := adapter.NewDefaultEncoderConfig()
	enc.NumLayers = 1
	enc.NumHeads = 2
	enc.IntermediateSize = 8

	a, err := f.NewWith(
		adapter.WithInjectionLayers("encoder.layer.0", "encoder.layer.1", "encoder.layer.2"),
		adapter.WithHiddenDim(4),
		adapter.WithSkipLayers(1),
		adapter.WithEncoder(enc),
		adapter.WithSeed(11),
	)
	require.NoError(t, err)

	out, err := a.ForwardDetailed(tinyInputs())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 16}, out.Final.Shape())
	assert.Equal(t, []adapter.Skip{{At: 1, From: 0}, {At: 2, From: 1}}, out.Skips)

	final, last, err := a.Forward(tinyInputs())
	require.NoError(t, err)
	assert.True(t, tensor.Equal(out.Final, final, 1e-12))
	assert.True(t, tensor.Equal(out.LastHiddenState, last, 1e-12))

	_, _, err = a.Forward(&adapter.Inputs{InputIDs: [][]int{{99}}})
	assert.Error(t, err)
	assert.False(t, adapter.IsShapeError(err))
}

func TestAttentionMaskHidesPadding(t *testing.T) {
	m := MustNew(tinyConfig())

	short, err := m.Forward(&adapter.Inputs{InputIDs: [][]int{{7, 8}}})
	require.NoError(t, err)
	padded, err := m.Forward(&adapter.Inputs{
		InputIDs:      [][]int{{7, 8, 0, 0}},
		AttentionMask: [][]int{{1, 1, 0, 0}},
	})
	require.NoError(t, err)

	want := short.LastHiddenState.Dense()
	got := padded.LastHiddenState.Dense()
	for i := 0; i < 2; i++ {
		for j := 0; j < 16; j++ {
			assert.InDelta(t, want.At(i, j), got.At(i, j), 1e-9)
		}
	}
}

func TestAttentionMaskErrors(t *testing.T) {
	m := MustNew(tinyConfig())
	ids := [][]int{{1, 2}, {3, 4}}
	for name, mask := range map[string][][]int{
		"rows":   {{1, 1}},
		"width":  {{1, 1}, {1}},
		"values": {{1, 1}, {1, 3}},
	} {
		_, err := m.Forward(&adapter.Inputs{InputIDs: ids, AttentionMask: mask})
		assert.Error(t, err, name)
	}
}
