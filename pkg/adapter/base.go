package adapter

import "kadapter/internal/tensor"

// Inputs is a rectangular batch of token ids for the base model.
type Inputs struct {
	InputIDs [][]int
	// AttentionMask is optional. When set it has the shape of InputIDs,
	// with 1 for real tokens and 0 for padding.
	AttentionMask [][]int
}

// BaseOutput is the standard output of the base model.
type BaseOutput struct {
	// LastHiddenState has shape [batch, seq, hidden].
	LastHiddenState *tensor.Tensor
}

// FeatureExtractor is a base model bound to a fixed, ordered list of
// injection layers.
//
// Run performs one forward pass and returns, next to the standard output,
// the hidden state produced at each bound layer in binding order. The
// returned tensors belong to the caller; implementations must not reuse
// them between calls.
type FeatureExtractor interface {
	Run(inputs *Inputs) (*BaseOutput, []*tensor.Tensor, error)
}

// BaseModel is a pretrained encoder that adapters can be attached to.
type BaseModel interface {
	// HiddenSize is the width of every hidden state the model produces.
	HiddenSize() int
	// Extractor binds the model to the named layers. Unknown names are an error.
	Extractor(layers []string) (FeatureExtractor, error)
}
