// Package nn contains the layers the adapter bottleneck and the reference
// base model are assembled from: affine maps, embeddings, layer
// normalization, dropout and a BERT-style self-attention encoder stack.
package nn

import "gonum.org/v1/gonum/mat"

// Module is a node in a layer tree.
type Module interface {
	// Children returns the direct sub-modules, or nil for a leaf.
	Children() []Module
}

// Parameterized is implemented by modules that own learned values.
type Parameterized interface {
	Parameters() []mat.Matrix
}

// Walk calls fn for m and every module below it, parents first.
func Walk(m Module, fn func(Module)) {
	if m == nil {
		return
	}
	fn(m)
	for _, c := range m.Children() {
		Walk(c, fn)
	}
}

// CountParameters returns the number of learned scalars below m.
func CountParameters(m Module) int {
	n := 0
	Walk(m, func(mod Module) {
		p, ok := mod.(Parameterized)
		if !ok {
			return
		}
		for _, w := range p.Parameters() {
			r, c := w.Dims()
			n += r * c
		}
	})
	return n
}

// SetTraining switches every Dropout below m on or off.
func SetTraining(m Module, training bool) {
	Walk(m, func(mod Module) {
		if d, ok := mod.(*Dropout); ok {
			d.Training = training
		}
	})
}
