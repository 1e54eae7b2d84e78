// Package adapter injects small trainable bottleneck layers at selected
// hidden layers of a frozen transformer encoder and fuses their outputs
// across layers.
//
// An Adapter owns one AdapterLayer per injection layer. On every forward
// pass it runs the base model once, takes the hidden state captured at
// each injection layer, adds the previous adapter output to it and feeds
// the sum through the matching AdapterLayer. Every SkipLayers layers the
// output additionally receives an earlier adapter output.
//
//	model := basemodel.MustNew(basemodel.NewDefaultConfig())
//	factory := adapter.NewFactory(model)
//	a, err := factory.NewWith(
//		adapter.WithInjectionLayers("encoder.layer.0", "encoder.layer.1", "encoder.layer.3"),
//		adapter.WithHiddenDim(48),
//	)
//	final, lastHidden, err := a.Forward(&adapter.Inputs{InputIDs: ids})
package adapter
