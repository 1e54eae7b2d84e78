package adapter

import "github.com/rs/zerolog"

// Factory builds adapters for one base model.
type Factory struct {
	model BaseModel
	log   zerolog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithLogger sets the logger handed to every adapter the factory builds.
func WithLogger(l zerolog.Logger) FactoryOption { return func(f *Factory) { f.log = l } }

// NewFactory binds a base model.
func NewFactory(model BaseModel, opts ...FactoryOption) *Factory {
	f := &Factory{model: model, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Model returns the bound base model.
func (f *Factory) Model() BaseModel { return f.model }

// New builds a fresh adapter from cfg. A nil cfg means NewDefaultConfig,
// which fails validation until injection layers are set.
func (f *Factory) New(cfg *Config) (*Adapter, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	a, err := New(f.model, cfg)
	if err != nil {
		return nil, err
	}
	a.SetLogger(f.log)
	f.log.Info().
		Str("adapter", a.ID).
		Strs("injection_layers", a.InjectionLayers).
		Int("skip_layers", a.SkipLayers).
		Int("params", a.NumParameters()).
		Msg("adapter created")
	return a, nil
}

// NewWith builds a fresh adapter from the defaults adjusted by opts.
func (f *Factory) NewWith(opts ...Option) (*Adapter, error) {
	cfg := NewDefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return f.New(cfg)
}
