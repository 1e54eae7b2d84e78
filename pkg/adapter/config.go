package adapter

import (
	"kadapter/internal/nn"
)

// DefaultSkipLayers is the skip interval used when none is configured.
const DefaultSkipLayers = 3

// EncoderConfig holds the hyperparameters of the encoder stack inside each
// adapter layer. Every field is checked by Validate.
type EncoderConfig struct {
	NumLayers             int     `json:"num_hidden_layers" yaml:"num_hidden_layers" toml:"num_hidden_layers"`
	NumHeads              int     `json:"num_attention_heads" yaml:"num_attention_heads" toml:"num_attention_heads"`
	IntermediateSize      int     `json:"intermediate_size" yaml:"intermediate_size" toml:"intermediate_size"`
	Activation            string  `json:"hidden_act" yaml:"hidden_act" toml:"hidden_act"`
	HiddenDropout         float64 `json:"hidden_dropout_prob" yaml:"hidden_dropout_prob" toml:"hidden_dropout_prob"`
	AttentionDropout      float64 `json:"attention_probs_dropout_prob" yaml:"attention_probs_dropout_prob" toml:"attention_probs_dropout_prob"`
	LayerNormEps          float64 `json:"layer_norm_eps" yaml:"layer_norm_eps" toml:"layer_norm_eps"`
	MaxPositionEmbeddings int     `json:"max_position_embeddings" yaml:"max_position_embeddings" toml:"max_position_embeddings"`
}

// NewDefaultEncoderConfig returns a two-layer, twelve-head encoder.
func NewDefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		NumLayers:        2,
		NumHeads:         12,
		IntermediateSize: 3072,
		Activation:       "gelu",
		HiddenDropout:    0.1,
		AttentionDropout: 0.1,
		LayerNormEps:     1e-12,
	}
}

// build converts the config to the nn form for a bottleneck of width dim.
func (c EncoderConfig) build(dim int) (nn.EncoderConfig, error) {
	act, err := nn.ParseActivation(c.Activation)
	if err != nil {
		return nn.EncoderConfig{}, configErrorf("%v", err)
	}
	cfg := nn.EncoderConfig{
		ModelDim:         dim,
		NumLayers:        c.NumLayers,
		NumHeads:         c.NumHeads,
		IntermediateSize: c.IntermediateSize,
		Activation:       act,
		HiddenDropout:    c.HiddenDropout,
		AttentionDropout: c.AttentionDropout,
		LayerNormEps:     c.LayerNormEps,
		MaxPositions:     c.MaxPositionEmbeddings,
	}
	if err := cfg.Validate(); err != nil {
		return nn.EncoderConfig{}, configErrorf("encoder: %v", err)
	}
	return cfg, nil
}

// LayerConfig configures a single AdapterLayer.
type LayerConfig struct {
	BaseHiddenDim    int
	HiddenDim        int
	InitializerRange float64
	Encoder          EncoderConfig
	Seed             int64
}

// Validate checks the layer configuration.
func (c LayerConfig) Validate() error {
	if c.BaseHiddenDim <= 0 {
		return configErrorf("base model hidden dim must be positive, got %d", c.BaseHiddenDim)
	}
	if c.HiddenDim <= 0 {
		return configErrorf("hidden dimension must be positive, got %d", c.HiddenDim)
	}
	if c.InitializerRange <= 0 {
		return configErrorf("initializer range must be positive, got %g", c.InitializerRange)
	}
	_, err := c.Encoder.build(c.HiddenDim)
	return err
}

// Config configures an Adapter. The base model hidden size is taken from
// the model the adapter is attached to.
type Config struct {
	Name             string        `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	InjectionLayers  []string      `json:"injection_layers" yaml:"injection_layers" toml:"injection_layers"`
	SkipLayers       int           `json:"skip_layers" yaml:"skip_layers" toml:"skip_layers"`
	HiddenDim        int           `json:"hidden_dimension" yaml:"hidden_dimension" toml:"hidden_dimension"`
	InitializerRange float64       `json:"initializer_range" yaml:"initializer_range" toml:"initializer_range"`
	Seed             int64         `json:"seed,omitempty" yaml:"seed,omitempty" toml:"seed,omitempty"`
	Encoder          EncoderConfig `json:"encoder" yaml:"encoder" toml:"encoder"`
}

// NewDefaultConfig creates a configuration with default values. Injection
// layers have no default and must be set by the caller.
func NewDefaultConfig() *Config {
	return &Config{
		SkipLayers:       DefaultSkipLayers,
		HiddenDim:        768,
		InitializerRange: 0.0002,
		Encoder:          NewDefaultEncoderConfig(),
	}
}

// Validate checks everything that can be checked without a base model.
func (c *Config) Validate() error {
	if len(c.InjectionLayers) == 0 {
		return configErrorf("at least one injection layer is required")
	}
	seen := make(map[string]bool, len(c.InjectionLayers))
	for _, l := range c.InjectionLayers {
		if l == "" {
			return configErrorf("injection layer names must not be empty")
		}
		if seen[l] {
			return configErrorf("duplicate injection layer %q", l)
		}
		seen[l] = true
	}
	if c.SkipLayers < 0 {
		return configErrorf("skip layers must be >= 0, got %d", c.SkipLayers)
	}
	if c.HiddenDim <= 0 {
		return configErrorf("hidden dimension must be positive, got %d", c.HiddenDim)
	}
	if c.InitializerRange <= 0 {
		return configErrorf("initializer range must be positive, got %g", c.InitializerRange)
	}
	_, err := c.Encoder.build(c.HiddenDim)
	return err
}

// layerConfig returns the config of the adapter layer at position i.
func (c *Config) layerConfig(baseHidden int, seed int64, i int) LayerConfig {
	return LayerConfig{
		BaseHiddenDim:    baseHidden,
		HiddenDim:        c.HiddenDim,
		InitializerRange: c.InitializerRange,
		Encoder:          c.Encoder,
		Seed:             seed + int64(i),
	}
}

// Option adjusts a Config.
type Option func(*Config)

// WithName sets the adapter name used in logs.
func WithName(name string) Option { return func(c *Config) { c.Name = name } }

// WithInjectionLayers sets the ordered injection layers.
func WithInjectionLayers(layers ...string) Option {
	return func(c *Config) { c.InjectionLayers = append([]string(nil), layers...) }
}

// WithSkipLayers sets the skip interval; 0 disables cross-layer skips.
func WithSkipLayers(k int) Option { return func(c *Config) { c.SkipLayers = k } }

// WithHiddenDim sets the bottleneck width.
func WithHiddenDim(dim int) Option { return func(c *Config) { c.HiddenDim = dim } }

// WithInitializerRange sets r for the U[-r, r] weight initialization.
func WithInitializerRange(r float64) Option { return func(c *Config) { c.InitializerRange = r } }

// WithEncoder replaces the encoder hyperparameters.
func WithEncoder(e EncoderConfig) Option { return func(c *Config) { c.Encoder = e } }

// WithSeed fixes the weight initialization seed.
func WithSeed(seed int64) Option { return func(c *Config) { c.Seed = seed } }
