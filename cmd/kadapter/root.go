package main

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kadapter/internal/config"
	"kadapter/internal/logging"
	"kadapter/internal/tokenizer"
	"kadapter/pkg/adapter"
	"kadapter/pkg/basemodel"
)

type options struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg config.File
	log zerolog.Logger
}

// newRootCmd constructs the command tree.
func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "kadapter",
		Short:         "Bottleneck adapters with cross-layer fusion for frozen transformer encoders",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (.yaml, .yml, .json, .toml); defaults are used when empty")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: console|json (overrides config)")

	root.AddCommand(newValidateCmd(opts), newInspectCmd(opts), newRunCmd(opts))
	return root
}

func (o *options) load(logOut io.Writer) error {
	o.cfg = config.Default()
	if o.configPath != "" {
		cfg, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		o.cfg = cfg
	}
	if o.logLevel != "" {
		o.cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		o.cfg.Log.Format = o.logFormat
	}
	log, err := logging.New(o.cfg.Log.Level, o.cfg.Log.Format, logOut)
	if err != nil {
		return err
	}
	o.log = log
	return nil
}

// build validates the config and constructs the base model and adapter.
func (o *options) build() (*basemodel.Model, *adapter.Adapter, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, nil, err
	}
	model, err := basemodel.New(o.cfg.BaseModel)
	if err != nil {
		return nil, nil, err
	}
	a, err := adapter.NewFactory(model, adapter.WithLogger(o.log)).New(&o.cfg.Adapter)
	if err != nil {
		return nil, nil, err
	}
	return model, a, nil
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without building any weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.cfg.Validate(); err != nil {
				return err
			}
			ad := opts.cfg.Adapter
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d injection layers, skip_layers=%d, bottleneck %d -> %d\n",
				len(ad.InjectionLayers), ad.SkipLayers, opts.cfg.BaseModel.HiddenSize, ad.HiddenDim)
			return nil
		},
	}
}

func newInspectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Build the base model and adapter and print their layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			model, a, err := opts.build()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "base model: hidden=%d layers=%d params=%d (frozen)\n",
				model.HiddenSize(), len(model.Layers), model.NumParameters())
			fmt.Fprintf(out, "hook points: %v\n", model.LayerNames())
			fmt.Fprint(out, a.Describe())
			return nil
		},
	}
}

func newRunCmd(opts *options) *cobra.Command {
	var (
		batch, seq, skip int
		seed             int64
		texts            []string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one forward pass on random token ids or on --text inputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("skip-layers") {
				opts.cfg.Adapter.SkipLayers = skip
			}
			if batch <= 0 || seq <= 0 {
				return fmt.Errorf("batch and seq must be positive, got %d and %d", batch, seq)
			}
			model, a, err := opts.build()
			if err != nil {
				return err
			}

			var inputs *adapter.Inputs
			if len(texts) > 0 {
				inputs, err = encodeTexts(texts, model.Config)
				if err != nil {
					return err
				}
			} else {
				inputs = randomInputs(batch, seq, model.Config.VocabSize, seed)
			}

			res, err := a.ForwardDetailed(inputs)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			skipAt := make(map[int]int, len(res.Skips))
			for _, s := range res.Skips {
				skipAt[s.At] = s.From
			}
			for i, o := range res.LayerOutputs {
				fmt.Fprintf(out, "[%d] %-20s norm=%.6f", i, a.InjectionLayers[i], o.Norm())
				if from, ok := skipAt[i]; ok {
					fmt.Fprintf(out, " (+skip from [%d])", from)
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "adapter output %v, base last hidden state %v\n",
				res.Final.Shape(), res.LastHiddenState.Shape())
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 2, "Batch size")
	cmd.Flags().IntVar(&seq, "seq", 8, "Sequence length")
	cmd.Flags().IntVar(&skip, "skip-layers", adapter.DefaultSkipLayers, "Override skip_layers from the config")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Seed for the random token ids")
	cmd.Flags().StringArrayVar(&texts, "text", nil, "Input text, repeatable; replaces the random batch")
	return cmd
}

func randomInputs(batch, seq, vocab int, seed int64) *adapter.Inputs {
	rng := rand.New(rand.NewSource(seed))
	ids := make([][]int, batch)
	for b := range ids {
		ids[b] = make([]int, seq)
		for p := range ids[b] {
			ids[b][p] = rng.Intn(vocab)
		}
	}
	return &adapter.Inputs{InputIDs: ids}
}

// encodeTexts builds a vocabulary from texts that fits the base model and
// returns the padded batch with its attention mask.
func encodeTexts(texts []string, base basemodel.Config) (*adapter.Inputs, error) {
	opts := tokenizer.NewDefaultOptions()
	opts.ModelMaxLength = base.MaxPositions
	tok, err := tokenizer.BuildVocabulary(texts, base.VocabSize, opts)
	if err != nil {
		return nil, err
	}
	enc, err := tok.BatchEncode(texts)
	if err != nil {
		return nil, err
	}
	return &adapter.Inputs{InputIDs: enc.InputIDs, AttentionMask: enc.AttentionMask}, nil
}
