package main

import (
	"context"
	"flag"

	"github.com/gomlx/gpt2bpe/hub"
	"github.com/gomlx/gpt2bpe/internal/config"
	"github.com/gomlx/gpt2bpe/tokenizers/gpt2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "gpt2tok",
		Short:         "GPT-2 byte-level BPE tokenizer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	// klog flags: -v, --logtostderr, ...
	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cmd.AddCommand(newEncodeCmd())
	cmd.AddCommand(newDecodeCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newPresetsCmd())
	cmd.AddCommand(newInstallCmd())

	return cmd
}

// openCache opens the presets directory of the active configuration.
func openCache() (*hub.Cache, error) {
	return hub.NewCache(activeCfg.Cache.Dir)
}

// loadTokenizer creates the tokenizer selected by the active configuration.
func loadTokenizer(ctx context.Context) (*gpt2.Tokenizer, error) {
	tc := activeCfg.Tokenizer
	source, err := tc.Source()
	if err != nil {
		return nil, err
	}
	options := tc.Options()
	var tok *gpt2.Tokenizer
	switch source {
	case "files":
		tok, err = gpt2.NewFromFiles(tc.Vocab, tc.Merges, options)
	case "tokenizer-json":
		tok, err = gpt2.NewFromHFTokenizer(tc.TokenizerJSON, options)
	case "gguf":
		tok, err = gpt2.NewFromGGUF(tc.GGUF, options)
	case "preset":
		var cache *hub.Cache
		if cache, err = openCache(); err == nil {
			tok, err = gpt2.FromPreset(ctx, cache, tc.Preset, options)
		}
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "loading tokenizer from %s", source)
	}
	klog.V(1).Infof("loaded tokenizer from %s: %d tokens, %d merges", source, tok.VocabularySize(), tok.Merges().Len())
	return tok, nil
}
