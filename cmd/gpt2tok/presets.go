package main

import (
	"fmt"

	"github.com/gomlx/gpt2bpe/hub"
	"github.com/gomlx/gpt2bpe/tokenizers/gpt2"
	"github.com/spf13/cobra"
)

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the installed presets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, err := openCache()
			if err != nil {
				return err
			}
			names, err := gpt2.Presets(cache)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				_, err = fmt.Fprintf(out, "no presets installed in %s\n", cache.Dir())
				return err
			}
			for _, name := range names {
				if _, err := fmt.Fprintln(out, name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newInstallCmd() *cobra.Command {
	var (
		configPath string
		force      bool
	)
	cmd := &cobra.Command{
		Use:   "install NAME VOCAB_JSON MERGES_TXT",
		Short: "Install a preset from local vocabulary and merges files",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openCache()
			if err != nil {
				return err
			}
			source := hub.Preset{VocabularyFile: args[1], MergesFile: args[2], ConfigFile: configPath}

			// Refuse files that don't make a valid GPT-2 tokenizer.
			if _, err := gpt2.NewFromFiles(source.VocabularyFile, source.MergesFile, activeCfg.Tokenizer.Options()); err != nil {
				return err
			}
			preset, err := cache.Install(cmd.Context(), args[0], source, force)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "installed preset %q in %s\n", preset.Name, cache.Dir())
			return err
		},
	}
	cmd.Flags().StringVar(&configPath, "tokenizer-config", "", "Optional tokenizer_config.json to install with the preset")
	cmd.Flags().BoolVar(&force, "force", false, "Replace the files of an already installed preset")
	return cmd
}
