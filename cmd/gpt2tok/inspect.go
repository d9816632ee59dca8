package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/gpt2bpe/tokenizers/bpe"
	"github.com/gomlx/gpt2bpe/tokenizers/gpt2"
	"github.com/spf13/cobra"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Width(18)
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

func newInspectCmd() *cobra.Command {
	var showMerges int
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a summary of the configured tokenizer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := loadTokenizer(cmd.Context())
			if err != nil {
				return err
			}
			source, _ := activeCfg.Tokenizer.Source()
			options := tok.Options()
			rows := [][2]string{
				{"source", source},
				{"vocabulary size", fmt.Sprint(tok.VocabularySize())},
				{"merge rules", fmt.Sprint(tok.Merges().Len())},
				{"end token", fmt.Sprintf("%s = %d", gpt2.EndToken, tok.EndTokenID())},
				{"add prefix space", fmt.Sprint(options.AddPrefixSpace)},
				{"normalization", valueOr(options.Normalization, "none")},
				{"chunk cache", cacheDescription(options.CacheSize)},
				{"workers", fmt.Sprint(options.Workers)},
			}
			var sb strings.Builder
			for _, row := range rows {
				sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(row[0]), row[1]))
				sb.WriteString("\n")
			}
			if showMerges > 0 {
				sb.WriteString(titleStyle.Render("top merges"))
				sb.WriteString("\n")
				for rank, rule := range tok.Merges().Rules() {
					if rank >= showMerges {
						break
					}
					fmt.Fprintf(&sb, "%6d  %s\n", rank, rule)
				}
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), sb.String())
			return err
		},
	}
	cmd.Flags().IntVar(&showMerges, "merges-shown", 0, "Also print the given number of highest priority merge rules")
	return cmd
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func cacheDescription(size int) string {
	if size < 0 {
		return "disabled"
	}
	if size == 0 {
		size = bpe.DefaultCacheSize
	}
	return fmt.Sprintf("%d chunks", size)
}
