package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/gpt2bpe/tokenizers/bytelevel"
	"github.com/gomlx/gpt2bpe/tokenizers/gpt2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// pieceStyles alternate between adjacent subwords, so their boundaries are visible.
var pieceStyles = []lipgloss.Style{
	lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("153")),
	lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("223")),
}

func newEncodeCmd() *cobra.Command {
	var (
		pieces   bool
		spans    bool
		lines    bool
		appendEO bool
	)
	cmd := &cobra.Command{
		Use:   "encode [text...]",
		Short: "Encode text to token ids",
		Long: "Encode the arguments (joined by spaces), or the standard input if there are none, and print the token ids.\n" +
			"With --lines each input line is encoded separately, in parallel, and printed on its own line.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := loadTokenizer(cmd.Context())
			if err != nil {
				return err
			}
			var texts []string
			switch {
			case len(args) > 0:
				texts = []string{strings.Join(args, " ")}
			case lines:
				if texts, err = readLines(cmd.InOrStdin()); err != nil {
					return err
				}
			default:
				content, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "reading standard input")
				}
				texts = []string{string(content)}
			}

			out := cmd.OutOrStdout()
			if pieces {
				return printPieces(out, tok, texts)
			}
			if spans {
				return printSpans(out, tok, texts)
			}
			batch, err := tok.EncodeBatchContext(cmd.Context(), texts)
			if err != nil {
				return err
			}
			for _, ids := range batch {
				if appendEO {
					ids = append(ids, tok.EndTokenID())
				}
				if _, err := fmt.Fprintln(out, formatIDs(ids)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pieces, "pieces", false, "Print the subwords instead of the ids")
	cmd.Flags().BoolVar(&spans, "spans", false, "Print each id with its byte span in the text")
	cmd.Flags().BoolVar(&lines, "lines", false, "Encode each line of the standard input separately")
	cmd.Flags().BoolVar(&appendEO, "append-end", false, "Append the <|endoftext|> id to each sequence")
	return cmd
}

func readLines(r io.Reader) ([]string, error) {
	var texts []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		texts = append(texts, scanner.Text())
	}
	return texts, errors.Wrap(scanner.Err(), "reading standard input")
}

func formatIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, " ")
}

func printPieces(out io.Writer, tok *gpt2.Tokenizer, texts []string) error {
	for _, text := range texts {
		subwords, err := tok.Tokenize(text)
		if err != nil {
			return err
		}
		var sb strings.Builder
		for i, piece := range subwords {
			// A subword may hold only part of a multi-byte character.
			display := strings.ToValidUTF8(string(bytelevel.Decode(piece)), "�")
			sb.WriteString(pieceStyles[i%len(pieceStyles)].Render(display))
		}
		if _, err := fmt.Fprintln(out, sb.String()); err != nil {
			return err
		}
	}
	return nil
}

func printSpans(out io.Writer, tok *gpt2.Tokenizer, texts []string) error {
	for _, text := range texts {
		result, err := tok.EncodeWithSpans(text)
		if err != nil {
			return err
		}
		for i, id := range result.IDs {
			span := result.Spans[i]
			var covered string
			if span.End <= len(text) { // With normalization spans refer to the normalized text.
				covered = text[span.Start:span.End]
			}
			if _, err := fmt.Fprintf(out, "%d\t%d\t%d\t%q\n", id, span.Start, span.End, covered); err != nil {
				return err
			}
		}
	}
	return nil
}
