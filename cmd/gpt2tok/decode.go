package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "decode [id...]",
		Short: "Decode token ids to text",
		Long: "Decode the ids given as arguments, or read from the standard input if there are none.\n" +
			"Ids are separated by spaces, commas or newlines.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := loadTokenizer(cmd.Context())
			if err != nil {
				return err
			}
			fields := args
			if len(fields) == 0 {
				content, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "reading standard input")
				}
				fields = []string{string(content)}
			}
			ids, err := parseIDs(fields)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if raw {
				bytes, err := tok.DecodeBytes(ids)
				if err != nil {
					return err
				}
				_, err = out.Write(bytes)
				return err
			}
			text, err := tok.Decode(ids)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, text)
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Write the decoded bytes as they are, even if not valid UTF-8, without a trailing newline")
	return cmd
}

// parseIDs parses token ids separated by spaces, commas or newlines.
func parseIDs(fields []string) ([]int, error) {
	var ids []int
	for _, field := range fields {
		for _, s := range strings.FieldsFunc(field, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '[' || r == ']'
		}) {
			id, err := strconv.Atoi(s)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid token id %q", s)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
