package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"studycards/internal/textnorm"
)

func newNormalizeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <file>",
		Short: "Print the normalized text of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := ctx.readNormalized(args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{
					"preview":    text,
					"word_count": textnorm.WordCount(text),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			fmt.Fprintf(cmd.ErrOrStderr(), "%d words\n", textnorm.WordCount(text))
			return nil
		},
	}
}
