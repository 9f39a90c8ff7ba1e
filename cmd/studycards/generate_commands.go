package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"studycards/internal/services"
)

func newFlashcardsCommand(ctx *commandContext) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "flashcards <file>",
		Short: "Generate flashcards from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := ctx.readNormalized(args[0])
			if err != nil {
				return err
			}
			gen, err := ctx.generationService()
			if err != nil {
				return err
			}
			cards, err := gen.GenerateFlashcards(cmd.Context(), text, count)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{"flashcards": cards})
			}

			rows := make([][]string, 0, len(cards))
			for i, card := range cards {
				rows = append(rows, []string{strconv.Itoa(i + 1), card.Question, card.Answer})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Question", "Answer"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", services.DefaultItemCount, "Number of flashcards to generate")
	return cmd
}

func newQuizCommand(ctx *commandContext) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "quiz <file>",
		Short: "Generate a multiple choice quiz from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := ctx.readNormalized(args[0])
			if err != nil {
				return err
			}
			gen, err := ctx.generationService()
			if err != nil {
				return err
			}
			quiz, err := gen.GenerateQuiz(cmd.Context(), text, count)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{"quiz": quiz})
			}

			rows := make([][]string, 0, len(quiz))
			for i, q := range quiz {
				options := make([]string, len(q.Options))
				for j, opt := range q.Options {
					options[j] = fmt.Sprintf("%c) %s", 'A'+j, opt)
				}
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					q.Question,
					strings.Join(options, "\n"),
					q.CorrectAnswer,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Question", "Options", "Answer"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", services.DefaultItemCount, "Number of questions to generate")
	return cmd
}
