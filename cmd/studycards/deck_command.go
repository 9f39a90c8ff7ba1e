package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"studycards/internal/db"
	"studycards/internal/services"
)

func newDeckCommand(ctx *commandContext) *cobra.Command {
	deckCmd := &cobra.Command{
		Use:   "deck",
		Short: "Inspect the review deck",
	}
	deckCmd.AddCommand(newDeckStatsCommand(ctx))
	deckCmd.AddCommand(newDeckNextCommand(ctx))
	return deckCmd
}

func (c *commandContext) withDeck(fn func(*services.DeckService) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()
	return fn(services.NewDeckService(conn))
}

func newDeckStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show card counts by review state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDeck(func(deck *services.DeckService) error {
				stats, err := deck.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				rows := [][]string{
					{"Total", strconv.Itoa(stats.Total)},
					{"Due now", strconv.Itoa(stats.Due)},
					{"New", strconv.Itoa(stats.New)},
					{"Learning", strconv.Itoa(stats.Learning)},
					{"Review", strconv.Itoa(stats.Review)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Cards", "Count"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newDeckNextCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the next card due for review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDeck(func(deck *services.DeckService) error {
				card, err := deck.NextCard(cmd.Context())
				if errors.Is(err, services.ErrNoDueCards) {
					fmt.Fprintln(cmd.OutOrStdout(), "No cards due. Come back later!")
					return nil
				}
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{
						"id":       card.ID,
						"question": card.Question,
						"answer":   card.Answer,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Question", "Answer"},
					[][]string{{strconv.FormatInt(card.ID, 10), card.Question, card.Answer}},
					[]columnAlignment{alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}
