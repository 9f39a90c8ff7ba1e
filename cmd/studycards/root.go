package main

import (
	"github.com/spf13/cobra"

	"studycards/internal/config"
	"studycards/internal/services"
)

func newRootCommand() *cobra.Command {
	return buildRootCommand(services.NewChatBackend)
}

func buildRootCommand(newBackend func(config.LLMConfig) (services.ChatBackend, error)) *cobra.Command {
	var configFlag string
	var jsonFlag bool

	ctx := newCommandContext(&configFlag, &jsonFlag, newBackend)

	rootCmd := &cobra.Command{
		Use:           "studycards",
		Short:         "Turn lecture notes into flashcards and quizzes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print raw JSON instead of tables")

	rootCmd.AddCommand(newNormalizeCommand(ctx))
	rootCmd.AddCommand(newFlashcardsCommand(ctx))
	rootCmd.AddCommand(newQuizCommand(ctx))
	rootCmd.AddCommand(newDeckCommand(ctx))

	return rootCmd
}
