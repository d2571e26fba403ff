// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// profiles.go - profile management commands.

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/morganforge/chorus/internal/profile"
)

func newProfileCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage chat profiles",
		Long: `Manage named profiles. A profile bundles the models to query,
the sampling temperature, the completion cap, and an optional system
prompt, so a whole setup is one --profile flag away.`,
	}

	cmd.AddCommand(
		newProfileListCmd(app),
		newProfileShowCmd(app),
		newProfileSaveCmd(app),
		newProfileDeleteCmd(app),
		newProfileDefaultCmd(app),
	)
	return cmd
}

func newProfileListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Profiles()
			if err != nil {
				return err
			}

			profiles := store.List()
			if len(profiles) == 0 {
				printWarning(app.err, "no profiles saved (try `chorus profile save`)")
				return nil
			}

			defaultName := store.DefaultName()
			for _, p := range profiles {
				marker := "  "
				if p.Name == defaultName {
					marker = valueStyle.Render("* ")
				}
				fmt.Fprintf(app.out, "%s%s  %s\n",
					marker,
					valueStyle.Render(fmt.Sprintf("%-16s", p.Name)),
					dimStyle.Render(strings.Join(p.Models, ", ")))
			}
			return nil
		},
	}
}

func newProfileShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Profiles()
			if err != nil {
				return err
			}
			p, err := store.Get(args[0])
			if err != nil {
				return err
			}

			printHeading(app.out, p.Name)
			printField(app.out, "Models", "%s", strings.Join(p.Models, ", "))
			printField(app.out, "Temperature", "%.2f", p.Temperature)
			printField(app.out, "Max tokens", "%d", p.MaxTokens)
			if p.SystemPrompt != "" {
				printField(app.out, "System", "%s", p.SystemPrompt)
			}
			return nil
		},
	}
}

func newProfileSaveCmd(app *App) *cobra.Command {
	var (
		models       []string
		temperature  float64
		maxTokens    int
		systemPrompt string
	)

	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Create or update a profile",
		Example: `  chorus profile save review -m anthropic/claude-3.5-sonnet -m openai/gpt-4o \
    --temperature 0.2 --max-tokens 2048 --system "You are a code reviewer."`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Profiles()
			if err != nil {
				return err
			}

			p := profile.Profile{
				Name:         args[0],
				Models:       normalizeModels(models),
				Temperature:  temperature,
				MaxTokens:    maxTokens,
				SystemPrompt: systemPrompt,
			}
			if err := store.Save(p); err != nil {
				return err
			}
			printSuccess(app.err, "saved profile %s", p.Name)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&models, "model", "m", nil, "model id (repeatable, required)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.7, "sampling temperature (0-2)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 4096, "completion token cap")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt")
	cmd.MarkFlagRequired("model")

	return cmd
}

func newProfileDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Profiles()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			printSuccess(app.err, "deleted profile %s", args[0])
			return nil
		},
	}
}

func newProfileDefaultCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "default <name>",
		Short: "Set the default profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Profiles()
			if err != nil {
				return err
			}
			if err := store.SetDefault(args[0]); err != nil {
				return err
			}
			printSuccess(app.err, "default profile is now %s", args[0])
			return nil
		},
	}
}
