// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models.go - model directory listing.

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/morganforge/chorus/internal/openrouter"
	"github.com/morganforge/chorus/internal/util"
)

func newModelsCmd(app *App) *cobra.Command {
	var (
		group   bool
		refresh bool
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "models [query]",
		Short: "List available models",
		Long: `List the models the backend offers. An optional query filters by
id and display name. The listing is cached briefly; --refresh forces a
refetch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := app.Directory()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var models []openrouter.ModelInfo
			if len(args) > 0 {
				models, err = dir.Search(ctx, args[0])
			} else {
				models, err = dir.List(ctx, refresh)
			}
			if err != nil {
				return fmt.Errorf("fetch models: %w", err)
			}

			if jsonOut {
				enc := json.NewEncoder(app.out)
				enc.SetIndent("", "  ")
				return enc.Encode(models)
			}

			if group {
				groups, err := dir.GroupByProvider(ctx)
				if err != nil {
					return fmt.Errorf("fetch models: %w", err)
				}
				for _, g := range groups {
					fmt.Fprintln(app.out)
					printHeading(app.out, g.Display)
					for _, m := range g.Models {
						printModelRow(app, m)
					}
				}
				return nil
			}

			if len(models) == 0 {
				printWarning(app.err, "no models matched")
				return nil
			}
			for _, m := range models {
				printModelRow(app, m)
			}
			fmt.Fprintln(app.err, dimStyle.Render(fmt.Sprintf("%d models", len(models))))
			return nil
		},
	}

	cmd.Flags().BoolVar(&group, "group", false, "group models by provider")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cache and refetch")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the raw model list as JSON")

	return cmd
}

// printModelRow prints one aligned listing line: id, context window,
// and per-million-token pricing.
func printModelRow(app *App, m openrouter.ModelInfo) {
	id := util.PadWidth(util.TruncateWidth(m.ID, 44), 44)
	ctxLen := util.PadWidth(util.FormatNumber(m.ContextLength), 9)

	pricing := "free"
	if p, c := m.Pricing.PromptCost(), m.Pricing.CompletionCost(); p > 0 || c > 0 {
		pricing = fmt.Sprintf("$%.2f/$%.2f per 1M", p*1e6, c*1e6)
	}

	fmt.Fprintf(app.out, "%s %s %s\n",
		valueStyle.Render(id),
		labelStyle.Render(ctxLen),
		dimStyle.Render(pricing))
}
