// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// templates.go - prompt template management commands.

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/morganforge/chorus/internal/profile"
)

func newTemplateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage prompt templates",
		Long: `Manage reusable prompt templates. Templates carry {placeholder}
markers filled in with --var key=value at ask time.`,
	}

	cmd.AddCommand(
		newTemplateListCmd(app),
		newTemplateShowCmd(app),
		newTemplateSaveCmd(app),
		newTemplateDeleteCmd(app),
	)
	return cmd
}

func newTemplateListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Templates()
			if err != nil {
				return err
			}

			templates := store.List()
			if len(templates) == 0 {
				printWarning(app.err, "no templates saved (try `chorus template save`)")
				return nil
			}

			for _, t := range templates {
				placeholders := strings.Join(t.Placeholders(), ", ")
				if placeholders == "" {
					placeholders = "none"
				}
				fmt.Fprintf(app.out, "  %s  %s\n",
					valueStyle.Render(fmt.Sprintf("%-16s", t.Name)),
					dimStyle.Render("vars: "+placeholders))
			}
			return nil
		},
	}
}

func newTemplateShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Templates()
			if err != nil {
				return err
			}
			t, err := store.Get(args[0])
			if err != nil {
				return err
			}

			printHeading(app.out, t.Name)
			if vars := t.Placeholders(); len(vars) > 0 {
				printField(app.out, "Variables", "%s", strings.Join(vars, ", "))
			}
			fmt.Fprintln(app.out)
			fmt.Fprintln(app.out, t.Text)
			return nil
		},
	}
}

func newTemplateSaveCmd(app *App) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "save <name> [text...]",
		Short: "Create or update a template",
		Example: `  chorus template save bugreport "Component: {component}. Describe the bug: {details}"
  chorus template save review --file ./review-prompt.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			if fromFile != "" {
				if text != "" {
					return fmt.Errorf("give the template text as arguments or --file, not both")
				}
				data, err := os.ReadFile(fromFile)
				if err != nil {
					return fmt.Errorf("read template file: %w", err)
				}
				text = string(data)
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("template text is empty")
			}

			store, err := app.Templates()
			if err != nil {
				return err
			}
			t := profile.Template{Name: args[0], Text: text}
			if err := store.Save(t); err != nil {
				return err
			}
			printSuccess(app.err, "saved template %s", t.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromFile, "file", "", "read the template text from a file")
	return cmd
}

func newTemplateDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Templates()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			printSuccess(app.err, "deleted template %s", args[0])
			return nil
		},
	}
}
