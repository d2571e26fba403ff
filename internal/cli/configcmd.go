// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// configcmd.go - configuration inspection and editing commands.

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/morganforge/chorus/internal/config"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit configuration",
	}

	cmd.AddCommand(
		newConfigListCmd(app),
		newConfigGetCmd(app),
		newConfigSetCmd(app),
		newConfigPathCmd(app),
		newConfigSetKeyCmd(app),
	)
	return cmd
}

func newConfigListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration keys and values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Config()
			if err != nil {
				return err
			}
			for _, key := range config.AllKeys() {
				value, err := cfg.Get(key)
				if err != nil {
					continue
				}
				rendered := fmt.Sprintf("%v", value)
				if config.IsSecret(key) && rendered != "" {
					rendered = "[redacted]"
				}
				fmt.Fprintf(app.out, "  %s = %s\n",
					valueStyle.Render(key),
					dimStyle.Render(rendered))
			}
			return nil
		},
	}
}

func newConfigGetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Config()
			if err != nil {
				return err
			}
			value, err := cfg.Get(args[0])
			if err != nil {
				return err
			}
			if config.IsSecret(args[0]) {
				return fmt.Errorf("%s is a secret; it is not printed", args[0])
			}
			fmt.Fprintf(app.out, "%v\n", value)
			return nil
		},
	}
}

func newConfigSetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one configuration value and save",
		Example: `  chorus config set defaults.model anthropic/claude-3.5-sonnet
  chorus config set ui.markdown true
  chorus config set directory.ttl_minutes 10`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Config()
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return err
			}
			printSuccess(app.err, "set %s = %s", args[0], args[1])
			return nil
		},
	}
}

func newConfigPathCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.PathTOML()
			if err != nil {
				return err
			}
			fmt.Fprintln(app.out, path)
			return nil
		},
	}
}

func newConfigSetKeyCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the API key",
		Long: `Store the API key in the config file (written with 0600
permissions). The key is read from a hidden prompt, never from the
command line, so it stays out of shell history. CHORUS_API_KEY and
OPENROUTER_API_KEY environment variables override the stored key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsTTY() {
				return fmt.Errorf("set-key needs an interactive terminal")
			}

			cfg, err := app.Config()
			if err != nil {
				return err
			}

			fmt.Fprint(app.err, "API key: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(app.err)
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}

			key := strings.TrimSpace(string(raw))
			if key == "" {
				return fmt.Errorf("no key entered")
			}

			cfg.API.Key = key
			if err := config.Save(cfg); err != nil {
				return err
			}
			printSuccess(app.err, "API key saved")
			return nil
		},
	}
}
