// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - environment health checks.

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/morganforge/chorus/internal/config"
)

const doctorTimeout = 10 * time.Second

func newDoctorCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that chorus is ready to use",
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			check := func(ok bool, okMsg, failMsg string) {
				if ok {
					printSuccess(app.out, "%s", okMsg)
				} else {
					printError(app.out, "%s", failMsg)
					failed++
				}
			}

			cfg, err := app.Config()
			if err != nil {
				check(false, "", fmt.Sprintf("config: %v", err))
				return fmt.Errorf("%d check(s) failed", failed)
			}
			path, _ := config.PathTOML()
			if _, statErr := os.Stat(path); statErr == nil {
				check(true, fmt.Sprintf("config loaded from %s", path), "")
			} else {
				printWarning(app.out, "no config file yet, using defaults (run `chorus config set-key`)")
			}

			check(cfg.API.Key != "",
				"API key configured",
				"no API key (run `chorus config set-key` or set CHORUS_API_KEY)")

			client, err := app.Client()
			if err == nil && client.IsConfigured() {
				ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
				defer cancel()
				models, listErr := client.ListModels(ctx)
				check(listErr == nil,
					fmt.Sprintf("backend reachable at %s (%d models)", cfg.API.BaseURL, len(models)),
					fmt.Sprintf("backend unreachable: %v", listErr))
			} else {
				printWarning(app.out, "skipping backend check (no API key)")
			}

			if cfg.History.Enabled {
				_, tsErr := app.Transcripts()
				check(tsErr == nil,
					fmt.Sprintf("transcript store ready at %s", cfg.History.Dir),
					fmt.Sprintf("transcript store: %v", tsErr))
			} else {
				printWarning(app.out, "transcript history disabled")
			}

			if cfg.Usage.Enabled {
				_, usageErr := app.Usage()
				check(usageErr == nil,
					fmt.Sprintf("usage ledger ready at %s", cfg.Usage.Path),
					fmt.Sprintf("usage ledger: %v", usageErr))
			} else {
				printWarning(app.out, "usage recording disabled")
			}

			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printStep(app.out, "all checks passed")
			return nil
		},
	}
}
