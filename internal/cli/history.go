// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history.go - transcript history commands: listing, inspection,
// import/export, the usage ledger, and cleanup.

package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/morganforge/chorus/internal/export"
	"github.com/morganforge/chorus/internal/transcript"
	"github.com/morganforge/chorus/internal/util"
)

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse and manage saved conversations",
	}

	cmd.AddCommand(
		newHistoryListCmd(app),
		newHistoryShowCmd(app),
		newHistorySearchCmd(app),
		newHistoryExportCmd(app),
		newHistoryImportCmd(app),
		newHistoryUsageCmd(app),
		newHistoryClearCmd(app),
	)
	return cmd
}

// requireTranscripts returns the store or a friendly error when history
// is disabled.
func requireTranscripts(app *App) (*transcript.Store, error) {
	store, err := app.Transcripts()
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("history is disabled (set history.enabled in config)")
	}
	return store, nil
}

// resolveTranscript loads a transcript by id or by its 1-based listing
// index.
func resolveTranscript(store *transcript.Store, ref string) (*transcript.Transcript, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		return store.LoadByIndex(n)
	}
	return store.Load(ref)
}

func printTranscriptList(app *App, transcripts []*transcript.Transcript) {
	for i, t := range transcripts {
		models := strings.Join(t.Models(), ", ")
		if models == "" {
			models = "no answers"
		}
		fmt.Fprintf(app.out, "%s %s  %s  %s\n",
			dimStyle.Render(fmt.Sprintf("%3d.", i+1)),
			valueStyle.Render(t.SavedAt.Format("2006-01-02 15:04")),
			labelStyle.Render(util.PadWidth(util.TruncateWidth(models, 30), 30)),
			t.Preview(60))
	}
}

func newHistoryListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := requireTranscripts(app)
			if err != nil {
				return err
			}
			transcripts, err := store.List()
			if err != nil {
				return err
			}
			if len(transcripts) == 0 {
				printWarning(app.err, "no saved conversations")
				return nil
			}
			printTranscriptList(app, transcripts)
			return nil
		},
	}
}

func newHistoryShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|index>",
		Short: "Print one saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := requireTranscripts(app)
			if err != nil {
				return err
			}
			t, err := resolveTranscript(store, args[0])
			if err != nil {
				return err
			}

			printHeading(app.out, t.SavedAt.Format("2006-01-02 15:04"))
			for _, msg := range t.Messages {
				label := msg.Role.DisplayName()
				if msg.Model != "" {
					label = msg.Model
				}
				fmt.Fprintf(app.out, "\n%s\n%s\n",
					headStyle.Render(label),
					msg.Content)
			}
			return nil
		},
	}
}

func newHistorySearchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search saved conversations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := requireTranscripts(app)
			if err != nil {
				return err
			}
			matches, err := store.Search(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				printWarning(app.err, "no matches")
				return nil
			}
			printTranscriptList(app, matches)
			return nil
		},
	}
}

func newHistoryExportCmd(app *App) *cobra.Command {
	var (
		format string
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "export <id|index>",
		Short: "Export a conversation to markdown, JSON, or text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := requireTranscripts(app)
			if err != nil {
				return err
			}
			t, err := resolveTranscript(store, args[0])
			if err != nil {
				return err
			}

			opts := export.DefaultOptions()
			opts.OutputDir = outDir
			exporter, err := export.ForFormat(format, opts)
			if err != nil {
				return err
			}
			path, err := export.ExportToFile(t, exporter, opts)
			if err != nil {
				return err
			}
			printSuccess(app.err, "exported to %s", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "export format: markdown, json, or text")
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "directory to write the export into")
	return cmd
}

func newHistoryImportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a conversation from an interchange JSON file",
		Long: `Import a conversation saved by chorus or another tool. The file
must be a JSON array of messages; assistant messages carry the model
that produced them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := requireTranscripts(app)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()

			msgs, err := transcript.ReadInterchange(f)
			if err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}

			saved, err := store.Save("", msgs)
			if err != nil {
				return err
			}
			printSuccess(app.err, "imported %d messages as transcript %s", len(msgs), saved.ID)
			return nil
		},
	}
}

func newHistoryUsageCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show the per-model usage ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Usage()
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("usage recording is disabled (set usage.enabled in config)")
			}

			summaries, err := store.Summary()
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				printWarning(app.err, "no usage recorded yet")
				return nil
			}

			printHeading(app.out, "Usage by model")
			for _, s := range summaries {
				detail := fmt.Sprintf("%d turns, %s tokens",
					s.Turns,
					util.FormatNumber(s.PromptTokens+s.CompletionTokens))
				if s.AvgTTFT > 0 {
					detail += fmt.Sprintf(", TTFT %dms", s.AvgTTFT.Milliseconds())
				}
				if s.Errors > 0 {
					detail += fmt.Sprintf(", %.0f%% failed", s.ErrorRate()*100)
				}
				fmt.Fprintf(app.out, "  %s  %s\n",
					valueStyle.Render(util.PadWidth(util.TruncateWidth(s.Model, 40), 40)),
					dimStyle.Render(detail))
			}

			recent, err := store.Recent(limit)
			if err != nil {
				return err
			}
			if len(recent) > 0 {
				fmt.Fprintln(app.out)
				printHeading(app.out, "Recent turns")
				for _, r := range recent {
					status := fmt.Sprintf("%s tokens in %s",
						util.FormatNumber(r.PromptTokens+r.CompletionTokens),
						r.Duration.Round(10*time.Millisecond))
					if r.Error != "" {
						status = failStyle.Render(r.Error)
					}
					fmt.Fprintf(app.out, "  %s  %s  %s\n",
						dimStyle.Render(r.CreatedAt.Format("01-02 15:04")),
						valueStyle.Render(util.PadWidth(util.TruncateWidth(r.Model, 36), 36)),
						status)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 15, "number of recent turns to show")
	return cmd
}

func newHistoryClearCmd(app *App) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all saved conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				printWarning(app.err, "this deletes ALL saved conversations; rerun with --confirm")
				return nil
			}
			store, err := requireTranscripts(app)
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			printSuccess(app.err, "history cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the deletion")
	return cmd
}
