// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - interactive chat command. The default surface is the
// Bubble Tea TUI; --plain falls back to a line-oriented REPL for
// terminals where the full-screen UI is unwanted.

package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/morganforge/chorus/internal/conversation"
	"github.com/morganforge/chorus/internal/engine"
	"github.com/morganforge/chorus/internal/openrouter"
	"github.com/morganforge/chorus/internal/profile"
	"github.com/morganforge/chorus/internal/ui"
)

type chatOptions struct {
	models      []string
	profileName string
	plain       bool
}

func newChatCmd(app *App) *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session. Each prompt is sent to every
selected model in parallel; responses render in per-model panels as
they stream. Type /help inside the session for commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(app, opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.models, "model", "m", nil, "model id to chat with (repeatable)")
	cmd.Flags().StringVarP(&opts.profileName, "profile", "p", "", "profile to resolve models and settings from")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "use the line-oriented REPL instead of the full-screen UI")

	return cmd
}

func runChat(app *App, opts *chatOptions) error {
	cfg, err := app.Config()
	if err != nil {
		return err
	}
	if cfg.UI.NoColor {
		DisableColors()
	}
	if !IsTTY() {
		return fmt.Errorf("chat needs an interactive terminal (use `chorus ask` for piped input)")
	}

	session, err := app.Session(opts.profileName)
	if err != nil {
		return err
	}
	models, err := SelectModels(session.Models, SelectAll, opts.models)
	if err != nil {
		return err
	}
	session.Models = models

	client, err := app.Client()
	if err != nil {
		return err
	}
	if !client.IsConfigured() {
		return openrouter.ErrNotConfigured
	}

	log := conversation.NewLog()
	eng := engine.New(client, log).WithLogger(app.Logger())
	if rec, err := app.Usage(); err == nil && rec != nil {
		eng = eng.WithRecorder(rec)
	}

	// Profiles or templates edited in another terminal mid-session are
	// picked up live; /profile and /template resolve against the
	// reloaded stores.
	profiles, _ := app.Profiles()
	templates, _ := app.Templates()
	if w := watchStores(app.Logger(), profiles, templates); w != nil {
		defer w.Close()
	}

	if opts.plain {
		return runREPL(app, eng, log, session)
	}

	transcripts, err := app.Transcripts()
	if err != nil {
		printWarning(app.err, "transcript history unavailable: %v", err)
	}

	m := ui.New(ui.Options{
		Config:      cfg,
		Engine:      eng,
		Log:         log,
		Session:     session,
		Transcripts: transcripts,
		Profiles:    profiles,
		Templates:   templates,
		Logger:      app.Logger(),
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	m.AttachProgram(p)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat UI: %w", err)
	}
	return nil
}

// watchStores starts a watcher that reloads the profile and template
// stores when their files change on disk. A watch failure is not fatal:
// the session keeps its loaded copies.
func watchStores(logger *zap.Logger, profiles *profile.Store, templates *profile.Templates) *profile.Watcher {
	if profiles == nil && templates == nil {
		return nil
	}
	w, err := profile.NewWatcher(logger)
	if err != nil {
		logger.Warn("profile watch unavailable", zap.Error(err))
		return nil
	}
	if profiles != nil {
		if err := w.WatchStore(profiles); err != nil {
			logger.Warn("profile watch unavailable", zap.Error(err))
		}
	}
	if templates != nil {
		if err := w.WatchTemplates(templates); err != nil {
			logger.Warn("template watch unavailable", zap.Error(err))
		}
	}
	w.Start()
	return w
}
