// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli is the cobra command surface of chorus.
//
// Commands are built against an App that loads configuration lazily and
// constructs collaborators on demand, so `chorus version` works without
// a config file and no state hides in package globals.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/morganforge/chorus/internal/config"
	"github.com/morganforge/chorus/internal/directory"
	"github.com/morganforge/chorus/internal/logging"
	"github.com/morganforge/chorus/internal/openrouter"
	"github.com/morganforge/chorus/internal/profile"
	"github.com/morganforge/chorus/internal/transcript"
	"github.com/morganforge/chorus/internal/usage"
)

// App carries everything a command needs. Collaborators are constructed
// on first use and shared across the invocation.
type App struct {
	Version string

	out io.Writer
	err io.Writer

	verbose bool
	noColor bool

	cfgOnce sync.Once
	cfg     *config.Config
	cfgErr  error

	logOnce  sync.Once
	logger   *zap.Logger
	logClose func()

	usageOnce sync.Once
	usageDB   *usage.Store
	usageErr  error
}

// NewApp creates an App writing to stdout/stderr.
func NewApp(version string) *App {
	return &App{
		Version: version,
		out:     os.Stdout,
		err:     os.Stderr,
	}
}

// Config loads the configuration once. Env overrides and defaults are
// already applied by config.Load.
func (a *App) Config() (*config.Config, error) {
	a.cfgOnce.Do(func() {
		a.cfg, a.cfgErr = config.Load()
	})
	return a.cfg, a.cfgErr
}

// Logger builds the rotating file logger once. Failures degrade to a
// no-op logger: logging must never take a command down.
func (a *App) Logger() *zap.Logger {
	a.logOnce.Do(func() {
		cfg, err := a.Config()
		if err != nil {
			a.logger = logging.Nop()
			return
		}
		opts := logging.Options{
			Level:      cfg.Log.Level,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Console:    a.verbose,
		}
		logger, closeFn, err := logging.New(opts)
		if err != nil {
			a.logger = logging.Nop()
			return
		}
		a.logger = logger
		a.logClose = closeFn
	})
	return a.logger
}

// Close flushes the logger and closes the usage ledger.
func (a *App) Close() {
	if a.usageDB != nil {
		a.usageDB.Close()
	}
	if a.logClose != nil {
		a.logClose()
	}
}

// Client builds the transport client from the API section. The key may
// be empty; commands that need one check IsConfigured first.
func (a *App) Client() (*openrouter.Client, error) {
	cfg, err := a.Config()
	if err != nil {
		return nil, err
	}
	return openrouter.New(cfg.API.Key).
		WithBaseURL(cfg.API.BaseURL).
		WithTimeout(cfg.API.Timeout()).
		WithMaxRetries(cfg.API.MaxRetries).
		WithReferer(cfg.API.Referer).
		WithTitle(cfg.API.Title).
		WithLogger(a.Logger()), nil
}

// Directory wraps the client in the TTL model cache.
func (a *App) Directory() (*directory.Directory, error) {
	cfg, err := a.Config()
	if err != nil {
		return nil, err
	}
	client, err := a.Client()
	if err != nil {
		return nil, err
	}
	return directory.New(client).
		WithTTL(cfg.Directory.TTL()).
		WithLogger(a.Logger()), nil
}

// Profiles opens the profile store under the config directory.
func (a *App) Profiles() (*profile.Store, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	store, err := profile.NewStore(filepath.Join(dir, "profiles.json"))
	if err != nil {
		return nil, err
	}
	return store.WithLogger(a.Logger()), nil
}

// Templates opens the template store under the config directory.
func (a *App) Templates() (*profile.Templates, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	return profile.NewTemplates(filepath.Join(dir, "templates.json"))
}

// Transcripts opens the transcript store. Returns nil without error when
// history is disabled.
func (a *App) Transcripts() (*transcript.Store, error) {
	cfg, err := a.Config()
	if err != nil {
		return nil, err
	}
	if !cfg.History.Enabled {
		return nil, nil
	}
	store, err := transcript.NewStore(cfg.History.Dir)
	if err != nil {
		return nil, err
	}
	return store.WithLimit(cfg.History.MaxTranscripts).WithLogger(a.Logger()), nil
}

// Usage opens the usage ledger once. Returns nil without error when
// usage recording is disabled.
func (a *App) Usage() (*usage.Store, error) {
	cfg, err := a.Config()
	if err != nil {
		return nil, err
	}
	if !cfg.Usage.Enabled {
		return nil, nil
	}
	a.usageOnce.Do(func() {
		store, err := usage.Open(cfg.Usage.Path)
		if err != nil {
			a.usageErr = err
			return
		}
		a.usageDB = store.WithLogger(a.Logger())
	})
	return a.usageDB, a.usageErr
}

// Session resolves the generation settings for one invocation: a named
// profile when given, the store's default profile otherwise, and the
// config defaults when no profile exists at all.
func (a *App) Session(name string) (profile.Resolved, error) {
	cfg, err := a.Config()
	if err != nil {
		return profile.Resolved{}, err
	}
	if name == "" {
		name = cfg.Defaults.Profile
	}

	store, storeErr := a.Profiles()
	if storeErr == nil {
		res, err := store.Resolve(name)
		if err == nil {
			return res, nil
		}
		// An explicitly requested profile must exist.
		if name != "" {
			return profile.Resolved{}, err
		}
	} else if name != "" {
		return profile.Resolved{}, storeErr
	}

	res := profile.Resolved{
		Temperature:  cfg.Defaults.Temperature,
		MaxTokens:    cfg.Defaults.MaxTokens,
		SystemPrompt: cfg.Defaults.SystemPrompt,
	}
	if cfg.Defaults.Model != "" {
		res.Models = []string{cfg.Defaults.Model}
	}
	return res, nil
}

// Execute runs the root command and returns the process exit code.
func Execute(version string) int {
	app := NewApp(version)
	defer app.Close()

	root := NewRootCmd(app)
	if err := root.Execute(); err != nil {
		printError(app.err, "%v", err)
		return 1
	}
	return 0
}

// NewRootCmd builds the chorus command tree.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "chorus",
		Short: "Chat with several language models at once",
		Long: `Chorus sends a prompt to one or more models behind an
OpenRouter-compatible API, streams the responses in parallel, and
renders per-model progress side by side.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if app.noColor || os.Getenv("NO_COLOR") != "" {
				DisableColors()
			}
		},
	}

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "mirror log output to stderr")
	root.PersistentFlags().BoolVar(&app.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newAskCmd(app),
		newChatCmd(app),
		newModelsCmd(app),
		newProfileCmd(app),
		newTemplateCmd(app),
		newHistoryCmd(app),
		newConfigCmd(app),
		newDoctorCmd(app),
		newVersionCmd(app),
	)
	return root
}

func newVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the chorus version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(app.out, "chorus %s\n", app.Version)
		},
	}
}
