// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// repl.go - the --plain chat surface: a liner-backed REPL with input
// history, streaming through the plain renderer, and a small slash
// command set. Ctrl+C cancels the in-flight turn; Ctrl+D exits.

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/morganforge/chorus/internal/config"
	"github.com/morganforge/chorus/internal/conversation"
	"github.com/morganforge/chorus/internal/engine"
	"github.com/morganforge/chorus/internal/profile"
	"github.com/morganforge/chorus/internal/render"
	"github.com/morganforge/chorus/internal/ui/styles"
)

var promptStyle = lipgloss.NewStyle().Foreground(styles.Cyan).Bold(true)

// replInput wraps liner with persistent history under the config
// directory.
type replInput struct {
	line        *liner.State
	historyFile string
}

func newReplInput() *replInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	in := &replInput{
		line:        line,
		historyFile: filepath.Join(dir, "chat_history"),
	}
	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
	return in
}

func (in *replInput) Read(prompt string) (string, error) {
	input, err := in.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		in.line.AppendHistory(input)
	}
	return input, nil
}

// Close persists history (0600: prompts can carry sensitive text) and
// restores the terminal.
func (in *replInput) Close() {
	if err := config.EnsureDir(); err == nil {
		if f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			in.line.WriteHistory(f)
			f.Close()
		}
	}
	in.line.Close()
}

// repl holds the state of one plain chat session.
type repl struct {
	app      *App
	engine   *engine.Engine
	log      *conversation.Log
	session  profile.Resolved
	renderer *render.Renderer
	input    *replInput

	mu       sync.Mutex
	cancel   context.CancelFunc
	started  time.Time
	turns    int
	failures int
}

func runREPL(app *App, eng *engine.Engine, log *conversation.Log, session profile.Resolved) error {
	cfg, err := app.Config()
	if err != nil {
		return err
	}

	r := &repl{
		app:     app,
		engine:  eng,
		log:     log,
		session: session,
		renderer: render.New(app.out, app.err).
			WithWidth(TerminalWidth()).
			WithMarkdown(cfg.UI.Markdown && IsStdoutTTY()),
		input:   newReplInput(),
		started: time.Now(),
	}
	defer r.input.Close()

	// First Ctrl+C cancels the in-flight turn; at the prompt liner
	// reports it as ErrPromptAborted instead.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			r.interrupt()
		}
	}()

	r.printWelcome()

	for {
		input, err := r.input.Read(promptStyle.Render("chorus> "))
		if err != nil {
			// Ctrl+C at the prompt or Ctrl+D: leave cleanly.
			fmt.Fprintln(app.out)
			r.printGoodbye()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := r.handleCommand(input); quit {
				r.printGoodbye()
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			r.printGoodbye()
			return nil
		}

		r.submit(input)
	}
}

// submit runs one turn and renders it through the plain renderer.
func (r *repl) submit(prompt string) {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	turn := engine.Turn{
		Prompt:       prompt,
		Models:       r.session.Models,
		Temperature:  r.session.Temperature,
		MaxTokens:    r.session.MaxTokens,
		SystemPrompt: r.session.SystemPrompt,
		Profile:      r.session.Profile,
	}

	fmt.Fprintln(r.app.out)
	_, err := r.engine.Submit(ctx, turn, r.renderer)
	fmt.Fprintln(r.app.out)

	r.turns++
	if err != nil {
		r.failures++
		if ctx.Err() == nil {
			printError(r.app.err, "%v", err)
		}
	}
}

func (r *repl) interrupt() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		printWarning(r.app.err, "interrupted")
	}
}

// handleCommand processes a slash command. Returns true to exit.
func (r *repl) handleCommand(input string) bool {
	fields := strings.Fields(input)
	command := strings.ToLower(fields[0])
	args := fields[1:]

	switch command {
	case "/help", "/h", "/?":
		r.printHelp()

	case "/quit", "/q", "/exit":
		return true

	case "/clear", "/new":
		r.log.Clear()
		printStep(r.app.err, "conversation cleared")

	case "/model", "/models":
		if len(args) == 0 {
			printField(r.app.err, "Models", "%s", strings.Join(r.session.Models, ", "))
			break
		}
		models, err := SelectModels(nil, SelectExplicit, splitModels(args))
		if err != nil {
			printError(r.app.err, "%v", err)
			break
		}
		r.session.Models = models
		printSuccess(r.app.err, "now chatting with %s", strings.Join(models, ", "))

	case "/profile":
		if len(args) == 0 {
			name := r.session.Profile
			if name == "" {
				name = "(none)"
			}
			printField(r.app.err, "Profile", "%s", name)
			break
		}
		session, err := r.app.Session(args[0])
		if err != nil {
			printError(r.app.err, "%v", err)
			break
		}
		r.session = session
		printSuccess(r.app.err, "switched to profile %s", args[0])

	case "/save":
		if err := saveExchange(r.app, r.log); err != nil {
			printError(r.app.err, "%v", err)
		}

	case "/status":
		r.printStatus()

	default:
		printError(r.app.err, "unknown command %s (try /help)", command)
	}
	return false
}

// splitModels accepts both space- and comma-separated model lists.
func splitModels(args []string) []string {
	var out []string
	for _, arg := range args {
		out = append(out, strings.Split(arg, ",")...)
	}
	return out
}

func (r *repl) printWelcome() {
	fmt.Fprintln(r.app.err)
	printHeading(r.app.err, "chorus chat")
	printField(r.app.err, "Models", "%s", strings.Join(r.session.Models, ", "))
	if r.session.Profile != "" {
		printField(r.app.err, "Profile", "%s", r.session.Profile)
	}
	fmt.Fprintln(r.app.err, dimStyle.Render("Type a message and press Enter. /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(r.app.err)
}

func (r *repl) printHelp() {
	help := []struct{ cmd, desc string }{
		{"/help", "show this help"},
		{"/model [id...]", "show or switch the target models"},
		{"/profile [name]", "show or switch the active profile"},
		{"/clear", "clear the conversation history"},
		{"/save", "save the conversation to history"},
		{"/status", "show session info"},
		{"/quit", "exit chat"},
	}
	fmt.Fprintln(r.app.err)
	printHeading(r.app.err, "Commands")
	for _, h := range help {
		fmt.Fprintf(r.app.err, "  %s  %s\n",
			labelStyle.Render(fmt.Sprintf("%-17s", h.cmd)),
			dimStyle.Render(h.desc))
	}
	fmt.Fprintln(r.app.err, dimStyle.Render("Ctrl+C cancels the current turn, Ctrl+D exits."))
	fmt.Fprintln(r.app.err)
}

func (r *repl) printStatus() {
	fmt.Fprintln(r.app.err)
	printHeading(r.app.err, "Session")
	printField(r.app.err, "Models", "%s", strings.Join(r.session.Models, ", "))
	printField(r.app.err, "Messages", "%d", r.log.Len())
	printField(r.app.err, "Turns", "%d (%d failed)", r.turns, r.failures)
	printField(r.app.err, "Duration", "%s", time.Since(r.started).Round(time.Second))
	fmt.Fprintln(r.app.err)
}

func (r *repl) printGoodbye() {
	if r.turns > 0 {
		printField(r.app.err, "Turns", "%d in %s", r.turns, time.Since(r.started).Round(time.Second))
	}
	fmt.Fprintln(r.app.err, dimStyle.Render("Goodbye!"))
}
