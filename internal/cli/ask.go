// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - one-shot question command.
//
// Examples:
//   chorus ask "explain goroutines"
//   chorus ask -m anthropic/claude-3.5-sonnet -m openai/gpt-4o "compare yourselves"
//   chorus ask --profile review --diff "review this change"
//   git diff | chorus ask "summarize this diff"
//   chorus ask --template bugreport --var component=engine "it hangs"

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/morganforge/chorus/internal/conversation"
	"github.com/morganforge/chorus/internal/engine"
	"github.com/morganforge/chorus/internal/gitdiff"
	"github.com/morganforge/chorus/internal/openrouter"
	"github.com/morganforge/chorus/internal/render"
)

type askOptions struct {
	models      []string
	profileName string
	template    string
	vars        []string
	diff        bool
	noStream    bool
	jsonOut     bool
	save        bool
	stats       bool
	quiet       bool
	temperature float64
	maxTokens   int
}

func newAskCmd(app *App) *cobra.Command {
	opts := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Send one prompt and print the responses",
		Long: `Send a single prompt to the selected models and print their
responses. With several models the responses stream in parallel and are
summarized side by side once every model settles. Piped stdin is
appended to the prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), app, opts, args)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.models, "model", "m", nil, "model id to query (repeatable)")
	cmd.Flags().StringVarP(&opts.profileName, "profile", "p", "", "profile to resolve models and settings from")
	cmd.Flags().StringVarP(&opts.template, "template", "t", "", "prompt template to expand")
	cmd.Flags().StringArrayVar(&opts.vars, "var", nil, "template variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.diff, "diff", false, "attach the working tree git diff to the prompt")
	cmd.Flags().BoolVar(&opts.noStream, "no-stream", false, "wait for whole responses instead of streaming")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print outcomes as JSON")
	cmd.Flags().BoolVar(&opts.save, "save", false, "save the exchange to transcript history")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "print per-model timing and token stats")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress progress output")
	cmd.Flags().Float64Var(&opts.temperature, "temperature", -1, "sampling temperature override")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 0, "completion token cap override")

	return cmd
}

func runAsk(ctx context.Context, app *App, opts *askOptions, args []string) error {
	cfg, err := app.Config()
	if err != nil {
		return err
	}
	if cfg.UI.NoColor {
		DisableColors()
	}

	prompt, err := buildPrompt(ctx, app, opts, args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("no prompt given (pass it as arguments or pipe it on stdin)")
	}

	session, err := app.Session(opts.profileName)
	if err != nil {
		return err
	}
	models, err := SelectModels(session.Models, SelectAll, opts.models)
	if err != nil {
		return err
	}
	if opts.temperature >= 0 {
		session.Temperature = opts.temperature
	}
	if opts.maxTokens > 0 {
		session.MaxTokens = opts.maxTokens
	}

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

	turn := engine.Turn{
		Prompt:       prompt,
		Models:       models,
		Temperature:  session.Temperature,
		MaxTokens:    session.MaxTokens,
		SystemPrompt: session.SystemPrompt,
		Profile:      session.Profile,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var renderer *render.Renderer
	if !opts.jsonOut {
		renderer = render.New(app.out, app.err).
			WithWidth(TerminalWidth()).
			WithMarkdown(cfg.UI.Markdown && IsStdoutTTY()).
			WithQuiet(opts.quiet).
			WithStats(opts.stats)
	}

	var outcomes []engine.Outcome
	if opts.noStream {
		outcomes, err = runWholeResponses(ctx, client, log, turn)
		if renderer != nil && len(outcomes) > 0 {
			replayOutcomes(renderer, models, outcomes)
		}
	} else {
		var listener engine.Listener
		if renderer != nil {
			listener = renderer
		}
		outcomes, err = eng.Submit(ctx, turn, listener)
	}
	if err != nil && len(outcomes) == 0 {
		return err
	}

	if opts.jsonOut {
		if jsonErr := writeOutcomesJSON(app.out, outcomes); jsonErr != nil {
			return jsonErr
		}
	}

	if opts.save {
		if saveErr := saveExchange(app, log); saveErr != nil {
			printWarning(app.err, "could not save transcript: %v", saveErr)
		}
	}

	// All models failed: the per-model errors were already rendered, so
	// just exit nonzero.
	if err != nil {
		if opts.jsonOut || opts.quiet {
			return err
		}
		return fmt.Errorf("all models failed")
	}
	return nil
}

// buildPrompt assembles the final prompt from the template, positional
// arguments, piped stdin, and the git diff, in that order.
func buildPrompt(ctx context.Context, app *App, opts *askOptions, args []string) (string, error) {
	var parts []string

	if opts.template != "" {
		templates, err := app.Templates()
		if err != nil {
			return "", err
		}
		vars, err := parseVars(opts.vars)
		if err != nil {
			return "", err
		}
		expanded, err := templates.Expand(opts.template, vars)
		if err != nil {
			return "", err
		}
		parts = append(parts, expanded)
	} else if len(opts.vars) > 0 {
		return "", fmt.Errorf("--var requires --template")
	}

	if len(args) > 0 {
		parts = append(parts, strings.Join(args, " "))
	}

	if !IsTTY() {
		piped, err := io.ReadAll(io.LimitReader(os.Stdin, 4<<20))
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		if text := strings.TrimSpace(string(piped)); text != "" {
			parts = append(parts, text)
		}
	}

	if opts.diff {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		diff, err := gitdiff.Extract(ctx, wd)
		if err != nil {
			return "", err
		}
		parts = append(parts, wrapDiff(diff))
	}

	return strings.Join(parts, "\n\n"), nil
}

// parseVars turns repeated key=value flags into the template variable
// map.
func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q (want key=value)", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

// wrapDiff fences the diff so models treat it as quoted input.
func wrapDiff(diff string) string {
	return "```diff\n" + strings.TrimRight(diff, "\n") + "\n```"
}

// runWholeResponses is the --no-stream path: one non-streaming request
// per model, fanned out and joined, rendered only once all settle.
func runWholeResponses(ctx context.Context, client *openrouter.Client, log *conversation.Log, turn engine.Turn) ([]engine.Outcome, error) {
	if err := log.Append(conversation.NewUserMessage(turn.Prompt)); err != nil {
		return nil, err
	}

	outcomes := make([]engine.Outcome, len(turn.Models))
	var wg sync.WaitGroup
	for i, model := range turn.Models {
		wire := conversation.ToChatMessages(log.ViewFor(model), turn.SystemPrompt)
		req := openrouter.ChatRequest{
			Model:       model,
			Messages:    wire,
			Temperature: turn.Temperature,
			MaxTokens:   turn.MaxTokens,
		}

		wg.Add(1)
		go func(i int, model string) {
			defer wg.Done()
			started := time.Now()
			resp, err := client.Chat(ctx, req)
			out := engine.Outcome{Model: model, Err: err}
			if err == nil {
				out.Content = resp.GetContent()
				out.Stats = conversation.Stats{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					Duration:         time.Since(started),
				}
			}
			outcomes[i] = out
		}(i, model)
	}
	wg.Wait()

	failed := 0
	for _, out := range outcomes {
		if out.Err != nil {
			failed++
			continue
		}
		msg := conversation.NewAssistantMessage(out.Model, out.Content)
		stats := out.Stats
		msg.Stats = &stats
		if err := log.Append(msg); err != nil {
			return outcomes, err
		}
	}
	if failed == len(outcomes) {
		return outcomes, fmt.Errorf("all models failed")
	}
	return outcomes, nil
}

// replayOutcomes feeds settled whole-response results through the
// renderer so streamed and non-streamed turns look alike.
func replayOutcomes(r *render.Renderer, models []string, outcomes []engine.Outcome) {
	r.OnTurnStart(models)
	for _, out := range outcomes {
		if out.Err != nil {
			r.OnModelError(out.Model, out.Err.Error())
			continue
		}
		r.OnToken(out.Model, out.Content)
		r.OnModelDone(out.Model, out.Content)
	}
	r.OnTurnComplete(outcomes)
}

// outcomeJSON is the --json wire shape for one model's result.
type outcomeJSON struct {
	Model   string `json:"model"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`

	PromptTokens     int   `json:"prompt_tokens,omitempty"`
	CompletionTokens int   `json:"completion_tokens,omitempty"`
	TTFTMillis       int64 `json:"ttft_ms,omitempty"`
	DurationMillis   int64 `json:"duration_ms,omitempty"`
}

func writeOutcomesJSON(w io.Writer, outcomes []engine.Outcome) error {
	rows := make([]outcomeJSON, 0, len(outcomes))
	for _, out := range outcomes {
		row := outcomeJSON{
			Model:            out.Model,
			Content:          out.Content,
			PromptTokens:     out.Stats.PromptTokens,
			CompletionTokens: out.Stats.CompletionTokens,
			TTFTMillis:       out.Stats.TTFT.Milliseconds(),
			DurationMillis:   out.Stats.Duration.Milliseconds(),
		}
		if out.Err != nil {
			row.Error = out.Err.Error()
			row.Content = ""
		}
		rows = append(rows, row)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// saveExchange writes the turn's messages to transcript history.
func saveExchange(app *App, log *conversation.Log) error {
	store, err := app.Transcripts()
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("history is disabled in config")
	}
	saved, err := store.Save("", log.Messages())
	if err != nil {
		return err
	}
	printSuccess(app.err, "saved transcript %s", saved.ID)
	return nil
}
