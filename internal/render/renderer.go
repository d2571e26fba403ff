// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render draws engine events on a plain terminal. A single-model
// turn streams tokens inline as they arrive; a multi-model turn prints
// attributed progress lines while streaming and finishes with one boxed
// summary per model, always in submission order.
//
// Response content goes to out (stdout); progress and stats go to meta
// (stderr), so piped output stays clean.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/morganforge/chorus/internal/engine"
	"github.com/morganforge/chorus/internal/ui/styles"
)

const (
	defaultWidth = 80
	maxBoxWidth  = 100
)

var (
	progressStyle = lipgloss.NewStyle().Foreground(styles.Cyan)
	mutedStyle    = lipgloss.NewStyle().Foreground(styles.TextMuted)
	errorStyle    = lipgloss.NewStyle().Foreground(styles.Rose)
	warnStyle     = lipgloss.NewStyle().Foreground(styles.Amber)
	statStyle     = lipgloss.NewStyle().Foreground(styles.TextSecondary)
)

// Renderer implements engine.Listener for plain terminal output. The
// engine serializes callbacks, so no locking is needed here.
type Renderer struct {
	out      io.Writer
	meta     io.Writer
	width    int
	markdown bool
	quiet    bool
	stats    bool
	md       *glamour.TermRenderer

	slots     []string
	slotIndex map[string]int
	single    bool
	responded map[string]bool
	tokens    map[string]int
	started   time.Time
}

// New creates a renderer writing content to out and progress to meta.
func New(out, meta io.Writer) *Renderer {
	return &Renderer{
		out:   out,
		meta:  meta,
		width: defaultWidth,
	}
}

// WithWidth sets the terminal width used for wrapping and boxes.
func (r *Renderer) WithWidth(w int) *Renderer {
	if w > 0 {
		r.width = w
	}
	return r
}

// WithMarkdown enables glamour markdown rendering of final answers.
// Callers should only enable it when out is a TTY: rendered output would
// corrupt piped text.
func (r *Renderer) WithMarkdown(enabled bool) *Renderer {
	r.markdown = enabled
	if !enabled {
		r.md = nil
		return r
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(r.contentWidth()),
	)
	if err != nil {
		// Plain text beats no text.
		r.md = nil
		return r
	}
	r.md = md
	return r
}

// WithQuiet suppresses progress and stat lines. Content still prints.
func (r *Renderer) WithQuiet(quiet bool) *Renderer {
	r.quiet = quiet
	return r
}

// WithStats enables the per-model stat lines after each turn.
func (r *Renderer) WithStats(enabled bool) *Renderer {
	r.stats = enabled
	return r
}

// OnTurnStart resets per-turn state and announces a fan-out.
func (r *Renderer) OnTurnStart(models []string) {
	r.slots = append([]string(nil), models...)
	r.slotIndex = make(map[string]int, len(models))
	for i, m := range models {
		r.slotIndex[m] = i
	}
	r.single = len(models) == 1
	r.responded = make(map[string]bool, len(models))
	r.tokens = make(map[string]int, len(models))
	r.started = time.Now()

	if !r.single && !r.quiet {
		fmt.Fprintf(r.meta, "%s %s\n",
			progressStyle.Render("Querying"),
			strings.Join(models, ", "))
	}
}

// OnToken streams a fragment. Single-model turns print it inline unless
// markdown rendering defers output to the end; multi-model turns print
// one attributed progress line per model instead, the token soup of k
// interleaved streams is unreadable.
func (r *Renderer) OnToken(model, token string) {
	r.tokens[model]++

	if r.single {
		if r.md == nil {
			fmt.Fprint(r.out, token)
		}
		return
	}

	if !r.responded[model] && !r.quiet {
		r.responded[model] = true
		fmt.Fprintf(r.meta, "%s %s\n",
			r.modelLabel(model),
			mutedStyle.Render(fmt.Sprintf("first token after %s", formatElapsed(time.Since(r.started)))))
	}
}

// OnModelDone finishes one model's stream.
func (r *Renderer) OnModelDone(model, fullText string) {
	if r.single {
		if r.md != nil {
			fmt.Fprint(r.out, r.renderMarkdown(fullText))
		}
		fmt.Fprintln(r.out)
		return
	}

	if !r.quiet {
		fmt.Fprintf(r.meta, "%s %s\n",
			r.modelLabel(model),
			mutedStyle.Render(fmt.Sprintf("done, %d tokens in %s", r.tokens[model], formatElapsed(time.Since(r.started)))))
	}
}

// OnModelError reports one model's failure without touching the others.
func (r *Renderer) OnModelError(model, errText string) {
	if r.quiet {
		return
	}
	style := errorStyle
	label := styles.StatusIndicators.Error
	if errText == "interrupted" {
		style = warnStyle
		label = styles.StatusIndicators.Warning
	}
	fmt.Fprintf(r.meta, "%s %s %s\n",
		r.modelLabel(model),
		style.Render(label),
		style.Render(errText))
}

// OnTurnComplete prints the multi-model summary boxes in submission
// order, then the stat lines.
func (r *Renderer) OnTurnComplete(outcomes []engine.Outcome) {
	if !r.single {
		for slot, out := range outcomes {
			fmt.Fprintln(r.out, r.renderBox(slot, out))
		}
	}

	if r.stats && !r.quiet {
		sep := strings.Repeat("─", min(r.width, 45))
		fmt.Fprintln(r.meta, mutedStyle.Render(sep))
		for _, out := range outcomes {
			if out.Err != nil {
				continue
			}
			fmt.Fprintf(r.meta, "%s %s\n",
				statStyle.Render(out.Model+":"),
				out.Stats.Format())
		}
	}
}

// renderBox draws one model's final answer inside a bordered panel.
func (r *Renderer) renderBox(slot int, out engine.Outcome) string {
	color := styles.ModelColor(slot)
	inner := r.contentWidth()

	header := lipgloss.NewStyle().
		Foreground(color).
		Bold(true).
		Render(runewidth.Truncate(out.Model, inner, "..."))

	var body string
	switch {
	case out.Err == nil:
		body = strings.TrimRight(r.renderMarkdown(out.Content), "\n")
	case errors.Is(out.Err, context.Canceled) || errors.Is(out.Err, context.DeadlineExceeded):
		body = warnStyle.Render("interrupted")
		if out.Content != "" {
			body = mutedStyle.Render(strings.TrimRight(out.Content, "\n")) + "\n" + body
		}
	default:
		body = errorStyle.Render(out.Err.Error())
	}

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 1).
		Width(r.boxWidth())

	return box.Render(header + "\n\n" + body)
}

// renderMarkdown renders content through glamour, falling back to the
// raw text when rendering is disabled or fails.
func (r *Renderer) renderMarkdown(content string) string {
	if r.md == nil {
		return content
	}
	rendered, err := r.md.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// modelLabel renders a model name in its slot color, width-truncated.
func (r *Renderer) modelLabel(model string) string {
	slot := r.slotIndex[model]
	name := runewidth.Truncate(model, 40, "...")
	return lipgloss.NewStyle().
		Foreground(styles.ModelColor(slot)).
		Bold(true).
		Render("[" + name + "]")
}

func (r *Renderer) boxWidth() int {
	return min(r.width, maxBoxWidth)
}

func (r *Renderer) contentWidth() int {
	w := r.boxWidth() - 4
	if w < 20 {
		w = 20
	}
	return w
}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
