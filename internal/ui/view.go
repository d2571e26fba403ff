// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the interactive chat surface for chorus.
//
// This file renders the surface: header, transcript with per-model
// panels, input box, and status bar. Panels lay out side by side when
// the terminal is wide enough and stack vertically when it is not.
package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/morganforge/chorus/internal/config"
	"github.com/morganforge/chorus/internal/conversation"
	"github.com/morganforge/chorus/internal/engine"
	"github.com/morganforge/chorus/internal/transcript"
	"github.com/morganforge/chorus/internal/ui/styles"
	"github.com/morganforge/chorus/internal/util"
)

// =============================================================================
// LAYOUT CONSTANTS AND STYLES
// =============================================================================

const (
	// minPanelWidth is the narrowest useful panel. The grid packs as
	// many columns as fit at this width and stacks below it.
	minPanelWidth = 36

	// liveTailLines bounds how much of a streaming answer is shown, so
	// a fast model cannot scroll a slow one off the screen mid-turn.
	liveTailLines = 12
)

var (
	headerTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(styles.Purple)
	headerMetaStyle  = lipgloss.NewStyle().Foreground(styles.TextMuted)
	promptMarkStyle  = lipgloss.NewStyle().Bold(true).Foreground(styles.Cyan)
	promptTextStyle  = lipgloss.NewStyle().Bold(true).Foreground(styles.TextPrimary)
	noteStyle        = lipgloss.NewStyle().Foreground(styles.TextSecondary)
	panelMetaStyle   = lipgloss.NewStyle().Foreground(styles.TextMuted)
	errorTextStyle   = lipgloss.NewStyle().Foreground(styles.Rose)
	statusBarStyle   = lipgloss.NewStyle().Foreground(styles.TextSecondary)
	inputBoxStyle    = lipgloss.NewStyle().
				BorderStyle(lipgloss.NormalBorder()).
				BorderTop(true).
				BorderForeground(styles.Overlay)
)

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading chorus..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderInput(),
		m.renderStatusBar(),
	)
}

func (m Model) renderHeader() string {
	title := headerTitleStyle.Render("chorus")
	meta := m.sessionSummary()
	avail := m.width - lipgloss.Width(title) - 2
	if avail <= 0 {
		return title
	}
	return title + "  " + headerMetaStyle.Render(util.TruncateWidth(meta, avail))
}

// sessionSummary is the header's one-line description of what a prompt
// will be sent to.
func (m Model) sessionSummary() string {
	if len(m.session.Models) == 0 {
		return "no models selected"
	}
	models := strings.Join(m.session.Models, ", ")
	if m.session.Profile != "" {
		return m.session.Profile + ": " + models
	}
	return models
}

func (m Model) renderInput() string {
	return inputBoxStyle.Width(max(m.width, 1)).Render(m.input.View())
}

func (m Model) renderStatusBar() string {
	var state string
	if m.state == StateStreaming {
		state = m.spinner.View() + " streaming"
	} else {
		state = "ready"
	}
	segments := []string{state, fmt.Sprintf("%d models", len(m.session.Models))}
	if m.notice != "" {
		segments = append(segments, m.notice)
	} else {
		segments = append(segments, m.keyHints())
	}
	return statusBarStyle.Width(max(m.width, 1)).Render(strings.Join(segments, " | "))
}

func (m Model) keyHints() string {
	hints := make([]string, 0, 4)
	for _, b := range m.keys.ShortHelp() {
		hints = append(hints, b.Help().Key+" "+b.Help().Desc)
	}
	return strings.Join(hints, "  ")
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// renderTranscript renders every settled turn plus the live one.
func (m Model) renderTranscript() string {
	sections := make([]string, 0, len(m.turns)+1)
	for _, t := range m.turns {
		sections = append(sections, m.renderTurn(t))
	}
	if m.state == StateStreaming {
		sections = append(sections, m.renderTurn(&turnRecord{prompt: m.prompt, panels: m.panels}))
	}
	if len(sections) == 0 {
		return m.renderWelcome()
	}
	return strings.Join(sections, "\n\n")
}

func (m Model) renderTurn(t *turnRecord) string {
	if t.note != "" {
		return noteStyle.Render(t.note)
	}
	prompt := promptMarkStyle.Render("> ") + promptTextStyle.Render(t.prompt)
	if len(t.panels) == 0 {
		return prompt + "\n" + panelMetaStyle.Render(m.spinner.View()+" waiting for models...")
	}
	return prompt + "\n" + m.renderPanels(t.panels)
}

func (m Model) renderWelcome() string {
	lines := []string{
		headerTitleStyle.Render("chorus") + noteStyle.Render(" - one prompt, many models"),
		"",
		noteStyle.Render("Type a message and press enter to send it to every active model."),
		noteStyle.Render("Each model answers in its own panel; a slow one never blocks a fast one."),
		"",
		noteStyle.Render("/help lists commands. /model and /profile switch what listens."),
	}
	return strings.Join(lines, "\n")
}

// =============================================================================
// PANEL GRID
// =============================================================================

func (m Model) sideBySide() bool {
	if m.cfg == nil {
		return true
	}
	return m.cfg.UI.SideBySide
}

// panelColumns decides the grid shape: as many columns as fit at
// minPanelWidth, capped at the panel count.
func panelColumns(n, width int, sideBySide bool) int {
	if n <= 1 || !sideBySide {
		return 1
	}
	cols := width / minPanelWidth
	if cols < 1 {
		cols = 1
	}
	if cols > n {
		cols = n
	}
	return cols
}

func (m Model) renderPanels(panels []*panel) string {
	width := max(m.viewport.Width, minPanelWidth)
	cols := panelColumns(len(panels), width, m.sideBySide())
	panelWidth := width / cols

	rows := make([]string, 0, (len(panels)+cols-1)/cols)
	for start := 0; start < len(panels); start += cols {
		end := min(start+cols, len(panels))
		row := make([]string, 0, cols)
		for _, p := range panels[start:end] {
			row = append(row, m.renderPanel(p, panelWidth))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, row...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m Model) renderPanel(p *panel, width int) string {
	inner := max(width-4, 10)
	color := styles.ModelColor(p.slot)

	title := lipgloss.NewStyle().Bold(true).Foreground(color).
		Render(util.TruncateWidth(p.model, inner))
	meta := panelMetaStyle.Render(util.TruncateWidth(p.metaLine(), inner))

	var body string
	text := strings.TrimRight(p.text.String(), "\n")
	switch p.status {
	case engine.StatusIdle, engine.StatusWaiting:
		body = panelMetaStyle.Render(m.spinner.View() + " waiting...")
	case engine.StatusResponding:
		body = tailLines(text, liveTailLines)
	case engine.StatusDone:
		body = highlightFences(text, inner)
	default:
		failure := errorTextStyle.Render(styles.StatusIndicators.Error + " " + p.err)
		if text != "" {
			body = tailLines(text, liveTailLines) + "\n" + failure
		} else {
			body = failure
		}
	}

	box := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 1).
		Width(width - 2)
	return box.Render(title + "\n" + meta + "\n" + body)
}

// metaLine is the panel's second header line: live status while
// streaming, stats once done.
func (p *panel) metaLine() string {
	switch p.status {
	case engine.StatusDone:
		if p.stats == (conversation.Stats{}) {
			return "done"
		}
		return p.stats.Format()
	default:
		return p.status.String()
	}
}

// tailLines returns the last n lines of s.
func tailLines(s string, n int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// =============================================================================
// COMMAND OUTPUT NOTES
// =============================================================================

// helpNote lists commands by category, or describes one command.
func (m Model) helpNote(topic string) string {
	if topic != "" {
		name := topic
		if !strings.HasPrefix(name, "/") {
			name = "/" + name
		}
		cmd := m.registry.Get(name)
		if cmd == nil {
			return "unknown command " + name
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s\n  %s\n", cmd.Usage, cmd.Description)
		if len(cmd.Aliases) > 0 {
			fmt.Fprintf(&b, "  aliases: %s\n", strings.Join(cmd.Aliases, ", "))
		}
		return strings.TrimRight(b.String(), "\n")
	}

	grouped := m.registry.ByCategory()
	categories := make([]string, 0, len(grouped))
	for category := range grouped {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, category := range categories {
		fmt.Fprintf(&b, "\n%s\n", category)
		for _, cmd := range grouped[category] {
			fmt.Fprintf(&b, "  %s %s\n", util.PadWidth(cmd.Usage, 28), cmd.Description)
		}
	}
	b.WriteString("\n/help <command> shows details")
	return b.String()
}

func (m Model) modelsNote() string {
	var b strings.Builder
	b.WriteString("Active models:\n")
	if len(m.session.Models) == 0 {
		b.WriteString("  (none - use /model or /profile)\n")
	}
	for i, id := range m.session.Models {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, id)
	}
	b.WriteString("\nBrowse the full catalog from the shell: chorus models")
	return b.String()
}

func (m Model) profilesNote() string {
	if m.profiles == nil {
		return "profile store unavailable"
	}
	list := m.profiles.List()
	if len(list) == 0 {
		return "No profiles saved. Create one from the shell: chorus profile save <name> -m <model>"
	}
	def := m.profiles.DefaultName()
	var b strings.Builder
	b.WriteString("Profiles:\n")
	for _, p := range list {
		marker := "  "
		if p.Name == def {
			marker = "* "
		}
		fmt.Fprintf(&b, "%s%s - %s\n", marker, p.Name, strings.Join(p.Models, ", "))
	}
	b.WriteString("\nSwitch with /profile <name>")
	return b.String()
}

func (m Model) statusNote() string {
	var b strings.Builder
	b.WriteString("Session:\n")
	profileName := m.session.Profile
	if profileName == "" {
		profileName = "(ad hoc)"
	}
	fmt.Fprintf(&b, "  profile:     %s\n", profileName)
	fmt.Fprintf(&b, "  models:      %s\n", strings.Join(m.session.Models, ", "))
	fmt.Fprintf(&b, "  temperature: %g\n", m.session.Temperature)
	if m.session.MaxTokens > 0 {
		fmt.Fprintf(&b, "  max tokens:  %d\n", m.session.MaxTokens)
	} else {
		b.WriteString("  max tokens:  server default\n")
	}
	fmt.Fprintf(&b, "  messages:    %d\n", m.log.Len())

	if last := m.lastCompletedTurn(); last != nil {
		b.WriteString("\nLast turn:\n")
		for _, p := range last.panels {
			detail := p.metaLine()
			if p.err != "" {
				detail = p.err
			}
			fmt.Fprintf(&b, "  %s: %s\n", p.model, detail)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) lastCompletedTurn() *turnRecord {
	for i := len(m.turns) - 1; i >= 0; i-- {
		if len(m.turns[i].panels) > 0 {
			return m.turns[i]
		}
	}
	return nil
}

func sessionsNote(sessions []*transcript.Transcript) string {
	if len(sessions) == 0 {
		return "No saved conversations. Use /save to create one."
	}
	var b strings.Builder
	b.WriteString("Saved conversations (latest first):\n")
	for i, t := range sessions {
		fmt.Fprintf(&b, "  %d. %s  %s  %d messages  %s\n",
			i+1, t.ID, t.SavedAt.Format("2006-01-02 15:04"), t.MessageCount(), t.Preview(40))
	}
	b.WriteString("\nLoad one with /load <number> or /load <id>")
	return b.String()
}

func configNote(cfg *config.Config) string {
	var b strings.Builder
	b.WriteString("Configuration:\n")
	for _, key := range config.AllKeys() {
		val, err := cfg.Get(key)
		if err != nil {
			continue
		}
		shown := fmt.Sprintf("%v", val)
		if config.IsSecret(key) && shown != "" {
			shown = "[REDACTED]"
		}
		fmt.Fprintf(&b, "  %s %v\n", util.PadWidth(key, 24), shown)
	}
	b.WriteString("\nChange a value with /config <key> <value>")
	return b.String()
}
