// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the interactive chat surface for chorus.
//
// This file contains the update loop: key handling, the streaming
// message handlers, and the reactions to slash command results.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"go.uber.org/zap"

	"github.com/morganforge/chorus/internal/commands"
	"github.com/morganforge/chorus/internal/config"
	"github.com/morganforge/chorus/internal/engine"
	"github.com/morganforge/chorus/internal/export"
	"github.com/morganforge/chorus/internal/transcript"
	"github.com/morganforge/chorus/internal/ui/styles"
	"github.com/morganforge/chorus/internal/util"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	// Stream lifecycle
	case TurnStartMsg:
		return m.handleTurnStart(msg)
	case TokenMsg:
		return m.handleToken(msg)
	case StreamTickMsg:
		return m.handleStreamTick(msg)
	case ModelDoneMsg:
		return m.handleModelDone(msg)
	case ModelErrorMsg:
		return m.handleModelError(msg)
	case TurnCompleteMsg:
		return m.handleTurnComplete(msg)
	case TurnFailedMsg:
		return m.handleTurnFailed(msg)

	case spinner.TickMsg:
		if m.state != StateStreaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	// Slash command results
	case commands.ShowHelpMsg:
		return m.appendNote(m.helpNote(msg.Topic))
	case commands.NewConversationMsg:
		m.log.Clear()
		m.turns = nil
		m.notice = styles.RenderInfo("started a new conversation")
		m.refreshViewport()
		return m, nil
	case commands.ClearScreenMsg:
		m.turns = nil
		m.notice = ""
		m.refreshViewport()
		return m, nil
	case commands.SaveConversationMsg:
		return m, m.saveCmd(msg.Name)
	case commands.SaveCompleteMsg:
		if msg.Error != nil {
			m.notice = styles.RenderError("save failed: " + msg.Error.Error())
		} else {
			m.notice = styles.RenderSuccess("saved transcript " + msg.ID)
		}
		return m, nil
	case commands.TranscriptLoadedMsg:
		return m.handleTranscriptLoaded(msg)
	case commands.SessionListMsg:
		if msg.Error != nil {
			m.notice = styles.RenderError("list failed: " + msg.Error.Error())
			return m, nil
		}
		return m.appendNote(sessionsNote(msg.Sessions))
	case commands.ExportConversationMsg:
		return m, m.exportCmd(msg.Format)
	case commands.ExportCompleteMsg:
		if msg.Error != nil {
			m.notice = styles.RenderError("export failed: " + msg.Error.Error())
		} else {
			m.notice = styles.RenderSuccess("exported to " + msg.Path)
		}
		return m, nil
	case commands.ShowModelsMsg:
		return m.appendNote(m.modelsNote())
	case commands.SetModelsMsg:
		return m.handleSetModels(msg)
	case commands.ShowProfilesMsg:
		return m.appendNote(m.profilesNote())
	case commands.UseProfileMsg:
		return m.handleUseProfile(msg)
	case commands.ApplyTemplateMsg:
		return m.handleApplyTemplate(msg)
	case commands.CopyToClipboardMsg:
		m.notice = styles.RenderSuccess("copied last response to clipboard")
		return m, copyCmd(msg.Content)
	case commands.ShowStatusMsg:
		return m.appendNote(m.statusNote())
	case commands.ShowConfigMsg:
		return m.handleShowConfig(msg)
	case commands.ErrorMsg:
		text := msg.Message
		if msg.Title != "" {
			text = msg.Title + ": " + text
		}
		if msg.Tip != "" {
			text += " (" + msg.Tip + ")"
		}
		m.notice = styles.RenderError(text)
		return m, nil
	}

	return m.handleDefault(msg)
}

// handleDefault forwards component-internal messages (cursor blink and
// friends) to the input and the viewport.
func (m Model) handleDefault(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.ready = m.width > 0 && m.height > 0
	if m.width > 2 {
		m.input.SetWidth(m.width - 2)
	}
	m.recalcLayout()
	m.refreshViewport()
	return m, nil
}

// recalcLayout sizes the viewport to the space left after the fixed
// chrome, measured from actual renders so wrapped lines count.
func (m *Model) recalcLayout() {
	if !m.ready {
		return
	}
	chrome := lipgloss.Height(m.renderHeader()) +
		lipgloss.Height(m.renderInput()) +
		lipgloss.Height(m.renderStatusBar())
	available := m.height - chrome
	if available < 1 {
		available = 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = available
}

// refreshViewport re-renders the transcript into the viewport.
func (m *Model) refreshViewport() {
	m.viewport.SetContent(m.renderTranscript())
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.state == StateStreaming {
			return m.interrupt()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Interrupt):
		if m.state == StateStreaming {
			return m.interrupt()
		}
		m.input.Reset()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		if m.state != StateReady {
			return m, nil
		}
		return m.submitInput()

	case key.Matches(msg, m.keys.Clear):
		m.turns = nil
		m.notice = ""
		m.refreshViewport()
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.ViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.ViewDown()
		return m, nil
	}

	// Everything else is typing. The viewport only scrolls through its
	// dedicated keys above so printable characters never move it.
	if m.state == StateReady {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) interrupt() (tea.Model, tea.Cmd) {
	m.cancel.Cancel()
	m.notice = styles.RenderWarning("interrupting...")
	return m, nil
}

// =============================================================================
// INPUT SUBMISSION
// =============================================================================

// submitInput routes the input line: slash commands go to the command
// system, everything else becomes a turn.
func (m Model) submitInput() (tea.Model, tea.Cmd) {
	content := strings.TrimSpace(m.input.Value())
	if content == "" {
		return m, nil
	}
	if commands.IsCommand(content) {
		return m.runCommand(content)
	}
	return m.submitTurn(content)
}

func (m Model) runCommand(input string) (tea.Model, tea.Cmd) {
	m.input.Reset()
	result := m.parser.Parse(input)
	if result.Error != nil {
		m.notice = styles.RenderError(result.Error.Error())
		return m, nil
	}
	return m, result.Command.Handler(m.commandContext(), result.Args)
}

// submitTurn fans the prompt out to the active models.
func (m Model) submitTurn(prompt string) (tea.Model, tea.Cmd) {
	if len(m.session.Models) == 0 {
		m.notice = styles.RenderError("no model selected - use /model or /profile")
		return m, nil
	}
	if m.engine == nil {
		m.notice = styles.RenderError("engine unavailable")
		return m, nil
	}

	m.input.Reset()
	m.input.Blur()
	m.prompt = prompt
	m.panels = nil
	m.turnID = uuid.NewString()
	m.state = StateStreaming
	m.notice = ""

	models := make([]string, len(m.session.Models))
	copy(models, m.session.Models)
	turn := engine.Turn{
		Prompt:       prompt,
		Models:       models,
		Temperature:  m.session.Temperature,
		MaxTokens:    m.session.MaxTokens,
		SystemPrompt: m.session.SystemPrompt,
		Profile:      m.session.Profile,
	}

	m.refreshViewport()
	m.viewport.GotoBottom()

	return m, tea.Batch(m.startTurn(turn), m.spinner.Tick, streamTickCmd())
}

// startTurn runs the engine submit on the command goroutine. Events
// come back through the forwarder; only a turn that never started
// reports its error here.
func (m Model) startTurn(turn engine.Turn) tea.Cmd {
	eng := m.engine
	logger := m.logger
	turnID := m.turnID
	fwd := newForwarder(m.program.send, turnID)

	ctx, cancelFn := context.WithCancel(context.Background())
	m.cancel.Set(cancelFn)

	return func() tea.Msg {
		defer cancelFn()
		_, err := eng.Submit(ctx, turn, fwd)
		if err != nil && !fwd.Started() {
			return TurnFailedMsg{TurnID: turnID, Err: err}
		}
		if err != nil {
			logger.Debug("turn finished with failures", zap.String("turn", turnID), zap.Error(err))
		}
		return nil
	}
}

// =============================================================================
// STREAM HANDLERS
// =============================================================================

func (m Model) handleTurnStart(msg TurnStartMsg) (tea.Model, tea.Cmd) {
	if msg.TurnID != m.turnID {
		return m, nil
	}
	m.panels = make([]*panel, 0, len(msg.Models))
	for i, id := range msg.Models {
		m.panels = append(m.panels, newPanel(id, i))
	}
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m, nil
}

// handleToken buffers the fragment. No render happens here; the tick
// handler drains the buffers once per frame.
func (m Model) handleToken(msg TokenMsg) (tea.Model, tea.Cmd) {
	if msg.TurnID != m.turnID || m.state != StateStreaming {
		return m, nil
	}
	p := m.panelFor(msg.Model)
	if p == nil {
		return m, nil
	}
	if p.status == engine.StatusWaiting {
		p.status = engine.StatusResponding
	}
	p.buffer.Write(msg.Token)
	return m, nil
}

func (m Model) handleStreamTick(StreamTickMsg) (tea.Model, tea.Cmd) {
	if m.state != StateStreaming {
		// Turn settled; let the tick loop die.
		return m, nil
	}
	flushed := false
	for _, p := range m.panels {
		if chunk, ok := p.buffer.Flush(); ok {
			p.text.WriteString(chunk)
			flushed = true
		}
	}
	if flushed {
		m.refreshViewport()
		m.viewport.GotoBottom()
	}
	return m, streamTickCmd()
}

func (m Model) handleModelDone(msg ModelDoneMsg) (tea.Model, tea.Cmd) {
	if msg.TurnID != m.turnID {
		return m, nil
	}
	p := m.panelFor(msg.Model)
	if p == nil {
		return m, nil
	}
	// The engine's final text is authoritative; drop buffered leftovers.
	p.buffer.Reset()
	p.text.Reset()
	p.text.WriteString(msg.Content)
	p.status = engine.StatusDone
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m, nil
}

func (m Model) handleModelError(msg ModelErrorMsg) (tea.Model, tea.Cmd) {
	if msg.TurnID != m.turnID {
		return m, nil
	}
	p := m.panelFor(msg.Model)
	if p == nil {
		return m, nil
	}
	if chunk, ok := p.buffer.ForceFlush(); ok {
		p.text.WriteString(chunk)
	}
	p.err = msg.Reason
	if msg.Reason == "interrupted" {
		p.status = engine.StatusInterrupted
	} else {
		p.status = engine.StatusError
	}
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m, nil
}

func (m Model) handleTurnComplete(msg TurnCompleteMsg) (tea.Model, tea.Cmd) {
	if msg.TurnID != m.turnID {
		return m, nil
	}
	for _, p := range m.panels {
		if chunk, ok := p.buffer.ForceFlush(); ok {
			p.text.WriteString(chunk)
		}
	}
	for _, out := range msg.Outcomes {
		p := m.panelFor(out.Model)
		if p == nil {
			continue
		}
		p.stats = out.Stats
		if out.Err == nil {
			p.status = engine.StatusDone
			if p.text.Len() == 0 && out.Content != "" {
				p.text.WriteString(out.Content)
			}
		}
	}

	m.turns = append(m.turns, &turnRecord{prompt: m.prompt, panels: m.panels})
	m.panels = nil
	m.prompt = ""
	m.state = StateReady
	m.cancel.Clear()
	m.notice = turnSummary(msg.Outcomes)
	m.input.Focus()
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m, textarea.Blink
}

func (m Model) handleTurnFailed(msg TurnFailedMsg) (tea.Model, tea.Cmd) {
	if msg.TurnID != m.turnID {
		return m, nil
	}
	m.state = StateReady
	m.panels = nil
	m.prompt = ""
	m.cancel.Clear()
	if errors.Is(msg.Err, engine.ErrNoModelSelected) {
		m.notice = styles.RenderError("no model selected - use /model or /profile")
	} else {
		m.notice = styles.RenderError(msg.Err.Error())
	}
	m.input.Focus()
	m.refreshViewport()
	return m, textarea.Blink
}

// turnSummary condenses a turn's outcomes into one status-bar line.
func turnSummary(outcomes []engine.Outcome) string {
	ok := 0
	tokens := 0
	var longest time.Duration
	for _, out := range outcomes {
		if out.Err == nil {
			ok++
		}
		tokens += out.Stats.CompletionTokens
		if out.Stats.Duration > longest {
			longest = out.Stats.Duration
		}
	}
	parts := []string{fmt.Sprintf("%d/%d answered", ok, len(outcomes))}
	if tokens > 0 {
		parts = append(parts, util.FormatNumber(tokens)+" tokens")
	}
	if longest > 0 {
		parts = append(parts, fmt.Sprintf("%.1fs", longest.Seconds()))
	}
	summary := strings.Join(parts, " | ")
	switch {
	case ok == 0:
		return styles.RenderError(summary)
	case ok < len(outcomes):
		return styles.RenderWarning(summary)
	default:
		return styles.RenderSuccess(summary)
	}
}

// =============================================================================
// COMMAND RESULT HANDLERS
// =============================================================================

// appendNote adds a standalone note to the transcript, e.g. command
// output.
func (m Model) appendNote(note string) (tea.Model, tea.Cmd) {
	m.turns = append(m.turns, &turnRecord{note: note})
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m, nil
}

func (m Model) handleTranscriptLoaded(msg commands.TranscriptLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.Error != nil {
		m.notice = styles.RenderError("load failed: " + msg.Error.Error())
		return m, nil
	}
	m.log.Replace(msg.Messages)
	m.turns = turnsFromMessages(msg.Messages)
	m.notice = styles.RenderSuccess("loaded transcript " + msg.ID)
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m, nil
}

func (m Model) handleSetModels(msg commands.SetModelsMsg) (tea.Model, tea.Cmd) {
	if len(msg.Models) == 0 {
		m.notice = styles.RenderError("no models given")
		return m, nil
	}
	m.session.Models = msg.Models
	m.session.Profile = ""
	m.notice = styles.RenderSuccess("models: " + strings.Join(msg.Models, ", "))
	return m, nil
}

func (m Model) handleUseProfile(msg commands.UseProfileMsg) (tea.Model, tea.Cmd) {
	if m.profiles == nil {
		m.notice = styles.RenderError("profile store unavailable")
		return m, nil
	}
	resolved, err := m.profiles.Resolve(msg.Name)
	if err != nil {
		m.notice = styles.RenderError(err.Error())
		return m, nil
	}
	m.session = resolved
	m.notice = styles.RenderSuccess(
		"profile " + resolved.Profile + " | models: " + strings.Join(resolved.Models, ", "))
	return m, nil
}

func (m Model) handleApplyTemplate(msg commands.ApplyTemplateMsg) (tea.Model, tea.Cmd) {
	if m.templates == nil {
		m.notice = styles.RenderError("template store unavailable")
		return m, nil
	}
	text, err := m.templates.Expand(msg.Name, msg.Values)
	if err != nil {
		m.notice = styles.RenderError(err.Error())
		return m, nil
	}
	m.input.SetValue(text)
	m.input.Focus()
	m.notice = styles.RenderInfo("template " + msg.Name + " expanded - enter to send")
	return m, textarea.Blink
}

func (m Model) handleShowConfig(msg commands.ShowConfigMsg) (tea.Model, tea.Cmd) {
	if m.cfg == nil {
		m.notice = styles.RenderError("config unavailable")
		return m, nil
	}
	switch {
	case msg.Key == "":
		return m.appendNote(configNote(m.cfg))

	case msg.Value == "":
		val, err := m.cfg.Get(msg.Key)
		if err != nil {
			m.notice = styles.RenderError(err.Error())
			return m, nil
		}
		shown := fmt.Sprintf("%v", val)
		if config.IsSecret(msg.Key) {
			shown = "[REDACTED]"
		}
		m.notice = styles.RenderInfo(msg.Key + " = " + shown)
		return m, nil

	default:
		trial := m.cfg.Clone()
		if err := trial.Set(msg.Key, msg.Value); err != nil {
			m.notice = styles.RenderError(err.Error())
			return m, nil
		}
		if err := trial.Validate(); err != nil {
			m.notice = styles.RenderError(err.Error())
			return m, nil
		}
		*m.cfg = *trial
		m.notice = styles.RenderSuccess(msg.Key + " = " + msg.Value)
		return m, saveConfigCmd(trial)
	}
}

// =============================================================================
// ASYNC COMMANDS
// =============================================================================

func (m Model) saveCmd(name string) tea.Cmd {
	store := m.transcripts
	msgs := m.log.Messages()
	return func() tea.Msg {
		if store == nil {
			return commands.SaveCompleteMsg{Error: errors.New("transcript store unavailable")}
		}
		if len(msgs) == 0 {
			return commands.SaveCompleteMsg{Error: errors.New("nothing to save")}
		}
		t, err := store.Save(name, msgs)
		if err != nil {
			return commands.SaveCompleteMsg{Error: err}
		}
		return commands.SaveCompleteMsg{ID: t.ID}
	}
}

func (m Model) exportCmd(format string) tea.Cmd {
	msgs := m.log.Messages()
	return func() tea.Msg {
		if len(msgs) == 0 {
			return commands.ExportCompleteMsg{Error: errors.New("nothing to export")}
		}
		opts := export.DefaultOptions()
		exporter, err := export.ForFormat(format, opts)
		if err != nil {
			return commands.ExportCompleteMsg{Error: err}
		}
		t := &transcript.Transcript{
			ID:       "chorus-" + time.Now().Format("20060102-150405"),
			Messages: msgs,
			SavedAt:  time.Now(),
		}
		path, err := export.ExportToFile(t, exporter, opts)
		return commands.ExportCompleteMsg{Path: path, Error: err}
	}
}

// copyCmd copies through OSC 52 so it works over SSH without a display
// server.
func copyCmd(content string) tea.Cmd {
	return func() tea.Msg {
		termenv.DefaultOutput().Copy(content)
		return nil
	}
}

func saveConfigCmd(cfg *config.Config) tea.Cmd {
	return func() tea.Msg {
		if err := config.Save(cfg); err != nil {
			return commands.ErrorMsg{Title: "config", Message: err.Error()}
		}
		return nil
	}
}
