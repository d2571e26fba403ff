// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the interactive chat surface for chorus.
package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/morganforge/chorus/internal/commands"
	"github.com/morganforge/chorus/internal/config"
	"github.com/morganforge/chorus/internal/conversation"
	"github.com/morganforge/chorus/internal/engine"
	"github.com/morganforge/chorus/internal/profile"
	"github.com/morganforge/chorus/internal/transcript"
	"github.com/morganforge/chorus/internal/ui/styles"
)

// =============================================================================
// STATE
// =============================================================================

// State is the surface's top-level mode.
type State int

const (
	// StateReady accepts input.
	StateReady State = iota

	// StateStreaming has a turn in flight; input is blurred and Esc or
	// Ctrl+C interrupts.
	StateStreaming
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// =============================================================================
// KEY BINDINGS
// =============================================================================

// KeyMap defines the chat surface's keyboard bindings.
type KeyMap struct {
	Submit    key.Binding
	Newline   key.Binding
	Interrupt key.Binding
	Quit      key.Binding
	Clear     key.Binding
	PageUp    key.Binding
	PageDown  key.Binding
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Newline: key.NewBinding(
			key.WithKeys("ctrl+j"),
			key.WithHelp("ctrl+j", "newline"),
		),
		Interrupt: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "interrupt"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
		Clear: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("ctrl+l", "clear"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("pgup", "scroll up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("pgdn", "scroll down"),
		),
	}
}

// ShortHelp returns the bindings shown in the status bar.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.Newline, k.Interrupt, k.Quit}
}

// =============================================================================
// PANELS AND TURNS
// =============================================================================

// panel is one model's column for one turn. Panels are held by pointer:
// the buffer is written from the engine goroutine, and strings.Builder
// must not be copied once written to.
type panel struct {
	model  string
	slot   int
	status engine.Status
	buffer *StreamingBuffer
	text   strings.Builder
	err    string
	stats  conversation.Stats
}

func newPanel(model string, slot int) *panel {
	return &panel{
		model:  model,
		slot:   slot,
		status: engine.StatusWaiting,
		buffer: NewStreamingBuffer(),
	}
}

// turnRecord is one completed exchange in the visible transcript: the
// prompt plus the per-model panels, or a standalone note (command
// output, system text).
type turnRecord struct {
	prompt string
	panels []*panel
	note   string
}

// turnsFromMessages rebuilds the visible transcript from a flat message
// log, e.g. after /load. Consecutive assistant messages group under the
// preceding user prompt in encounter order.
func turnsFromMessages(msgs []conversation.Message) []*turnRecord {
	var turns []*turnRecord
	var current *turnRecord
	for _, msg := range msgs {
		switch msg.Role {
		case conversation.RoleUser:
			current = &turnRecord{prompt: msg.Content}
			turns = append(turns, current)
		case conversation.RoleAssistant:
			if current == nil {
				current = &turnRecord{}
				turns = append(turns, current)
			}
			p := newPanel(msg.Model, len(current.panels))
			p.status = engine.StatusDone
			p.text.WriteString(msg.Content)
			if msg.Stats != nil {
				p.stats = *msg.Stats
			}
			current.panels = append(current.panels, p)
		case conversation.RoleSystem:
			turns = append(turns, &turnRecord{note: msg.Content})
		}
	}
	return turns
}

// =============================================================================
// MODEL
// =============================================================================

// Options wires the chat surface's collaborators. Config, Engine, and
// Log are required; nil stores disable the matching slash commands with
// an error notice instead of crashing.
type Options struct {
	Config      *config.Config
	Engine      *engine.Engine
	Log         *conversation.Log
	Session     profile.Resolved
	Transcripts *transcript.Store
	Profiles    *profile.Store
	Templates   *profile.Templates
	Logger      *zap.Logger
}

// Model is the Bubble Tea model for the chat surface.
type Model struct {
	// Collaborators
	cfg         *config.Config
	engine      *engine.Engine
	log         *conversation.Log
	transcripts *transcript.Store
	profiles    *profile.Store
	templates   *profile.Templates
	logger      *zap.Logger

	// Session settings, mutated by /model and /profile.
	session profile.Resolved

	// Command system
	registry *commands.Registry
	parser   *commands.Parser

	// Turn plumbing. program and cancel are shared pointers so every
	// value copy of the Model sees the same state.
	program *programHandle
	cancel  *cancelHolder
	turnID  string

	// Turn state
	state  State
	prompt string
	panels []*panel
	turns  []*turnRecord

	// Widgets
	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	keys     KeyMap

	// Layout
	width  int
	height int
	ready  bool

	// notice is the transient status-bar message, already styled.
	notice string
}

// New creates the chat surface model.
func New(opts Options) Model {
	if opts.Log == nil {
		opts.Log = conversation.NewLog()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ta := textarea.New()
	ta.Placeholder = "Send a message (/help for commands)"
	ta.Prompt = "> "
	ta.CharLimit = 0
	ta.SetHeight(2)
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	// Enter submits; newlines go through ctrl+j.
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("ctrl+j"))
	ta.Focus()

	vp := viewport.New(80, 20)
	vp.MouseWheelEnabled = true

	sp := spinner.New(
		spinner.WithSpinner(spinner.MiniDot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(styles.Amber)),
	)

	registry := commands.NewRegistry()

	return Model{
		cfg:         opts.Config,
		engine:      opts.Engine,
		log:         opts.Log,
		transcripts: opts.Transcripts,
		profiles:    opts.Profiles,
		templates:   opts.Templates,
		logger:      opts.Logger,
		session:     opts.Session,
		registry:    registry,
		parser:      commands.NewParser(registry),
		program:     &programHandle{},
		cancel:      &cancelHolder{},
		state:       StateReady,
		input:       ta,
		viewport:    vp,
		spinner:     sp,
		keys:        DefaultKeyMap(),
	}
}

// AttachProgram hands the running program to the model's submit path.
// Must be called after tea.NewProgram and before Run.
func (m Model) AttachProgram(p *tea.Program) {
	m.program.set(p)
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// =============================================================================
// HELPERS
// =============================================================================

// panelFor returns the live panel for a model, nil when the model is
// not part of the current turn.
func (m Model) panelFor(model string) *panel {
	for _, p := range m.panels {
		if p.model == model {
			return p
		}
	}
	return nil
}

// lastResponse returns the most recent successful answer, preferring
// earlier slots when several models answered the same turn.
func (m Model) lastResponse() string {
	for i := len(m.turns) - 1; i >= 0; i-- {
		for _, p := range m.turns[i].panels {
			if p.err == "" && p.text.Len() > 0 {
				return p.text.String()
			}
		}
	}
	return ""
}

// commandContext snapshots the state slash command handlers need.
func (m Model) commandContext() *commands.Context {
	return &commands.Context{
		Models:       m.session.Models,
		Profile:      m.session.Profile,
		LastResponse: m.lastResponse(),
		Transcripts:  m.transcripts,
	}
}
