// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the interactive chat surface for chorus.
//
// This file bridges engine callbacks onto the Bubble Tea loop. The
// engine invokes the forwarder from its own goroutine; the forwarder
// turns each callback into a typed message and hands it to
// tea.Program.Send, which is safe to call from any goroutine.
package ui

import (
	"context"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/chorus/internal/engine"
)

// =============================================================================
// ENGINE -> PROGRAM FORWARDER
// =============================================================================

// forwarder implements engine.Listener by sending one message per
// callback, each stamped with the owning turn ID.
type forwarder struct {
	send    func(tea.Msg)
	turnID  string
	started atomic.Bool
}

func newForwarder(send func(tea.Msg), turnID string) *forwarder {
	return &forwarder{send: send, turnID: turnID}
}

// Started reports whether OnTurnStart fired. The submit command uses it
// to tell a pre-flight failure (no events delivered, surface a
// TurnFailedMsg) from a turn whose per-model errors already arrived as
// stream messages.
func (f *forwarder) Started() bool {
	return f.started.Load()
}

func (f *forwarder) OnTurnStart(models []string) {
	f.started.Store(true)
	f.send(TurnStartMsg{TurnID: f.turnID, Models: models})
}

func (f *forwarder) OnToken(model, token string) {
	f.send(TokenMsg{TurnID: f.turnID, Model: model, Token: token})
}

func (f *forwarder) OnModelDone(model, fullText string) {
	f.send(ModelDoneMsg{TurnID: f.turnID, Model: model, Content: fullText})
}

func (f *forwarder) OnModelError(model, errText string) {
	f.send(ModelErrorMsg{TurnID: f.turnID, Model: model, Reason: errText})
}

func (f *forwarder) OnTurnComplete(outcomes []engine.Outcome) {
	f.send(TurnCompleteMsg{TurnID: f.turnID, Outcomes: outcomes})
}

var _ engine.Listener = (*forwarder)(nil)

// =============================================================================
// PROGRAM HANDLE
// =============================================================================

// programHandle carries the running tea.Program into submit commands.
// The Model is copied by value on every update, so the handle is a
// shared pointer: AttachProgram sets it once before Run and every copy
// sees it.
type programHandle struct {
	mu sync.Mutex
	p  *tea.Program
}

func (h *programHandle) set(p *tea.Program) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.p = p
}

// send delivers a message to the program. Messages sent before
// AttachProgram are dropped; nothing streams before Run starts, so that
// only covers misuse.
func (h *programHandle) send(msg tea.Msg) {
	h.mu.Lock()
	p := h.p
	h.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// =============================================================================
// CANCEL HOLDER
// =============================================================================

// cancelHolder stores the active turn's cancel function. It is a
// pointer field on the Model so the mutex is never copied when Bubble
// Tea copies the model value.
type cancelHolder struct {
	mu sync.Mutex
	fn context.CancelFunc
}

// Set installs the cancel function for a new turn.
func (c *cancelHolder) Set(fn context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fn = fn
}

// Cancel interrupts the active turn. Safe to call when no turn is
// running; the function is cleared after use so a second Esc is a
// no-op.
func (c *cancelHolder) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fn != nil {
		c.fn()
		c.fn = nil
	}
}

// Clear drops the stored function without calling it.
func (c *cancelHolder) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fn = nil
}
