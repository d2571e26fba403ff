// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/chorus/internal/engine"
)

// =============================================================================
// FORWARDER TESTS
// =============================================================================

func TestForwarderSendsTypedMessages(t *testing.T) {
	var got []tea.Msg
	fwd := newForwarder(func(msg tea.Msg) { got = append(got, msg) }, "turn-1")

	if fwd.Started() {
		t.Error("Forwarder should not report started before OnTurnStart")
	}

	fwd.OnTurnStart([]string{"alpha/one", "beta/two"})
	fwd.OnToken("alpha/one", "Hello")
	fwd.OnModelDone("alpha/one", "Hello world")
	fwd.OnModelError("beta/two", "rate limited")
	fwd.OnTurnComplete([]engine.Outcome{
		{Model: "alpha/one", Content: "Hello world"},
		{Model: "beta/two", Err: errors.New("rate limited")},
	})

	if !fwd.Started() {
		t.Error("Forwarder should report started after OnTurnStart")
	}
	if len(got) != 5 {
		t.Fatalf("Expected 5 messages, got %d", len(got))
	}

	start, ok := got[0].(TurnStartMsg)
	if !ok {
		t.Fatalf("Expected TurnStartMsg first, got %T", got[0])
	}
	if start.TurnID != "turn-1" {
		t.Errorf("Expected turn ID 'turn-1', got %q", start.TurnID)
	}
	if len(start.Models) != 2 {
		t.Errorf("Expected 2 models, got %d", len(start.Models))
	}

	token, ok := got[1].(TokenMsg)
	if !ok {
		t.Fatalf("Expected TokenMsg second, got %T", got[1])
	}
	if token.Model != "alpha/one" || token.Token != "Hello" {
		t.Errorf("Unexpected token message: %+v", token)
	}

	done, ok := got[2].(ModelDoneMsg)
	if !ok {
		t.Fatalf("Expected ModelDoneMsg third, got %T", got[2])
	}
	if done.Content != "Hello world" {
		t.Errorf("Expected finalized content, got %q", done.Content)
	}

	modelErr, ok := got[3].(ModelErrorMsg)
	if !ok {
		t.Fatalf("Expected ModelErrorMsg fourth, got %T", got[3])
	}
	if modelErr.Model != "beta/two" || modelErr.Reason != "rate limited" {
		t.Errorf("Unexpected error message: %+v", modelErr)
	}

	complete, ok := got[4].(TurnCompleteMsg)
	if !ok {
		t.Fatalf("Expected TurnCompleteMsg last, got %T", got[4])
	}
	if complete.TurnID != "turn-1" {
		t.Errorf("Expected turn ID 'turn-1', got %q", complete.TurnID)
	}
	if len(complete.Outcomes) != 2 {
		t.Errorf("Expected 2 outcomes, got %d", len(complete.Outcomes))
	}
}

func TestForwarderStampsEveryMessage(t *testing.T) {
	var got []tea.Msg
	fwd := newForwarder(func(msg tea.Msg) { got = append(got, msg) }, "turn-9")

	fwd.OnToken("m", "a")
	fwd.OnModelDone("m", "a")
	fwd.OnModelError("m", "boom")
	fwd.OnTurnComplete(nil)

	for i, msg := range got {
		var id string
		switch msg := msg.(type) {
		case TokenMsg:
			id = msg.TurnID
		case ModelDoneMsg:
			id = msg.TurnID
		case ModelErrorMsg:
			id = msg.TurnID
		case TurnCompleteMsg:
			id = msg.TurnID
		}
		if id != "turn-9" {
			t.Errorf("Message %d missing turn stamp: %+v", i, msg)
		}
	}
}

// =============================================================================
// CANCEL HOLDER TESTS
// =============================================================================

func TestCancelHolderCancelOnce(t *testing.T) {
	holder := &cancelHolder{}
	calls := 0
	holder.Set(func() { calls++ })

	holder.Cancel()
	holder.Cancel()

	if calls != 1 {
		t.Errorf("Expected exactly one cancel call, got %d", calls)
	}
}

func TestCancelHolderNilSafe(t *testing.T) {
	holder := &cancelHolder{}

	// No function installed; must not panic.
	holder.Cancel()
	holder.Clear()
}

func TestCancelHolderClearDropsWithoutCalling(t *testing.T) {
	holder := &cancelHolder{}
	calls := 0
	holder.Set(func() { calls++ })

	holder.Clear()
	holder.Cancel()

	if calls != 0 {
		t.Errorf("Expected no cancel calls after clear, got %d", calls)
	}
}

// =============================================================================
// PROGRAM HANDLE TESTS
// =============================================================================

func TestProgramHandleSendBeforeAttach(t *testing.T) {
	handle := &programHandle{}

	// No program attached; must not panic.
	handle.send(TokenMsg{TurnID: "t", Model: "m", Token: "x"})
}
