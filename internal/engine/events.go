// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"github.com/morganforge/chorus/internal/conversation"
)

// Listener receives everything the engine makes observable about a turn.
// All callbacks for one Submit are invoked from a single goroutine, in
// order: OnTurnStart once, then any number of OnToken, exactly one
// OnModelDone or OnModelError per model, and OnTurnComplete once.
type Listener interface {
	// OnTurnStart announces the participating models. The slice order is
	// the submission order; renderers key their slots by it so late
	// completions never reorder the layout.
	OnTurnStart(models []string)

	// OnToken delivers one streamed fragment for a model.
	OnToken(model, token string)

	// OnModelDone delivers a model's finalized response text.
	OnModelDone(model, fullText string)

	// OnModelError reports a model's failure. The other models are
	// unaffected.
	OnModelError(model, errText string)

	// OnTurnComplete fires after every model has settled, with outcomes
	// in submission order.
	OnTurnComplete(outcomes []Outcome)
}

// Outcome is one model's final result for a turn. Err is nil exactly when
// an assistant message was committed for the model; Content carries the
// partial text when a stream died or was interrupted midway.
type Outcome struct {
	Model   string
	Content string
	Err     error
	Stats   conversation.Stats
}

// nopListener discards all events.
type nopListener struct{}

func (nopListener) OnTurnStart([]string)        {}
func (nopListener) OnToken(string, string)      {}
func (nopListener) OnModelDone(string, string)  {}
func (nopListener) OnModelError(string, string) {}
func (nopListener) OnTurnComplete([]Outcome)    {}

type eventKind int

const (
	eventToken eventKind = iota
	eventTerminal
)

// event is the wire between worker goroutines and the dispatch loop. A
// terminal event carries no payload: the dispatch loop reads the worker's
// accumulator after receiving it, with the channel as the
// synchronization point.
type event struct {
	kind  eventKind
	slot  int
	model string
	token string
}
