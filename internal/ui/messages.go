// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the interactive chat surface for chorus.
//
// This file defines the messages that carry engine events into the
// Bubble Tea update loop. Every stream message is stamped with the turn
// ID it belongs to; the update loop drops messages from superseded
// turns so a canceled stream can never write into the next one.
package ui

import (
	"time"

	"github.com/morganforge/chorus/internal/engine"
)

// =============================================================================
// STREAM LIFECYCLE MESSAGES
// =============================================================================

// TurnStartMsg announces the models participating in a turn. Models is
// the deduplicated submission-order list; panel slots are keyed by it.
type TurnStartMsg struct {
	TurnID string
	Models []string
}

// TokenMsg delivers one streamed fragment for a model. Tokens land in
// the panel's buffer and are rendered on the next tick, not per token.
type TokenMsg struct {
	TurnID string
	Model  string
	Token  string
}

// ModelDoneMsg carries a model's finalized response text. Content is
// authoritative and replaces whatever the panel accumulated.
type ModelDoneMsg struct {
	TurnID  string
	Model   string
	Content string
}

// ModelErrorMsg reports one model's failure. The turn keeps running for
// the other models.
type ModelErrorMsg struct {
	TurnID string
	Model  string
	Reason string
}

// TurnCompleteMsg fires once every model has settled, with outcomes in
// submission order.
type TurnCompleteMsg struct {
	TurnID   string
	Outcomes []engine.Outcome
}

// TurnFailedMsg reports a turn that never started streaming, e.g. an
// empty model set. No other stream message is sent for the turn.
type TurnFailedMsg struct {
	TurnID string
	Err    error
}

// =============================================================================
// RENDER TICK
// =============================================================================

// StreamTickMsg drives the batched flush while a turn is streaming. The
// handler drains every panel buffer, renders once, and schedules the
// next tick; the loop stops when the turn leaves the streaming state.
type StreamTickMsg struct {
	Time time.Time
}
