// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the interactive chat surface for chorus.
//
// The surface is a Bubble Tea program. One prompt fans out to every
// active model, and each model gets its own panel: side by side when the
// terminal is wide enough, stacked when it is not. Panels fill in
// independently as tokens arrive, so a slow model never blocks a fast
// one.
//
// # Streaming pipeline
//
// Engine callbacks run on the engine's event goroutine, never on the
// Bubble Tea loop. A forwarder translates each callback into a typed
// tea.Msg and pushes it through tea.Program.Send:
//
//	engine.Listener ──> forwarder ──> program.Send ──> Update
//
// Tokens are not rendered one by one. Each panel owns a StreamingBuffer
// that batches incoming tokens; a 30fps tick drains the buffers and
// re-renders the transcript once per frame. This keeps rendering cost
// bounded no matter how fast the backends stream.
//
// # Usage
//
//	m := ui.New(ui.Options{
//		Config:  cfg,
//		Engine:  eng,
//		Log:     log,
//		Session: session,
//	})
//	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
//	m.AttachProgram(p)
//	if _, err := p.Run(); err != nil {
//		return err
//	}
//
// AttachProgram must run before p.Run: the submit path needs the program
// handle to push stream messages from the engine goroutine.
//
// Slash commands (/model, /profile, /save, ...) are parsed and executed
// by the commands package; their result messages are consumed in this
// package's update loop.
package ui
