// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the interactive chat surface for chorus.
//
// This file implements token batching for streaming panels. Rendering
// per token redraws the screen hundreds of times a second; batching at
// 30fps keeps the interface smooth with many models streaming at once.
package ui

import (
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// STREAMING BUFFER
// =============================================================================

const (
	// defaultBatchSize flushes early once this many tokens are pending.
	defaultBatchSize = 15

	// defaultMaxFPS caps how often a buffer is willing to flush.
	defaultMaxFPS = 30

	// flushInterval is the render tick period, matched to defaultMaxFPS.
	flushInterval = 33 * time.Millisecond
)

// StreamingBuffer accumulates tokens between render frames. Write is
// called from the engine's event goroutine, Flush from the Bubble Tea
// loop; the mutex is the only thing shared between them.
type StreamingBuffer struct {
	mu         sync.Mutex
	buf        strings.Builder
	tokenCount int
	lastFlush  time.Time
	batchSize  int
	minFlush   time.Duration
}

// NewStreamingBuffer creates a buffer with the default batch size and
// frame cap.
func NewStreamingBuffer() *StreamingBuffer {
	return NewStreamingBufferWithConfig(defaultBatchSize, defaultMaxFPS)
}

// NewStreamingBufferWithConfig creates a buffer with an explicit batch
// size and maximum flush rate.
func NewStreamingBufferWithConfig(batchSize, maxFPS int) *StreamingBuffer {
	if batchSize < 1 {
		batchSize = 1
	}
	if maxFPS < 1 {
		maxFPS = 1
	}
	return &StreamingBuffer{
		batchSize: batchSize,
		minFlush:  time.Duration(1000/maxFPS) * time.Millisecond,
		lastFlush: time.Now(),
	}
}

// Write appends one token to the buffer.
func (sb *StreamingBuffer) Write(token string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.buf.WriteString(token)
	sb.tokenCount++
}

// Pending reports how many tokens are waiting to be flushed.
func (sb *StreamingBuffer) Pending() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.tokenCount
}

// ShouldFlush reports whether a Flush call would return content: the
// batch size was reached, or tokens have been waiting a full frame.
func (sb *StreamingBuffer) ShouldFlush() bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.shouldFlushLocked()
}

func (sb *StreamingBuffer) shouldFlushLocked() bool {
	if sb.tokenCount == 0 {
		return false
	}
	if sb.tokenCount >= sb.batchSize {
		return true
	}
	return time.Since(sb.lastFlush) >= sb.minFlush
}

// Flush drains the buffer if the size or time threshold is met. The
// second return is false when nothing was drained.
func (sb *StreamingBuffer) Flush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if !sb.shouldFlushLocked() {
		return "", false
	}
	return sb.drainLocked()
}

// ForceFlush drains the buffer regardless of thresholds. Called when a
// stream finishes so no trailing tokens are lost.
func (sb *StreamingBuffer) ForceFlush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.tokenCount == 0 {
		return "", false
	}
	return sb.drainLocked()
}

func (sb *StreamingBuffer) drainLocked() (string, bool) {
	content := sb.buf.String()
	sb.buf.Reset()
	sb.tokenCount = 0
	sb.lastFlush = time.Now()
	return content, content != ""
}

// Reset discards all pending content.
func (sb *StreamingBuffer) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.buf.Reset()
	sb.tokenCount = 0
	sb.lastFlush = time.Now()
}

// =============================================================================
// RENDER TICK COMMAND
// =============================================================================

// streamTickCmd schedules the next render frame. Exactly one tick loop
// runs per turn: the submit path starts it and the tick handler
// reschedules it until the turn settles.
func streamTickCmd() tea.Cmd {
	return tea.Tick(flushInterval, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}
