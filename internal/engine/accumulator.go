// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/morganforge/chorus/internal/conversation"
)

// Accumulator gathers one model's in-flight response during a turn. It is
// owned by the worker goroutine that feeds it; the dispatch loop reads it
// only after the worker's terminal event has been received.
type Accumulator struct {
	model        string
	content      strings.Builder
	tokens       int
	promptTokens int
	status       Status
	err          error
	started      time.Time
	firstToken   time.Time
	finished     time.Time
}

func newAccumulator(model string, promptTokens int) *Accumulator {
	return &Accumulator{
		model:        model,
		promptTokens: promptTokens,
		status:       StatusIdle,
	}
}

// start marks the request as opened and begins timing.
func (a *Accumulator) start() {
	a.status = StatusWaiting
	a.started = time.Now()
}

// append records one streamed token.
func (a *Accumulator) append(token string) {
	if a.tokens == 0 {
		a.firstToken = time.Now()
		a.status = StatusResponding
	}
	a.content.WriteString(token)
	a.tokens++
}

// finish marks a cleanly ended stream.
func (a *Accumulator) finish() {
	a.status = StatusDone
	a.finished = time.Now()
}

// fail records the stream error. Cancellation is classified as an
// interrupt rather than a model failure.
func (a *Accumulator) fail(err error) {
	a.err = err
	a.finished = time.Now()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		a.status = StatusInterrupted
	} else {
		a.status = StatusError
	}
}

// Content returns the text accumulated so far.
func (a *Accumulator) Content() string {
	return a.content.String()
}

// Status returns the current lifecycle state.
func (a *Accumulator) Status() Status {
	return a.status
}

// Tokens returns the number of non-empty fragments received.
func (a *Accumulator) Tokens() int {
	return a.tokens
}

// Stats finalizes the timing numbers for the stream.
func (a *Accumulator) Stats() conversation.Stats {
	s := conversation.Stats{
		PromptTokens:     a.promptTokens,
		CompletionTokens: a.tokens,
	}
	if !a.started.IsZero() && !a.firstToken.IsZero() {
		s.TTFT = a.firstToken.Sub(a.started)
	}
	if !a.started.IsZero() && !a.finished.IsZero() {
		s.Duration = a.finished.Sub(a.started)
		if secs := s.Duration.Seconds(); secs > 0 && a.tokens > 0 {
			s.TokensPerSec = float64(a.tokens) / secs
		}
	}
	return s
}

// outcome snapshots the accumulator into its final per-model result.
func (a *Accumulator) outcome() Outcome {
	return Outcome{
		Model:   a.model,
		Content: a.Content(),
		Err:     a.err,
		Stats:   a.Stats(),
	}
}
