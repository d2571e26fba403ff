// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine fans one user prompt out to several models in parallel,
// streams every response through a Listener, and commits the finalized
// answers to the conversation log.
//
// Concurrency model: one worker goroutine per model feeds a buffered
// event channel; the dispatch loop runs on the Submit caller's goroutine,
// consumes events until every worker has settled, and is the only place
// that appends to the log or invokes Listener callbacks. Serialization is
// structural, not locked in after the fact.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/morganforge/chorus/internal/conversation"
	"github.com/morganforge/chorus/internal/openrouter"
	"github.com/morganforge/chorus/internal/usage"
)

// ErrNoModelSelected is returned when a turn is submitted with no models.
var ErrNoModelSelected = errors.New("no model selected")

// eventBuffer is the per-model event channel allowance. Workers block
// when the dispatch loop falls this far behind, which bounds memory on a
// fast stream.
const eventBuffer = 64

// Streamer is the transport dependency: one streaming chat call.
// *openrouter.Client satisfies it.
type Streamer interface {
	ChatStream(ctx context.Context, req openrouter.ChatRequest, callback openrouter.StreamCallback) error
}

// Engine runs user turns against a set of models.
type Engine struct {
	client        Streamer
	log           *conversation.Log
	logger        *zap.Logger
	recorder      usage.Recorder
	maxConcurrent int64

	// turnMu serializes turns: the log would interleave otherwise.
	turnMu sync.Mutex
}

// New creates an engine writing to the given conversation log.
func New(client Streamer, log *conversation.Log) *Engine {
	return &Engine{
		client: client,
		log:    log,
		logger: zap.NewNop(),
	}
}

// WithLogger sets the logger. The default discards everything.
func (e *Engine) WithLogger(logger *zap.Logger) *Engine {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// WithMaxConcurrent bounds how many model streams run at once. Zero or
// negative means unbounded.
func (e *Engine) WithMaxConcurrent(n int) *Engine {
	e.maxConcurrent = int64(n)
	return e
}

// WithRecorder sets the usage ledger turn results are reported to.
// Recording failures are logged, never surfaced to the turn.
func (e *Engine) WithRecorder(rec usage.Recorder) *Engine {
	e.recorder = rec
	return e
}

// Turn is one user prompt plus the session parameters it runs with.
// Models are queried independently and in parallel; each one sees the
// shared history filtered to its own prior answers.
type Turn struct {
	Prompt       string
	Models       []string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string

	// Profile names the profile the turn ran under, recorded in the
	// usage ledger. Empty for ad hoc model selections.
	Profile string
}

// Submit runs one turn to completion. It appends the user message, opens
// one stream per model, forwards tokens to the listener, commits each
// finished answer, and returns every model's outcome in submission order.
//
// A nil error means at least one model answered. When every model failed
// the outcomes are still returned alongside an aggregate error. Canceling
// ctx interrupts the turn: nothing is committed for interrupted models,
// and if no model finished first the user message is rolled back too, so
// the prompt can be resubmitted without duplicating history.
func (e *Engine) Submit(ctx context.Context, turn Turn, listener Listener) ([]Outcome, error) {
	models := dedupeModels(turn.Models)
	if len(models) == 0 {
		return nil, ErrNoModelSelected
	}
	if listener == nil {
		listener = nopListener{}
	}

	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	turnID := uuid.NewString()
	e.logger.Debug("turn submitted",
		zap.String("turn_id", turnID),
		zap.Strings("models", models),
		zap.Int("prompt_chars", len(turn.Prompt)))

	if err := e.log.Append(conversation.NewUserMessage(turn.Prompt)); err != nil {
		return nil, err
	}

	listener.OnTurnStart(models)

	var sem *semaphore.Weighted
	if e.maxConcurrent > 0 && e.maxConcurrent < int64(len(models)) {
		sem = semaphore.NewWeighted(e.maxConcurrent)
	}

	events := make(chan event, eventBuffer*len(models))
	accs := make([]*Accumulator, len(models))

	// Snapshot every view before any worker can settle, so all models
	// start the turn from identical history.
	for i, model := range models {
		wire := conversation.ToChatMessages(e.log.ViewFor(model), turn.SystemPrompt)
		accs[i] = newAccumulator(model, estimatePromptTokens(wire))

		req := openrouter.ChatRequest{
			Model:       model,
			Messages:    wire,
			Temperature: turn.Temperature,
			MaxTokens:   turn.MaxTokens,
		}
		go e.runModel(ctx, sem, req, accs[i], i, events)
	}

	outcomes := e.dispatch(ctx, accs, events, listener)

	completed := 0
	for _, o := range outcomes {
		if o.Err == nil {
			completed++
		}
	}

	// Interrupt with nothing committed: take the user message back out
	// so a retry does not stack duplicate prompts.
	if ctx.Err() != nil && completed == 0 {
		e.log.RemoveLast()
	}

	listener.OnTurnComplete(outcomes)
	e.record(turnID, turn.Profile, outcomes)

	e.logger.Debug("turn complete",
		zap.String("turn_id", turnID),
		zap.Int("succeeded", completed),
		zap.Int("failed", len(outcomes)-completed))

	if completed == 0 {
		var agg *multierror.Error
		for _, o := range outcomes {
			agg = multierror.Append(agg, fmt.Errorf("%s: %w", o.Model, o.Err))
		}
		return outcomes, agg.ErrorOrNil()
	}
	return outcomes, nil
}

// runModel is one model's worker: it streams the response into the
// accumulator, forwarding each token as an event, and always ends with
// exactly one terminal event.
func (e *Engine) runModel(ctx context.Context, sem *semaphore.Weighted, req openrouter.ChatRequest, acc *Accumulator, slot int, events chan<- event) {
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			acc.fail(err)
			events <- event{kind: eventTerminal, slot: slot, model: acc.model}
			return
		}
		defer sem.Release(1)
	}

	acc.start()
	err := e.client.ChatStream(ctx, req, func(chunk openrouter.StreamChunk) {
		token := chunk.GetContent()
		if token == "" {
			return
		}
		acc.append(token)
		events <- event{kind: eventToken, slot: slot, model: acc.model, token: token}
	})
	if err != nil {
		acc.fail(err)
	} else {
		acc.finish()
	}
	events <- event{kind: eventTerminal, slot: slot, model: acc.model}
}

// dispatch consumes worker events until every model has settled. It owns
// all log appends and all listener callbacks for the turn.
func (e *Engine) dispatch(ctx context.Context, accs []*Accumulator, events <-chan event, listener Listener) []Outcome {
	outcomes := make([]Outcome, len(accs))

	for pending := len(accs); pending > 0; {
		ev := <-events
		switch ev.kind {
		case eventToken:
			// Tokens racing a cancellation are dropped, not rendered.
			if ctx.Err() == nil {
				listener.OnToken(ev.model, ev.token)
			}

		case eventTerminal:
			out := accs[ev.slot].outcome()
			if out.Err == nil {
				msg := conversation.NewAssistantMessage(out.Model, out.Content)
				stats := out.Stats
				msg.Stats = &stats
				if err := e.log.Append(msg); err != nil {
					out.Err = err
				}
			}

			outcomes[ev.slot] = out
			if out.Err != nil {
				e.logger.Debug("model failed",
					zap.String("model", out.Model),
					zap.Error(out.Err))
				listener.OnModelError(out.Model, errText(out.Err))
			} else {
				listener.OnModelDone(out.Model, out.Content)
			}
			pending--
		}
	}
	return outcomes
}

// record reports every model's outcome to the usage ledger, when one is
// configured.
func (e *Engine) record(turnID, profile string, outcomes []Outcome) {
	if e.recorder == nil {
		return
	}

	records := make([]usage.Record, 0, len(outcomes))
	for _, o := range outcomes {
		rec := usage.Record{
			TurnID:           turnID,
			Profile:          profile,
			Model:            o.Model,
			PromptTokens:     o.Stats.PromptTokens,
			CompletionTokens: o.Stats.CompletionTokens,
			TTFT:             o.Stats.TTFT,
			Duration:         o.Stats.Duration,
		}
		if o.Err != nil {
			rec.Error = errText(o.Err)
		}
		records = append(records, rec)
	}

	if err := e.recorder.RecordTurn(records); err != nil {
		e.logger.Warn("usage recording failed",
			zap.String("turn_id", turnID),
			zap.Error(err))
	}
}

// errText renders an error for display. Cancellations read as an
// interrupt rather than a transport failure.
func errText(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "interrupted"
	}
	return err.Error()
}

// dedupeModels drops blank and repeated ids. Events are keyed by model
// id, so a duplicate would make token attribution ambiguous.
func dedupeModels(models []string) []string {
	seen := make(map[string]bool, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// estimatePromptTokens approximates the prompt size of a request using
// the ~4 characters per token rule.
func estimatePromptTokens(msgs []openrouter.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += (len(m.Content) + 3) / 4
	}
	return total
}
