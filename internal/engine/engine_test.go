// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/morganforge/chorus/internal/conversation"
	"github.com/morganforge/chorus/internal/openrouter"
	"github.com/morganforge/chorus/internal/usage"
)

// tokenChunk builds a stream chunk carrying one content fragment.
func tokenChunk(content string) openrouter.StreamChunk {
	var c openrouter.StreamChunk
	payload := fmt.Sprintf(`{"choices":[{"delta":{"content":%s}}]}`, strconv.Quote(content))
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		panic(err)
	}
	return c
}

// script describes one model's behavior in the fake backend.
type script struct {
	tokens     []string
	perToken   time.Duration
	gate       <-chan struct{} // wait before streaming, for ordering tests
	connectErr error           // fail before any token
	err        error           // fail after all tokens
	block      bool            // hold the stream open until cancellation
}

// fakeStreamer plays back per-model scripts and records every request.
type fakeStreamer struct {
	mu      sync.Mutex
	scripts map[string]script
	reqs    map[string][]openrouter.ChatRequest
	cur     int
	peak    int
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{
		scripts: make(map[string]script),
		reqs:    make(map[string][]openrouter.ChatRequest),
	}
}

func (f *fakeStreamer) set(model string, s script) {
	f.mu.Lock()
	f.scripts[model] = s
	f.mu.Unlock()
}

func (f *fakeStreamer) requests(model string) []openrouter.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]openrouter.ChatRequest(nil), f.reqs[model]...)
}

func (f *fakeStreamer) peakConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func (f *fakeStreamer) ChatStream(ctx context.Context, req openrouter.ChatRequest, cb openrouter.StreamCallback) error {
	f.mu.Lock()
	s := f.scripts[req.Model]
	f.reqs[req.Model] = append(f.reqs[req.Model], req)
	f.cur++
	if f.cur > f.peak {
		f.peak = f.cur
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.cur--
		f.mu.Unlock()
	}()

	if s.connectErr != nil {
		return s.connectErr
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	for _, tok := range s.tokens {
		if s.perToken > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.perToken):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		cb(tokenChunk(tok))
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

// recordingListener captures every callback, with optional hooks for
// steering a test mid-turn.
type recordingListener struct {
	starts    [][]string
	tokens    map[string][]string
	done      map[string]string
	doneOrder []string
	errs      map[string]string
	completes [][]Outcome

	onToken func(model string)
	onDone  func(model string)
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		tokens: make(map[string][]string),
		done:   make(map[string]string),
		errs:   make(map[string]string),
	}
}

func (r *recordingListener) OnTurnStart(models []string) {
	r.starts = append(r.starts, append([]string(nil), models...))
}

func (r *recordingListener) OnToken(model, token string) {
	r.tokens[model] = append(r.tokens[model], token)
	if r.onToken != nil {
		r.onToken(model)
	}
}

func (r *recordingListener) OnModelDone(model, fullText string) {
	r.done[model] = fullText
	r.doneOrder = append(r.doneOrder, model)
	if r.onDone != nil {
		r.onDone(model)
	}
}

func (r *recordingListener) OnModelError(model, errText string) {
	r.errs[model] = errText
}

func (r *recordingListener) OnTurnComplete(outcomes []Outcome) {
	r.completes = append(r.completes, outcomes)
}

func TestSubmitNoModels(t *testing.T) {
	log := conversation.NewLog()
	eng := New(newFakeStreamer(), log)

	_, err := eng.Submit(context.Background(), Turn{Prompt: "hi"}, nil)
	require.ErrorIs(t, err, ErrNoModelSelected)

	_, err = eng.Submit(context.Background(), Turn{Prompt: "hi", Models: []string{" ", ""}}, nil)
	require.ErrorIs(t, err, ErrNoModelSelected)

	require.Equal(t, 0, log.Len(), "a rejected turn must not touch the log")
}

func TestSubmitSingleModel(t *testing.T) {
	const model = "anthropic/claude-3.5-sonnet"

	fake := newFakeStreamer()
	fake.set(model, script{tokens: []string{"Hel", "lo"}})

	log := conversation.NewLog()
	eng := New(fake, log)
	lis := newRecordingListener()

	outcomes, err := eng.Submit(context.Background(), Turn{
		Prompt:      "hi",
		Models:      []string{model},
		Temperature: 0.4,
		MaxTokens:   512,
	}, lis)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, model, outcomes[0].Model)
	require.Equal(t, "Hello", outcomes[0].Content)
	require.NoError(t, outcomes[0].Err)
	require.Equal(t, 2, outcomes[0].Stats.CompletionTokens)

	require.Equal(t, [][]string{{model}}, lis.starts)
	require.Equal(t, "Hello", strings.Join(lis.tokens[model], ""))
	require.Equal(t, "Hello", lis.done[model])
	require.Len(t, lis.completes, 1)

	require.Equal(t, 2, log.Len())
	last, ok := log.Last()
	require.True(t, ok)
	require.Equal(t, conversation.RoleAssistant, last.Role)
	require.Equal(t, model, last.Model)
	require.NotNil(t, last.Stats)

	reqs := fake.requests(model)
	require.Len(t, reqs, 1)
	require.Equal(t, model, reqs[0].Model)
	require.Equal(t, 0.4, reqs[0].Temperature)
	require.Equal(t, 512, reqs[0].MaxTokens)
	require.Equal(t, "hi", reqs[0].Messages[len(reqs[0].Messages)-1].Content)
}

func TestSubmitSystemPrompt(t *testing.T) {
	fake := newFakeStreamer()
	fake.set("m", script{tokens: []string{"ok"}})

	eng := New(fake, conversation.NewLog())
	_, err := eng.Submit(context.Background(), Turn{
		Prompt:       "question",
		Models:       []string{"m"},
		SystemPrompt: "be brief",
	}, nil)
	require.NoError(t, err)

	reqs := fake.requests("m")
	require.Len(t, reqs, 1)
	require.Equal(t, "system", reqs[0].Messages[0].Role)
	require.Equal(t, "be brief", reqs[0].Messages[0].Content)
	require.Equal(t, "user", reqs[0].Messages[1].Role)
}

func TestSubmitFanOutKeepsSubmissionOrder(t *testing.T) {
	gate := make(chan struct{})

	fake := newFakeStreamer()
	fake.set("a", script{tokens: []string{"alpha"}, gate: gate})
	fake.set("b", script{tokens: []string{"beta"}})
	fake.set("c", script{tokens: []string{"gamma"}})

	log := conversation.NewLog()
	eng := New(fake, log)
	lis := newRecordingListener()
	lis.onDone = func(model string) {
		if model == "c" {
			close(gate) // a finishes strictly after c
		}
	}

	outcomes, err := eng.Submit(context.Background(), Turn{
		Prompt: "q",
		Models: []string{"a", "b", "c"},
	}, lis)
	require.NoError(t, err)

	require.Len(t, outcomes, 3)
	require.Equal(t, "a", outcomes[0].Model)
	require.Equal(t, "b", outcomes[1].Model)
	require.Equal(t, "c", outcomes[2].Model)
	require.Equal(t, "alpha", outcomes[0].Content)
	require.Equal(t, "beta", outcomes[1].Content)
	require.Equal(t, "gamma", outcomes[2].Content)

	require.NotEqual(t, "a", lis.doneOrder[0], "a is gated on c and cannot settle first")
	require.Equal(t, "a", lis.doneOrder[len(lis.doneOrder)-1])

	require.Equal(t, 4, log.Len(), "one user message plus three answers")
	viewA := log.ViewFor("a")
	require.Len(t, viewA, 2)
	require.Equal(t, "alpha", viewA[1].Content)
}

func TestSubmitPartialFailure(t *testing.T) {
	fake := newFakeStreamer()
	fake.set("good", script{tokens: []string{"fine"}})
	fake.set("bad", script{connectErr: &openrouter.APIError{Status: 400, Body: "invalid model"}})

	log := conversation.NewLog()
	eng := New(fake, log)
	lis := newRecordingListener()

	outcomes, err := eng.Submit(context.Background(), Turn{
		Prompt: "q",
		Models: []string{"good", "bad"},
	}, lis)
	require.NoError(t, err, "one surviving model means the turn succeeds")

	require.NoError(t, outcomes[0].Err)
	require.Error(t, outcomes[1].Err)
	require.Contains(t, lis.errs["bad"], "400")
	require.Equal(t, "fine", lis.done["good"])

	require.Equal(t, 2, log.Len())
	require.Empty(t, assistantMessagesFor(log, "bad"), "a failed model must leave no trace in history")
	require.Len(t, assistantMessagesFor(log, "good"), 1)
}

func TestSubmitAllFailed(t *testing.T) {
	fake := newFakeStreamer()
	fake.set("x", script{connectErr: &openrouter.APIError{Status: 500, Body: "boom"}})
	fake.set("y", script{connectErr: &openrouter.APIError{Status: 502, Body: "bad gateway"}})

	log := conversation.NewLog()
	eng := New(fake, log)
	lis := newRecordingListener()

	outcomes, err := eng.Submit(context.Background(), Turn{
		Prompt: "q",
		Models: []string{"x", "y"},
	}, lis)
	require.Error(t, err)
	require.Contains(t, err.Error(), "x:")
	require.Contains(t, err.Error(), "y:")

	require.Len(t, outcomes, 2)
	require.Error(t, outcomes[0].Err)
	require.Error(t, outcomes[1].Err)
	require.Len(t, lis.completes, 1, "the turn callback fires even when every model fails")

	require.Equal(t, 1, log.Len(), "the user message stays for a later retry")
}

func TestSubmitInterruptRollsBackUserMessage(t *testing.T) {
	const model = "m"

	fake := newFakeStreamer()
	fake.set(model, script{tokens: []string{"partial"}, block: true})

	log := conversation.NewLog()
	eng := New(fake, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lis := newRecordingListener()
	lis.onToken = func(string) { cancel() }

	outcomes, err := eng.Submit(ctx, Turn{Prompt: "q", Models: []string{model}}, lis)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, outcomes, 1)
	require.ErrorIs(t, outcomes[0].Err, context.Canceled)
	require.Equal(t, "partial", outcomes[0].Content, "partial text survives on the outcome")
	require.Equal(t, "interrupted", lis.errs[model])

	require.Equal(t, 0, log.Len(), "nothing committed, user message rolled back")
}

func TestSubmitInterruptAfterCompletionKeepsTurn(t *testing.T) {
	fake := newFakeStreamer()
	fake.set("fast", script{tokens: []string{"done"}})
	fake.set("slow", script{tokens: []string{"..."}, block: true})

	log := conversation.NewLog()
	eng := New(fake, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lis := newRecordingListener()
	lis.onDone = func(model string) {
		if model == "fast" {
			cancel()
		}
	}

	outcomes, err := eng.Submit(ctx, Turn{Prompt: "q", Models: []string{"fast", "slow"}}, lis)
	require.NoError(t, err, "one model finished before the interrupt")

	require.NoError(t, outcomes[0].Err)
	require.Equal(t, "done", outcomes[0].Content)
	require.ErrorIs(t, outcomes[1].Err, context.Canceled)

	require.Equal(t, 2, log.Len(), "user message and the completed answer stay")
	msgs := log.Messages()
	require.Equal(t, conversation.RoleUser, msgs[0].Role)
	require.Equal(t, "fast", msgs[1].Model)
}

func TestSubmitMaxConcurrent(t *testing.T) {
	fake := newFakeStreamer()
	for _, m := range []string{"a", "b", "c"} {
		fake.set(m, script{tokens: []string{"x"}, perToken: 20 * time.Millisecond})
	}

	eng := New(fake, conversation.NewLog()).WithMaxConcurrent(1)

	outcomes, err := eng.Submit(context.Background(), Turn{
		Prompt: "q",
		Models: []string{"a", "b", "c"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
	}

	require.Equal(t, 1, fake.peakConcurrent(), "streams must not overlap with a limit of 1")
}

func TestSubmitViewIsolationAcrossTurns(t *testing.T) {
	fake := newFakeStreamer()
	fake.set("a", script{tokens: []string{"answer-a"}})
	fake.set("b", script{tokens: []string{"answer-b"}})

	log := conversation.NewLog()
	eng := New(fake, log)

	_, err := eng.Submit(context.Background(), Turn{Prompt: "first", Models: []string{"a", "b"}}, nil)
	require.NoError(t, err)

	_, err = eng.Submit(context.Background(), Turn{Prompt: "second", Models: []string{"a", "b"}}, nil)
	require.NoError(t, err)

	reqsA := fake.requests("a")
	require.Len(t, reqsA, 2)

	second := reqsA[1].Messages
	require.Len(t, second, 3, "user, own answer, user")
	require.Equal(t, "first", second[0].Content)
	require.Equal(t, "answer-a", second[1].Content)
	require.Equal(t, "second", second[2].Content)
	for _, m := range second {
		require.NotEqual(t, "answer-b", m.Content, "model a must never see model b's reply")
	}

	reqsB := fake.requests("b")
	require.Equal(t, "answer-b", reqsB[1].Messages[1].Content)
}

func TestSubmitDedupesModels(t *testing.T) {
	fake := newFakeStreamer()
	fake.set("m", script{tokens: []string{"once"}})

	eng := New(fake, conversation.NewLog())
	lis := newRecordingListener()

	outcomes, err := eng.Submit(context.Background(), Turn{
		Prompt: "q",
		Models: []string{"m", "m", "", " m "},
	}, lis)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, [][]string{{"m"}}, lis.starts)
	require.Len(t, fake.requests("m"), 1)
}

func TestSubmitSkipsEmptyTokens(t *testing.T) {
	fake := newFakeStreamer()
	fake.set("m", script{tokens: []string{"", "hi"}})

	eng := New(fake, conversation.NewLog())
	lis := newRecordingListener()

	outcomes, err := eng.Submit(context.Background(), Turn{Prompt: "q", Models: []string{"m"}}, lis)
	require.NoError(t, err)
	require.Equal(t, []string{"hi"}, lis.tokens["m"])
	require.Equal(t, 1, outcomes[0].Stats.CompletionTokens)
}

// assistantMessagesFor filters the log down to one model's answers.
func assistantMessagesFor(log *conversation.Log, model string) []conversation.Message {
	var out []conversation.Message
	for _, m := range log.Messages() {
		if m.Role == conversation.RoleAssistant && m.Model == model {
			out = append(out, m)
		}
	}
	return out
}

// fakeRecorder captures usage records handed to it.
type fakeRecorder struct {
	mu      sync.Mutex
	records []usage.Record
	err     error
}

func (f *fakeRecorder) RecordTurn(records []usage.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
	return f.err
}

func TestSubmitRecordsUsage(t *testing.T) {
	fake := newFakeStreamer()
	fake.set("good", script{tokens: []string{"ok"}})
	fake.set("bad", script{connectErr: &openrouter.APIError{Status: 500, Body: "boom"}})

	rec := &fakeRecorder{}
	eng := New(fake, conversation.NewLog()).WithRecorder(rec)

	_, err := eng.Submit(context.Background(), Turn{
		Prompt:  "q",
		Models:  []string{"good", "bad"},
		Profile: "default",
	}, nil)
	require.NoError(t, err)

	require.Len(t, rec.records, 2)
	require.NotEmpty(t, rec.records[0].TurnID)
	require.Equal(t, rec.records[0].TurnID, rec.records[1].TurnID, "both rows belong to the same turn")

	good := rec.records[0]
	require.Equal(t, "good", good.Model)
	require.Equal(t, "default", good.Profile)
	require.Empty(t, good.Error)
	require.Equal(t, 1, good.CompletionTokens)

	bad := rec.records[1]
	require.Equal(t, "bad", bad.Model)
	require.Contains(t, bad.Error, "500")
}

func TestSubmitRecorderFailureDoesNotFailTurn(t *testing.T) {
	fake := newFakeStreamer()
	fake.set("m", script{tokens: []string{"hi"}})

	rec := &fakeRecorder{err: errors.New("disk full")}
	eng := New(fake, conversation.NewLog()).WithRecorder(rec)

	outcomes, err := eng.Submit(context.Background(), Turn{Prompt: "q", Models: []string{"m"}}, nil)
	require.NoError(t, err)
	require.NoError(t, outcomes[0].Err)
}
