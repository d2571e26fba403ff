// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAppendEnforcesModelAttribution(t *testing.T) {
	log := NewLog()

	err := log.Append(Message{ID: "1", Role: RoleAssistant, Content: "hi"})
	if !errors.Is(err, ErrMissingModel) {
		t.Errorf("Expected ErrMissingModel for assistant without model, got %v", err)
	}

	err = log.Append(Message{ID: "2", Role: RoleUser, Content: "hi", Model: "some/model"})
	if !errors.Is(err, ErrUnexpectedModel) {
		t.Errorf("Expected ErrUnexpectedModel for user with model, got %v", err)
	}

	err = log.Append(Message{ID: "3", Role: "tool", Content: "hi"})
	if err == nil {
		t.Error("Expected error for unknown role")
	}

	if err := log.Append(NewUserMessage("hello")); err != nil {
		t.Errorf("Valid user message rejected: %v", err)
	}
	if err := log.Append(NewAssistantMessage("openai/gpt-4o", "hi there")); err != nil {
		t.Errorf("Valid assistant message rejected: %v", err)
	}
	if err := log.Append(NewSystemMessage("be brief")); err != nil {
		t.Errorf("Valid system message rejected: %v", err)
	}

	if log.Len() != 3 {
		t.Errorf("Expected 3 messages after rejections, got %d", log.Len())
	}
}

func TestViewForIsolation(t *testing.T) {
	log := NewLog()
	log.Append(NewSystemMessage("be brief"))
	log.Append(NewUserMessage("question 1"))
	log.Append(NewAssistantMessage("vendor/model-a", "answer from a"))
	log.Append(NewAssistantMessage("vendor/model-b", "answer from b"))
	log.Append(NewUserMessage("question 2"))

	viewA := log.ViewFor("vendor/model-a")
	for _, msg := range viewA {
		if msg.Role == RoleAssistant && msg.Model != "vendor/model-a" {
			t.Errorf("View for model-a contains message from %q", msg.Model)
		}
	}

	expected := []string{"be brief", "question 1", "answer from a", "question 2"}
	if len(viewA) != len(expected) {
		t.Fatalf("Expected %d messages in view, got %d", len(expected), len(viewA))
	}
	for i, want := range expected {
		if viewA[i].Content != want {
			t.Errorf("View position %d = %q, expected %q (order must be preserved)", i, viewA[i].Content, want)
		}
	}

	viewB := log.ViewFor("vendor/model-b")
	if len(viewB) != 4 {
		t.Fatalf("Expected 4 messages in view for model-b, got %d", len(viewB))
	}
	if viewB[2].Content != "answer from b" {
		t.Errorf("Expected model-b's own answer in its view, got %q", viewB[2].Content)
	}
	for _, msg := range viewB {
		if msg.Role == RoleAssistant && msg.Model == "vendor/model-a" {
			t.Error("View for model-b contains model-a's reply")
		}
	}
}

func TestViewForUnknownModel(t *testing.T) {
	log := NewLog()
	log.Append(NewUserMessage("hello"))
	log.Append(NewAssistantMessage("vendor/model-a", "hi"))

	view := log.ViewFor("vendor/never-used")
	if len(view) != 1 {
		t.Fatalf("Expected only the user message, got %d messages", len(view))
	}
	if view[0].Role != RoleUser {
		t.Errorf("Expected user message, got role %s", view[0].Role)
	}
}

func TestViewForIdempotent(t *testing.T) {
	log := NewLog()
	log.Append(NewUserMessage("question"))
	log.Append(NewAssistantMessage("vendor/model-a", "answer"))

	first := log.ViewFor("vendor/model-a")
	second := log.ViewFor("vendor/model-a")
	if !reflect.DeepEqual(first, second) {
		t.Error("Repeated ViewFor with no intervening append returned different sequences")
	}
}

func TestViewForReturnsCopy(t *testing.T) {
	log := NewLog()
	log.Append(NewUserMessage("original"))

	view := log.ViewFor("any")
	view[0].Content = "mutated"

	fresh := log.ViewFor("any")
	if fresh[0].Content != "original" {
		t.Error("Mutating a returned view changed the log")
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	log := NewLog()
	log.Append(NewUserMessage("original"))

	msgs := log.Messages()
	msgs[0].Content = "mutated"

	if got := log.Messages()[0].Content; got != "original" {
		t.Errorf("Mutating Messages() result changed the log: %q", got)
	}
}

func TestRemoveLast(t *testing.T) {
	log := NewLog()

	if _, ok := log.RemoveLast(); ok {
		t.Error("RemoveLast on empty log should report false")
	}

	log.Append(NewUserMessage("first"))
	log.Append(NewUserMessage("second"))

	removed, ok := log.RemoveLast()
	if !ok {
		t.Fatal("RemoveLast should succeed on non-empty log")
	}
	if removed.Content != "second" {
		t.Errorf("Expected last message removed, got %q", removed.Content)
	}
	if log.Len() != 1 {
		t.Errorf("Expected 1 message after removal, got %d", log.Len())
	}
}

func TestLastAndClear(t *testing.T) {
	log := NewLog()

	if _, ok := log.Last(); ok {
		t.Error("Last on empty log should report false")
	}

	log.Append(NewUserMessage("hello"))
	last, ok := log.Last()
	if !ok || last.Content != "hello" {
		t.Errorf("Last = %q, %v; expected 'hello', true", last.Content, ok)
	}

	log.Clear()
	if log.Len() != 0 {
		t.Errorf("Expected empty log after Clear, got %d messages", log.Len())
	}
}

func TestReplace(t *testing.T) {
	log := NewLog()
	log.Append(NewUserMessage("old"))

	history := []Message{
		NewUserMessage("loaded question"),
		NewAssistantMessage("vendor/model-a", "loaded answer"),
	}
	log.Replace(history)

	if log.Len() != 2 {
		t.Fatalf("Expected 2 messages after Replace, got %d", log.Len())
	}

	// The log must own its copy.
	history[0].Content = "mutated"
	if log.Messages()[0].Content != "loaded question" {
		t.Error("Replace did not copy the input slice")
	}
}

func TestConcurrentReaders(t *testing.T) {
	log := NewLog()
	log.Append(NewUserMessage("question"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = log.ViewFor("vendor/model-a")
				_ = log.Len()
			}
		}()
	}

	for i := 0; i < 50; i++ {
		log.Append(NewAssistantMessage("vendor/model-a", "tok"))
	}
	wg.Wait()

	if log.Len() != 51 {
		t.Errorf("Expected 51 messages, got %d", log.Len())
	}
}

func TestToChatMessages(t *testing.T) {
	msgs := []Message{
		NewUserMessage("question"),
		NewAssistantMessage("vendor/model-a", "answer"),
		{ID: "x", Role: RoleUser, Content: "", Timestamp: time.Now()},
	}

	wire := ToChatMessages(msgs, "you are terse")
	if len(wire) != 3 {
		t.Fatalf("Expected 3 wire messages (system + 2, empty dropped), got %d", len(wire))
	}
	if wire[0].Role != "system" || wire[0].Content != "you are terse" {
		t.Errorf("Expected system prompt first, got %+v", wire[0])
	}
	if wire[1].Role != "user" || wire[2].Role != "assistant" {
		t.Errorf("Roles not mapped in order: %s, %s", wire[1].Role, wire[2].Role)
	}

	noPrompt := ToChatMessages(msgs, "")
	if len(noPrompt) != 2 {
		t.Errorf("Expected 2 wire messages without system prompt, got %d", len(noPrompt))
	}
}

func TestNewMessageIdentity(t *testing.T) {
	a := NewUserMessage("one")
	b := NewUserMessage("two")

	if a.ID == b.ID {
		t.Error("Message IDs should be unique")
	}
	if !strings.HasPrefix(a.ID, "msg_") {
		t.Errorf("Expected msg_ prefix, got %q", a.ID)
	}
	if a.Timestamp.IsZero() {
		t.Error("Timestamp should be set on creation")
	}
}

func TestMessagePreview(t *testing.T) {
	multiline := NewUserMessage("first line of the question\nsecond line")
	if got := multiline.Preview(80); got != "first line of the question" {
		t.Errorf("Preview = %q, expected first line only", got)
	}

	long := NewUserMessage(strings.Repeat("a", 100))
	if got := long.Preview(10); len([]rune(got)) != 10 {
		t.Errorf("Expected preview truncated to 10 runes, got %d", len([]rune(got)))
	}
}

func TestStatsFormat(t *testing.T) {
	stats := Stats{
		CompletionTokens: 1280,
		TTFT:             234 * time.Millisecond,
		Duration:         2500 * time.Millisecond,
		TokensPerSec:     51.2,
	}
	got := stats.Format()
	expected := "2.5s | 1,280 tokens | 51.2 tok/s | TTFT 234ms"
	if got != expected {
		t.Errorf("Format = %q, expected %q", got, expected)
	}

	subSecond := Stats{CompletionTokens: 8, Duration: 850 * time.Millisecond}
	if got := subSecond.Format(); got != "850ms | 8 tokens" {
		t.Errorf("Format = %q, expected '850ms | 8 tokens'", got)
	}
}

func TestRoleDisplayName(t *testing.T) {
	if RoleUser.DisplayName() != "You" {
		t.Errorf("RoleUser display = %q", RoleUser.DisplayName())
	}
	if RoleAssistant.DisplayName() != "Assistant" {
		t.Errorf("RoleAssistant display = %q", RoleAssistant.DisplayName())
	}
	if Role("weird").DisplayName() != "weird" {
		t.Errorf("Unknown role should echo itself")
	}
}

func TestEstimateTokens(t *testing.T) {
	msg := NewUserMessage(strings.Repeat("x", 40))
	if got := msg.EstimateTokens(); got != 10 {
		t.Errorf("EstimateTokens = %d, expected 10", got)
	}
}
