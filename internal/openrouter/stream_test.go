// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func deltaChunk(content string) string {
	return fmt.Sprintf(`{"id":"gen-1","model":"test-model","choices":[{"delta":{"content":%q}}]}`, content)
}

// sseServer streams the given raw data payloads as SSE events and then
// closes the response.
func sseServer(t *testing.T, payloads ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
			flusher.Flush()
		}
	}))
}

// =============================================================================
// SSE READER TESTS
// =============================================================================

func TestSSEReaderEvents(t *testing.T) {
	input := ": keep-alive\n" +
		"data: {\"a\":1}\n" +
		"\n" +
		"event: message\n" +
		"id: 7\n" +
		"data: first\n" +
		"data: second\n" +
		"\n" +
		"data: [DONE]\n" +
		"\n"

	reader := NewSSEReader(strings.NewReader(input))

	var events []string
	for {
		data, err := reader.ReadEvent()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadEvent failed: %v", err)
		}
		events = append(events, string(data))
	}

	expected := []string{`{"a":1}`, "first\nsecond", "[DONE]"}
	if len(events) != len(expected) {
		t.Fatalf("Expected %d events, got %d: %v", len(expected), len(events), events)
	}
	for i, want := range expected {
		if events[i] != want {
			t.Errorf("Event %d = %q, expected %q", i, events[i], want)
		}
	}
}

func TestSSEReaderFlushesAtEOF(t *testing.T) {
	// Data that ends without a blank-line delimiter must still be returned.
	reader := NewSSEReader(strings.NewReader("data: tail\n"))

	data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if string(data) != "tail" {
		t.Errorf("Expected flushed data 'tail', got %q", data)
	}

	if _, err := reader.ReadEvent(); err != io.EOF {
		t.Errorf("Expected io.EOF after flush, got %v", err)
	}
}

func TestSSEReaderEmptyStream(t *testing.T) {
	reader := NewSSEReader(strings.NewReader(""))
	if _, err := reader.ReadEvent(); err != io.EOF {
		t.Errorf("Expected io.EOF on empty stream, got %v", err)
	}
}

func TestSSEReaderEventTooLarge(t *testing.T) {
	huge := "data: " + strings.Repeat("x", MaxChunkSize) + "\n\n"
	reader := NewSSEReader(strings.NewReader(huge))

	_, err := reader.ReadEvent()
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("Expected size limit error, got %v", err)
	}
}

// =============================================================================
// STREAMING CHAT TESTS
// =============================================================================

func TestChatStreamTokens(t *testing.T) {
	var gotAccept string
	var gotReq ChatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		json.NewDecoder(r.Body).Decode(&gotReq)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, tok := range []string{"Hel", "lo ", "world"} {
			fmt.Fprintf(w, "data: %s\n\n", deltaChunk(tok))
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := New(testKey).WithBaseURL(server.URL)

	var tokens []string
	err := client.ChatStream(context.Background(), ChatRequest{
		Model:    "test/model",
		Messages: []ChatMessage{NewUserMessage("hi")},
	}, func(chunk StreamChunk) {
		if content := chunk.GetContent(); content != "" {
			tokens = append(tokens, content)
		}
	})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	if got := strings.Join(tokens, ""); got != "Hello world" {
		t.Errorf("Expected tokens in order forming 'Hello world', got %q", got)
	}
	if gotAccept != "text/event-stream" {
		t.Errorf("Expected SSE accept header, got %q", gotAccept)
	}
	if !gotReq.Stream {
		t.Error("ChatStream must send stream=true")
	}
}

func TestChatStreamMalformedFragment(t *testing.T) {
	// One corrupted line among valid ones is skipped without error.
	server := sseServer(t,
		deltaChunk("Hello"),
		`{this is not json`,
		deltaChunk(" world"),
		"[DONE]",
	)
	defer server.Close()

	client := New(testKey).WithBaseURL(server.URL)

	var accumulated strings.Builder
	err := client.ChatStream(context.Background(), ChatRequest{Model: "m"}, func(chunk StreamChunk) {
		accumulated.WriteString(chunk.GetContent())
	})
	if err != nil {
		t.Fatalf("Expected malformed fragment to be skipped, got error: %v", err)
	}
	if accumulated.String() != "Hello world" {
		t.Errorf("Expected valid tokens concatenated, got %q", accumulated.String())
	}
}

func TestChatStreamAllMalformed(t *testing.T) {
	server := sseServer(t, `{bad`, `also bad}`, "[DONE]")
	defer server.Close()

	client := New(testKey).WithBaseURL(server.URL)

	err := client.ChatStream(context.Background(), ChatRequest{Model: "m"}, func(StreamChunk) {})
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected *ParseError when no tokens decoded, got %v", err)
	}
	if parseErr.Fragments != 2 {
		t.Errorf("Expected 2 malformed fragments recorded, got %d", parseErr.Fragments)
	}
}

func TestChatStreamEOFWithoutSentinel(t *testing.T) {
	// A stream that ends without [DONE] still terminates cleanly.
	server := sseServer(t, deltaChunk("partial"), deltaChunk(" answer"))
	defer server.Close()

	client := New(testKey).WithBaseURL(server.URL)

	text, err := client.ChatStreamAccumulate(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Expected clean termination at EOF, got %v", err)
	}
	if text != "partial answer" {
		t.Errorf("Expected 'partial answer', got %q", text)
	}
}

func TestChatStreamFinishReason(t *testing.T) {
	// A finish_reason chunk ends the stream even before the sentinel.
	server := sseServer(t,
		deltaChunk("done"),
		`{"id":"gen-1","choices":[{"delta":{},"finish_reason":"stop"}]}`,
		deltaChunk("never seen"),
	)
	defer server.Close()

	client := New(testKey).WithBaseURL(server.URL)

	text, err := client.ChatStreamAccumulate(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}
	if text != "done" {
		t.Errorf("Expected stream to stop at finish_reason, got %q", text)
	}
}

func TestChatStreamMidStreamFailure(t *testing.T) {
	// An aborted connection mid-stream surfaces as *StreamError carrying
	// the partial content, with no reconnect.
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", deltaChunk("Hello"))
		flusher.Flush()
		panic(http.ErrAbortHandler)
	}))
	defer server.Close()

	client := New(testKey).WithBaseURL(server.URL)

	err := client.ChatStream(context.Background(), ChatRequest{Model: "m"}, func(StreamChunk) {})
	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("Expected *StreamError, got %v", err)
	}
	if streamErr.Partial != "Hello" {
		t.Errorf("Expected partial content preserved, got %q", streamErr.Partial)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("Mid-stream failures must not reconnect, got %d attempts", got)
	}
}

func TestChatStreamConnectError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	}))
	defer server.Close()

	client := New(testKey).WithBaseURL(server.URL)

	err := client.ChatStream(context.Background(), ChatRequest{Model: "m"}, func(StreamChunk) {})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", apiErr.Status)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("API errors must not be retried, got %d attempts", got)
	}
}

func TestChatStreamConnectRetries(t *testing.T) {
	// Connection establishment follows the standard retry policy.
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n\n", deltaChunk("ok"))
	}))
	defer server.Close()

	client := New(testKey).WithBaseURL(server.URL)

	text, err := client.ChatStreamAccumulate(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if text != "ok" {
		t.Errorf("Expected 'ok', got %q", text)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("Expected 2 connection attempts, got %d", got)
	}
}

func TestChatStreamNotConfigured(t *testing.T) {
	client := New("")
	err := client.ChatStream(context.Background(), ChatRequest{Model: "m"}, func(StreamChunk) {})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestChatStreamContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", deltaChunk("first"))
		flusher.Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	client := New(testKey).WithBaseURL(server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := client.ChatStream(ctx, ChatRequest{Model: "m"}, func(chunk StreamChunk) {
		if chunk.GetContent() == "first" {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestStreamChunkAccessors(t *testing.T) {
	var chunk StreamChunk
	if err := json.Unmarshal([]byte(deltaChunk("hi")), &chunk); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if chunk.GetContent() != "hi" {
		t.Errorf("GetContent = %q, expected 'hi'", chunk.GetContent())
	}
	if chunk.IsDone() {
		t.Error("Chunk without finish_reason should not be done")
	}

	var doneChunk StreamChunk
	raw := `{"id":"x","choices":[{"delta":{},"finish_reason":"stop"}]}`
	if err := json.Unmarshal([]byte(raw), &doneChunk); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !doneChunk.IsDone() {
		t.Error("Chunk with finish_reason should be done")
	}
	if doneChunk.GetFinishReason() != "stop" {
		t.Errorf("GetFinishReason = %q, expected 'stop'", doneChunk.GetFinishReason())
	}
}

func TestStreamChatDeliversChunks(t *testing.T) {
	server := sseServer(t,
		deltaChunk("Hel"),
		deltaChunk("lo"),
		"[DONE]",
	)
	defer server.Close()

	client := New(testKey).WithBaseURL(server.URL)
	chunks, errs := client.StreamChat(context.Background(), ChatRequest{
		Model:    "test/model",
		Messages: []ChatMessage{NewUserMessage("hi")},
	})

	var content strings.Builder
	for chunk := range chunks {
		content.WriteString(chunk.GetContent())
	}
	if err := <-errs; err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}
	if content.String() != "Hello" {
		t.Errorf("Expected accumulated content 'Hello', got %q", content.String())
	}
}

func TestStreamChatSurfacesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	defer server.Close()

	client := New(testKey).WithBaseURL(server.URL).WithMaxRetries(0)
	chunks, errs := client.StreamChat(context.Background(), ChatRequest{Model: "m"})

	for range chunks {
		t.Error("Expected no chunks from a failed connection")
	}
	var apiErr *APIError
	if err := <-errs; !errors.As(err, &apiErr) {
		t.Errorf("Expected APIError on the error channel, got %v", err)
	}
}

func TestStreamChatNotConfigured(t *testing.T) {
	client := New("")
	chunks, errs := client.StreamChat(context.Background(), ChatRequest{Model: "m"})

	for range chunks {
		t.Error("Expected no chunks without credentials")
	}
	if err := <-errs; !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}
