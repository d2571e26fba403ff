// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// MaxChunkSize is the maximum allowed size for a single SSE event (64KB).
const MaxChunkSize = 64 * 1024

// StreamCallback is invoked for each decoded chunk, in stream order, from
// the goroutine that called ChatStream.
type StreamCallback func(chunk StreamChunk)

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event and returns its data payload.
// Blank lines delimit events; comment lines (leading ':') and non-data
// fields are ignored. Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() ([]byte, error) {
	var dataLines [][]byte
	size := 0

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		atEOF := err == io.EOF

		size += len(line)
		if size > MaxChunkSize {
			return nil, fmt.Errorf("SSE event too large: %d bytes", size)
		}

		line = bytes.TrimRight(line, "\r\n")

		switch {
		case len(line) == 0:
			// Empty line signals end of event.
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			size = 0
		case line[0] == ':':
			// Comment line.
		case bytes.HasPrefix(line, []byte("data:")):
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
			// Other fields (event:, id:, retry:) are ignored.
		}

		if atEOF {
			// Flush any data buffered before the EOF.
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			return nil, io.EOF
		}
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream performs a streaming chat completion request, invoking callback
// for every decoded chunk.
//
// Connection establishment follows the standard retry policy. Once the
// stream is open, a mid-stream failure is not retried (a reconnect would
// replay tokens); it surfaces as a *StreamError preserving the partial
// content. Malformed data fragments are skipped and logged; they only
// become a *ParseError when the stream ends without a single decoded token.
// The terminal "[DONE]" sentinel and a bare EOF both end the stream cleanly.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, callback StreamCallback) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	req.Stream = true

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp *http.Response
	err = c.withRetry(ctx, func() error {
		var connErr error
		resp, connErr = c.openStream(ctx, bodyBytes)
		return connErr
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return c.processStream(ctx, resp.Body, callback)
}

// openStream performs a single streaming connection attempt. A returned
// response has status 200 and an open body.
func (c *Client) openStream(ctx context.Context, body []byte) (*http.Response, error) {
	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		resp.Body.Close()
		return nil, c.handleErrorResponse(resp, respBody)
	}

	return resp, nil
}

// processStream reads SSE events until the sentinel, EOF, or an error.
func (c *Client) processStream(ctx context.Context, body io.Reader, callback StreamCallback) error {
	reader := NewSSEReader(body)

	var partial strings.Builder
	tokens := 0
	malformed := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return c.finishStream(tokens, malformed)
			}
			// Reads aborted by cancellation report the context error, not
			// the wrapped net error.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &StreamError{Partial: partial.String(), Err: err}
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			return c.finishStream(tokens, malformed)
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// One bad line must not kill a healthy stream.
			malformed++
			c.logger.Debug("skipping malformed stream fragment",
				zap.Int("length", len(data)))
			continue
		}

		if content := chunk.GetContent(); content != "" {
			tokens++
			partial.WriteString(content)
		}

		callback(chunk)

		if chunk.IsDone() {
			return c.finishStream(tokens, malformed)
		}
	}
}

// finishStream classifies a cleanly-ended stream: it is a parse failure
// only when malformed fragments prevented any token from arriving.
func (c *Client) finishStream(tokens, malformed int) error {
	if tokens == 0 && malformed > 0 {
		return &ParseError{Fragments: malformed}
	}
	return nil
}

// StreamChat performs a streaming chat and returns the chunks on a
// channel instead of through a callback, for consumers that select over
// several streams at once. Both channels are closed when the stream
// ends; a terminal failure arrives on the error channel first. The
// caller owns the context: cancel it to abandon the stream early.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		err := c.ChatStream(ctx, req, func(chunk StreamChunk) {
			select {
			case chunks <- chunk:
			case <-ctx.Done():
			}
		})
		if err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

// ChatStreamAccumulate performs a streaming chat but returns the full
// response text at the end. Useful when streaming is wanted for liveness
// but the caller only needs the final content.
func (c *Client) ChatStreamAccumulate(ctx context.Context, req ChatRequest) (string, error) {
	var accumulated strings.Builder

	err := c.ChatStream(ctx, req, func(chunk StreamChunk) {
		accumulated.WriteString(chunk.GetContent())
	})

	if err != nil {
		var streamErr *StreamError
		if errors.As(err, &streamErr) && streamErr.Partial != "" {
			return streamErr.Partial, err
		}
		return accumulated.String(), err
	}

	return accumulated.String(), nil
}
