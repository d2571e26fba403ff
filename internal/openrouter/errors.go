// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openrouter

import (
	"errors"
	"fmt"
	"time"
)

// Error variables for common OpenRouter failures.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("OpenRouter API key not configured")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")
)

// TransportError reports a network-level failure after every retry attempt
// was exhausted. It carries the last underlying error.
type TransportError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failed after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// RateLimitError represents a 429 response with retry information.
type RateLimitError struct {
	// RetryAfter is the server-provided wait duration, 0 when the header
	// was absent or unparseable.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// Is allows RateLimitError to be compared with ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// APIError represents a non-2xx, non-429 response from the backend.
// These are treated as non-transient and are never retried.
type APIError struct {
	Status  int
	Code    string
	Message string
	Body    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Body)
}

// ParseError reports that a stream produced no usable tokens because every
// data fragment was malformed. Individual malformed fragments inside an
// otherwise healthy stream are skipped, not surfaced.
type ParseError struct {
	Fragments int
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("stream parse failed: %d malformed fragments, no tokens decoded", e.Fragments)
}

// StreamError represents an error that occurred mid-stream, preserving any
// partial content received before the failure.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}
