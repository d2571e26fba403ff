// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openrouter implements the HTTP transport for the OpenRouter API.
//
// OpenRouter exposes many LLM providers through a single OpenAI-compatible
// API. This package is the only point of HTTP access in chorus: it covers
// the whole-response chat call, the incremental SSE token stream, and the
// model directory listing, and it isolates retry/backoff policy from the
// rest of the system.
//
// Retry policy: transport failures and HTTP 429 are retried up to the
// configured bound; 429 honors the server's Retry-After when present, else
// exponential backoff. Every other non-2xx status fails immediately with an
// *APIError, since those are assumed non-transient.
package openrouter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Configuration constants for the OpenRouter API.
const (
	// DefaultBaseURL is the base URL for the OpenRouter API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxRetries is the default number of retries after the initial
	// attempt for transient failures.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// Bounds memory use against a misbehaving endpoint.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB

	// userAgent identifies chorus to the API.
	userAgent = "chorus/1.0"
)

var (
	// Shared HTTP clients with connection pooling for all OpenRouter
	// requests. The streaming client carries no overall timeout: streams
	// are bounded by their context.
	sharedHTTPClient = &http.Client{
		Transport: sharedTransport(),
		Timeout:   DefaultTimeout,
	}

	sharedStreamingClient = &http.Client{
		Transport: sharedTransport(),
	}
)

func sharedTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// Client is a client for the OpenRouter API.
//
// A Client carries no per-request state: one Client can serve any number of
// concurrent Chat/ChatStream calls, which is exactly how the parallel turn
// engine uses it.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	maxRetries   int
	referer      string
	title        string
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// New creates a new OpenRouter client with the given API key.
//
// The API key should be in the format "sk-or-..." as provided by
// OpenRouter. If the key is empty the client is still created but request
// methods fail with ErrNotConfigured.
func New(apiKey string) *Client {
	return &Client{
		apiKey:       strings.TrimSpace(apiKey),
		baseURL:      DefaultBaseURL,
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
		maxRetries:   DefaultMaxRetries,
		referer:      "https://github.com/morganforge/chorus",
		title:        "chorus",
		logger:       zap.NewNop(),
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithTimeout sets the request timeout for non-streaming calls.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	// The shared client must not be mutated; swap in a dedicated one.
	c.httpClient = &http.Client{
		Transport: sharedTransport(),
		Timeout:   timeout,
	}
	return c
}

// WithMaxRetries sets the number of retries after the initial attempt.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	c.maxRetries = maxRetries
	return c
}

// WithReferer sets the HTTP-Referer header for OpenRouter app attribution.
func (c *Client) WithReferer(url string) *Client {
	c.referer = url
	return c
}

// WithTitle sets the X-Title header for OpenRouter app attribution.
func (c *Client) WithTitle(name string) *Client {
	c.title = name
	return c
}

// WithRateLimit throttles outgoing requests to rps requests per second.
// Zero or negative disables throttling.
func (c *Client) WithRateLimit(rps float64) *Client {
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	} else {
		c.limiter = nil
	}
	return c
}

// WithLogger sets the logger. The default discards everything.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithHTTPClient replaces both underlying HTTP clients. Intended for tests.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	c.streamClient = client
	return c
}

// IsConfigured returns true if the client has an API key.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key for
// logging and display. The key itself is never exposed.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// setHeaders sets the required headers for OpenRouter API requests.
func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}
}

// Chat performs a whole-response chat completion request.
//
// Transport failures and 429 responses are retried with backoff; any other
// non-2xx response fails immediately.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	req.Stream = false

	var resp *ChatResponse
	err := c.withRetry(ctx, func() error {
		var reqErr error
		resp, reqErr = c.doChatRequest(ctx, req)
		return reqErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// withRetry runs fn up to 1+maxRetries times, waiting between attempts.
// Only transport failures and rate limits are retried. On exhaustion the
// last rate-limit error is returned as-is; the last transport failure is
// wrapped in *TransportError.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay(attempt, lastErr)
			c.logger.Warn("retrying request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}

	var rateErr *RateLimitError
	if errors.As(lastErr, &rateErr) {
		return fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return &TransportError{Attempts: c.maxRetries + 1, Err: lastErr}
}

// retryDelay computes the wait before retry attempt n (1-based). A 429 with
// a server-provided Retry-After takes precedence over the computed backoff.
func (c *Client) retryDelay(attempt int, lastErr error) time.Duration {
	var rateErr *RateLimitError
	if errors.As(lastErr, &rateErr) && rateErr.RetryAfter > 0 {
		return rateErr.RetryAfter
	}
	return calculateBackoff(attempt - 1)
}

// calculateBackoff returns the exponential backoff delay for an attempt:
// 500ms, 1s, 2s, ... capped at retryMaxDelay.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// isRetryable determines if an error should trigger a retry.
// Rate limits and network failures are transient; API rejections and
// context cancellation are not.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}

	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return false
	}

	// Anything else at this layer is a network-level failure.
	return true
}

// doChatRequest performs a single HTTP round trip to the chat completions
// endpoint.
func (c *Client) doChatRequest(ctx context.Context, reqBody ChatRequest) (*ChatResponse, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	c.logger.Debug("api request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("model", reqBody.Model))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp, body)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &chatResp, nil
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}

	return body, nil
}

// handleErrorResponse converts a non-2xx HTTP response into the appropriate
// error: *RateLimitError for 429, *APIError for everything else.
func (c *Client) handleErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}

	apiErr := &APIError{
		Status: resp.StatusCode,
		Body:   string(body),
	}

	var payload apiErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		apiErr.Code = payload.Error.Code
		apiErr.Message = payload.Error.Message
	}

	return apiErr
}

// parseRetryAfter parses a Retry-After header value, which may be either a
// number of seconds or an HTTP date. Returns 0 when absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}

// ListModels retrieves the list of available models.
//
// The endpoint does not require authentication, but the key is attached
// when configured so account-scoped listings work too. The standard retry
// policy applies.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var models []ModelInfo
	err := c.withRetry(ctx, func() error {
		var reqErr error
		models, reqErr = c.doListModels(ctx)
		return reqErr
	})
	if err != nil {
		return nil, err
	}
	return models, nil
}

// doListModels performs a single models listing round trip.
func (c *Client) doListModels(ctx context.Context) ([]ModelInfo, error) {
	url := c.baseURL + "/models"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp, body)
	}

	var modelsResp modelsResponse
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}

	return modelsResp.Data, nil
}
