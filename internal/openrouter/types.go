// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openrouter

import (
	"strconv"
	"strings"
)

// Chat roles accepted by the completions endpoint.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Usage reports token accounting for a completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse represents a non-streaming response from the chat
// completions endpoint.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// GetContent returns the content of the first choice, or empty string if none.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// StreamChunk represents a single decoded fragment from the streaming
// response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// IsDone returns true if the chunk carries a finish reason.
func (c *StreamChunk) IsDone() bool {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason != ""
	}
	return false
}

// GetFinishReason returns the finish reason if streaming is complete.
func (c *StreamChunk) GetFinishReason() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason
	}
	return ""
}

// Pricing represents per-token pricing for a model. OpenRouter reports
// prices as decimal strings in USD per token.
type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// PromptCost parses the prompt price. Returns 0 for missing or unparseable
// values.
func (p Pricing) PromptCost() float64 {
	v, err := strconv.ParseFloat(p.Prompt, 64)
	if err != nil {
		return 0
	}
	return v
}

// CompletionCost parses the completion price. Returns 0 for missing or
// unparseable values.
func (p Pricing) CompletionCost() float64 {
	v, err := strconv.ParseFloat(p.Completion, 64)
	if err != nil {
		return 0
	}
	return v
}

// ModelInfo represents directory metadata for an available model.
type ModelInfo struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	ContextLength int     `json:"context_length"`
	Pricing       Pricing `json:"pricing"`
	TopProvider   string  `json:"top_provider,omitempty"`
	Created       int64   `json:"created,omitempty"`
}

// Provider returns the provider prefix of the model ID
// ("anthropic/claude-3.5-sonnet" -> "anthropic"). Models without a
// prefix fall back to the top_provider field, then to "other".
func (m ModelInfo) Provider() string {
	if idx := strings.Index(m.ID, "/"); idx > 0 {
		return m.ID[:idx]
	}
	if m.TopProvider != "" {
		return strings.ToLower(m.TopProvider)
	}
	return "other"
}

// modelsResponse is the wire structure for the models listing.
type modelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// apiErrorResponse represents an error payload from the API.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
