// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation holds the append-only message log that a chat
// session shares across every participating model.
package conversation

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/morganforge/chorus/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single finalized entry in a conversation.
//
// Messages are immutable once appended to a Log. Streamed content grows in
// the engine's per-model accumulator and becomes a Message only when that
// model's stream ends, which keeps the log append-only.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Model identifies the backend that produced an assistant message.
	// Present exactly when Role == RoleAssistant.
	Model string `json:"model,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Stats carries generation metrics on assistant messages.
	Stats *Stats `json:"stats,omitempty"`
}

// NewUserMessage creates a user message with a generated ID.
func NewUserMessage(content string) Message {
	return Message{
		ID:        newID(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewAssistantMessage creates a finalized assistant message attributed to
// the model that produced it.
func NewAssistantMessage(model, content string) Message {
	return Message{
		ID:        newID(),
		Role:      RoleAssistant,
		Content:   content,
		Model:     model,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{
		ID:        newID(),
		Role:      RoleSystem,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Preview returns a truncated single-line preview of the content.
func (m Message) Preview(maxRunes int) string {
	line := m.Content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return util.TruncateRunes(line, maxRunes)
}

// EstimateTokens gives a rough token estimate using the ~4 characters per
// token approximation.
func (m Message) EstimateTokens() int {
	return (len(m.Content) + 3) / 4
}

// newID creates a unique message ID.
func newID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "msg_" + hex.EncodeToString(bytes)
}

// =============================================================================
// STATS TYPE
// =============================================================================

// Stats holds timing and token accounting for one generation, finalized
// when the producing stream ends.
type Stats struct {
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	TTFT             time.Duration `json:"ttft_ns,omitempty"`
	Duration         time.Duration `json:"duration_ns,omitempty"`
	TokensPerSec     float64       `json:"tokens_per_sec,omitempty"`
}

// Format renders the stats for display:
// "2.5s | 128 tokens | 51.2 tok/s | TTFT 234ms".
func (s Stats) Format() string {
	parts := make([]string, 0, 4)
	if s.Duration > 0 {
		parts = append(parts, formatSeconds(s.Duration))
	}
	parts = append(parts, util.FormatNumber(s.CompletionTokens)+" tokens")
	if s.TokensPerSec > 0 {
		parts = append(parts, fmt.Sprintf("%.1f tok/s", s.TokensPerSec))
	}
	if s.TTFT > 0 {
		parts = append(parts, fmt.Sprintf("TTFT %dms", s.TTFT.Milliseconds()))
	}
	return strings.Join(parts, " | ")
}

func formatSeconds(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
