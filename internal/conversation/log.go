// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/morganforge/chorus/internal/openrouter"
)

// Append rejection errors.
var (
	// ErrMissingModel indicates an assistant message without model
	// attribution.
	ErrMissingModel = errors.New("assistant message requires a model")

	// ErrUnexpectedModel indicates model attribution on a user or system
	// message.
	ErrUnexpectedModel = errors.New("only assistant messages carry a model")
)

// Log is the append-only conversation log: the single source of truth the
// chat engine reads at turn start and appends to as model streams finish.
//
// All methods are safe for concurrent use. Reads return copies, so a view
// taken at turn start is unaffected by appends made while streams run.
type Log struct {
	mu       sync.RWMutex
	messages []Message
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// ValidateAttribution checks the model attribution rule: assistant
// messages must carry a model, user and system messages must not.
func ValidateAttribution(msg Message) error {
	switch msg.Role {
	case RoleAssistant:
		if msg.Model == "" {
			return ErrMissingModel
		}
	case RoleUser, RoleSystem:
		if msg.Model != "" {
			return ErrUnexpectedModel
		}
	default:
		return fmt.Errorf("unknown role %q", msg.Role)
	}
	return nil
}

// Append adds a message at the end of the log after checking model
// attribution.
func (l *Log) Append(msg Message) error {
	if err := ValidateAttribution(msg); err != nil {
		return err
	}

	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
	return nil
}

// ViewFor returns the history one specific model should see as context:
// every user and system message plus only that model's own assistant
// replies, in original order. Sibling models' replies never cross over.
//
// The returned slice is a fresh copy; callers may hold it across a turn.
func (l *Log) ViewFor(modelID string) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	view := make([]Message, 0, len(l.messages))
	for _, msg := range l.messages {
		if msg.Role == RoleAssistant && msg.Model != modelID {
			continue
		}
		view = append(view, msg)
	}
	return view
}

// Messages returns a copy of the full log.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Last returns the most recent message, or false when the log is empty.
func (l *Log) Last() (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.messages) == 0 {
		return Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// RemoveLast removes and returns the most recent message. The engine uses
// it to roll a submitted user message back out when a turn is interrupted
// before any model completed.
func (l *Log) RemoveLast() (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.messages) == 0 {
		return Message{}, false
	}
	last := l.messages[len(l.messages)-1]
	l.messages = l.messages[:len(l.messages)-1]
	return last, true
}

// Clear truncates the log to empty.
func (l *Log) Clear() {
	l.mu.Lock()
	l.messages = nil
	l.mu.Unlock()
}

// Replace swaps in a full message history, copying the input. Used when a
// saved transcript is loaded into a session.
func (l *Log) Replace(msgs []Message) {
	l.mu.Lock()
	l.messages = make([]Message, len(msgs))
	copy(l.messages, msgs)
	l.mu.Unlock()
}

// ToChatMessages converts a message view to the wire format, prepending a
// session system prompt when set. Empty-content messages are dropped.
func ToChatMessages(msgs []Message, systemPrompt string) []openrouter.ChatMessage {
	out := make([]openrouter.ChatMessage, 0, len(msgs)+1)

	if systemPrompt != "" {
		out = append(out, openrouter.NewSystemMessage(systemPrompt))
	}

	for _, msg := range msgs {
		if msg.Content == "" {
			continue
		}
		out = append(out, openrouter.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return out
}
