// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/morganforge/chorus/internal/conversation"
)

// maxTranscriptBytes caps how much a single transcript read will accept.
const maxTranscriptBytes = 16 << 20

// WriteInterchange writes messages in the interchange format: a single
// newline-free JSON array.
func WriteInterchange(w io.Writer, msgs []conversation.Message) error {
	data, err := marshalMessages(msgs)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

// ReadInterchange parses a JSON array of messages, enforcing the same
// attribution rules the live conversation log applies on append.
func ReadInterchange(r io.Reader) ([]conversation.Message, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxTranscriptBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	if len(data) > maxTranscriptBytes {
		return nil, fmt.Errorf("transcript exceeds %d bytes", maxTranscriptBytes)
	}
	return unmarshalMessages(data)
}

func marshalMessages(msgs []conversation.Message) ([]byte, error) {
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	return data, nil
}

func unmarshalMessages(data []byte) ([]conversation.Message, error) {
	var msgs []conversation.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	for i, msg := range msgs {
		if err := conversation.ValidateAttribution(msg); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}
	return msgs, nil
}
