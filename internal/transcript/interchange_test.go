// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/morganforge/chorus/internal/conversation"
)

func TestWriteInterchangeSingleLine(t *testing.T) {
	var buf bytes.Buffer

	msgs := []conversation.Message{
		conversation.NewUserMessage("line one\nline two"),
		conversation.NewAssistantMessage("model-a", "reply"),
	}
	require.NoError(t, WriteInterchange(&buf, msgs))

	out := buf.String()
	require.NotContains(t, out, "\n", "interchange output must be newline-free")
	require.True(t, strings.HasPrefix(out, "["))
	require.True(t, strings.HasSuffix(out, "]"))

	got, err := ReadInterchange(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "line one\nline two", got[0].Content)
	require.Equal(t, "model-a", got[1].Model)
}

func TestWriteInterchangeEmpty(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteInterchange(&buf, nil))
	require.Equal(t, "[]", buf.String())
}

func TestReadInterchangeRejectsBadAttribution(t *testing.T) {
	_, err := ReadInterchange(strings.NewReader(
		`[{"id":"msg_1","role":"user","content":"hi","timestamp":"2025-01-01T00:00:00Z"},` +
			`{"id":"msg_2","role":"assistant","content":"hello","timestamp":"2025-01-01T00:00:01Z"}]`))
	require.ErrorIs(t, err, conversation.ErrMissingModel)
	require.Contains(t, err.Error(), "message 1")

	_, err = ReadInterchange(strings.NewReader(
		`[{"id":"msg_1","role":"user","content":"hi","model":"sneaky","timestamp":"2025-01-01T00:00:00Z"}]`))
	require.ErrorIs(t, err, conversation.ErrUnexpectedModel)

	_, err = ReadInterchange(strings.NewReader(
		`[{"id":"msg_1","role":"tool","content":"hi","timestamp":"2025-01-01T00:00:00Z"}]`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown role")
}

func TestReadInterchangeRejectsNonArray(t *testing.T) {
	_, err := ReadInterchange(strings.NewReader(`{"messages":[]}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode transcript")
}

func TestReadInterchangeSizeCap(t *testing.T) {
	huge := bytes.NewReader(make([]byte, maxTranscriptBytes+1))

	_, err := ReadInterchange(huge)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds")
}
