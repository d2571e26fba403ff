// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/morganforge/chorus/internal/conversation"
	"github.com/morganforge/chorus/internal/transcript"
)

// JSONExporter renders transcripts as an indented JSON document with the
// derived metadata folded in. The output is for reading and tooling, not
// re-import; the transcript file itself is already the importable form.
type JSONExporter struct {
	options *Options
}

// jsonDocument is the exported envelope.
type jsonDocument struct {
	ID           string                 `json:"id"`
	SavedAt      time.Time              `json:"saved_at"`
	Models       []string               `json:"models,omitempty"`
	MessageCount int                    `json:"message_count"`
	Messages     []conversation.Message `json:"messages"`
}

// NewJSONExporter creates a JSON exporter. Options are accepted for
// symmetry; JSON export always includes the complete transcript.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export converts a transcript to indented JSON.
func (e *JSONExporter) Export(t *transcript.Transcript) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("transcript is nil")
	}

	doc := jsonDocument{
		ID:           t.ID,
		SavedAt:      t.SavedAt,
		Models:       t.Models(),
		MessageCount: t.MessageCount(),
		Messages:     t.Messages,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// FileExtension returns ".json".
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the JSON MIME type.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
