// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"

	"github.com/morganforge/chorus/internal/transcript"
)

// TextExporter renders transcripts as plain text for pasting into places
// that do not speak Markdown.
type TextExporter struct {
	options *Options
}

// NewTextExporter creates a plain text exporter.
func NewTextExporter(opts *Options) *TextExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &TextExporter{options: opts}
}

// Export converts a transcript to plain text.
func (e *TextExporter) Export(t *transcript.Transcript) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("transcript is nil")
	}
	if len(t.Messages) == 0 {
		return nil, fmt.Errorf("transcript has no messages")
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString(fmt.Sprintf("Conversation %s\n", t.ID))
		if models := t.Models(); len(models) > 0 {
			sb.WriteString(fmt.Sprintf("Models: %s\n", strings.Join(models, ", ")))
		}
		sb.WriteString(fmt.Sprintf("Saved: %s\n", formatTimestamp(t.SavedAt)))
		sb.WriteString(strings.Repeat("=", 60))
		sb.WriteString("\n\n")
	}

	for i, msg := range t.Messages {
		label := roleHeading(msg)
		if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
			sb.WriteString(fmt.Sprintf("%s (%s):\n", label, formatShortTimestamp(msg.Timestamp)))
		} else {
			sb.WriteString(fmt.Sprintf("%s:\n", label))
		}
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n")

		if i < len(t.Messages)-1 {
			sb.WriteString("\n")
			sb.WriteString(strings.Repeat("-", 60))
			sb.WriteString("\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns ".txt".
func (e *TextExporter) FileExtension() string {
	return ".txt"
}

// MimeType returns the plain text MIME type.
func (e *TextExporter) MimeType() string {
	return "text/plain"
}
