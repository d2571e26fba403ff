// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/morganforge/chorus/internal/conversation"
	"github.com/morganforge/chorus/internal/transcript"
)

// MarkdownExporter renders transcripts as Markdown with YAML frontmatter.
// Each assistant message is headed by the model that produced it, so a
// multi-model turn reads as adjacent attributed sections.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a transcript to Markdown.
func (e *MarkdownExporter) Export(t *transcript.Transcript) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("transcript is nil")
	}
	if len(t.Messages) == 0 {
		return nil, fmt.Errorf("transcript has no messages")
	}

	title := t.Preview(60)
	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(title)))
		if models := t.Models(); len(models) > 0 {
			sb.WriteString(fmt.Sprintf("models: [%s]\n", strings.Join(models, ", ")))
		}
		sb.WriteString(fmt.Sprintf("saved: %s\n", t.SavedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("messages: %d\n", t.MessageCount()))
		sb.WriteString(fmt.Sprintf("exported: %s\n", time.Now().Format(time.RFC3339)))
		sb.WriteString("generator: chorus\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(title)))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session\n\n")
		if models := t.Models(); len(models) > 0 {
			sb.WriteString(fmt.Sprintf("- **Models**: %s\n", strings.Join(models, ", ")))
		}
		sb.WriteString(fmt.Sprintf("- **Saved**: %s\n", formatTimestamp(t.SavedAt)))
		sb.WriteString(fmt.Sprintf("- **Messages**: %d\n", t.MessageCount()))
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")

	for i, msg := range t.Messages {
		label := roleHeading(msg)
		if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
			sb.WriteString(fmt.Sprintf("### %s <sub>%s</sub>\n\n",
				label, formatShortTimestamp(msg.Timestamp)))
		} else {
			sb.WriteString(fmt.Sprintf("### %s\n\n", label))
		}

		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if msg.Role == conversation.RoleAssistant && msg.Stats != nil && e.options.IncludeMetadata {
			if line := msg.Stats.Format(); line != "" {
				sb.WriteString(fmt.Sprintf("<sub>%s</sub>\n\n", line))
			}
		}

		if i < len(t.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported from chorus on %s*\n",
		time.Now().Format("January 2, 2006 at 3:04 PM")))

	return []byte(sb.String()), nil
}

// FileExtension returns ".md".
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the Markdown MIME type.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// roleHeading returns the section heading for a message: the model name
// for assistant messages, the display name otherwise.
func roleHeading(msg conversation.Message) string {
	if msg.Role == conversation.RoleAssistant && msg.Model != "" {
		return msg.Model
	}
	return msg.Role.DisplayName()
}

// escapeMarkdown escapes characters that would break heading formatting.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes and escapes values that would otherwise change the
// frontmatter structure.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
