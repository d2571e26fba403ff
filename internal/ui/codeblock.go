// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the interactive chat surface for chorus.
//
// This file highlights fenced code blocks in finished answers. Live
// panels render raw text; highlighting runs once, when a model's
// answer is final.
package ui

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/morganforge/chorus/internal/ui/styles"
)

// =============================================================================
// FENCED BLOCK RENDERING
// =============================================================================

var (
	codeBlockStyle = lipgloss.NewStyle().
			Background(styles.SurfaceDim).
			Padding(0, 1)
	langBadgeStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted).
			Background(styles.OverlayDim).
			Padding(0, 1).
			Bold(true)
)

// highlightFences replaces ``` fenced blocks in text with syntax
// highlighted versions. Text outside fences passes through untouched.
// An unclosed fence is treated as running to the end of the text.
func highlightFences(text string, maxWidth int) string {
	if !strings.Contains(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	result := make([]string, 0, len(lines))
	var inFence bool
	var language string
	var code []string

	flush := func() {
		result = append(result, renderCodeBlock(language, strings.Join(code, "\n"), maxWidth))
		code = nil
		language = ""
		inFence = false
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "```"):
			if inFence {
				flush()
			} else {
				language = strings.TrimSpace(strings.TrimPrefix(line, "```"))
				inFence = true
			}
		case inFence:
			code = append(code, line)
		default:
			result = append(result, line)
		}
	}
	if inFence && len(code) > 0 {
		flush()
	}

	return strings.Join(result, "\n")
}

// renderCodeBlock renders one fenced block: a language badge when the
// fence named one, then the highlighted code on a dim background.
func renderCodeBlock(language, code string, maxWidth int) string {
	code = strings.TrimRight(code, "\n")
	if code == "" {
		return ""
	}

	highlighted := highlightCode(code, language)
	block := codeBlockStyle.MaxWidth(max(maxWidth, 20)).Render(highlighted)
	if language == "" {
		return block
	}
	return langBadgeStyle.Render(language) + "\n" + block
}

// =============================================================================
// CHROMA HIGHLIGHTING
// =============================================================================

// highlightCode applies terminal syntax highlighting. Unknown languages
// fall back to content analysis, then to plain text.
func highlightCode(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}
