// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"strings"
	"testing"
)

// stripANSI removes ANSI escape codes from a string for testing.
func stripANSI(s string) string {
	var result []rune
	inEscape := false
	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
			continue
		}
		if inEscape {
			if r == 'm' {
				inEscape = false
			}
			continue
		}
		result = append(result, r)
	}
	return string(result)
}

func TestHighlightFencesPassthrough(t *testing.T) {
	text := "Just prose.\nNo code anywhere.\n"
	if got := highlightFences(text, 80); got != text {
		t.Errorf("Text without fences should pass through, got %q", got)
	}
}

func TestHighlightFencesGoBlock(t *testing.T) {
	text := "Here is an example:\n```go\nfunc main() {\n\tprintln(\"hi\")\n}\n```\nThat is all."

	got := stripANSI(highlightFences(text, 80))

	if strings.Contains(got, "```") {
		t.Error("Fence markers should be consumed")
	}
	if !strings.Contains(got, "func") || !strings.Contains(got, "main") {
		t.Errorf("Code content should survive highlighting, got %q", got)
	}
	if !strings.Contains(got, "Here is an example:") {
		t.Error("Prose before the fence should survive")
	}
	if !strings.Contains(got, "That is all.") {
		t.Error("Prose after the fence should survive")
	}
}

func TestHighlightFencesUnclosed(t *testing.T) {
	text := "Streaming cut off:\n```python\nprint('partial')"

	got := stripANSI(highlightFences(text, 80))

	if !strings.Contains(got, "partial") {
		t.Errorf("An unclosed fence should still render its code, got %q", got)
	}
	if strings.Contains(got, "```") {
		t.Error("The opening marker should be consumed even when unclosed")
	}
}

func TestHighlightFencesMultipleBlocks(t *testing.T) {
	text := "```go\nalpha := 1\n```\nbetween\n```go\nbeta := 2\n```"

	got := stripANSI(highlightFences(text, 80))

	if !strings.Contains(got, "alpha") || !strings.Contains(got, "beta") {
		t.Errorf("Every block should render, got %q", got)
	}
	if !strings.Contains(got, "between") {
		t.Error("Prose between blocks should survive")
	}
}

func TestHighlightFencesNoLanguage(t *testing.T) {
	text := "```\nplainblock\n```"

	got := stripANSI(highlightFences(text, 80))

	if !strings.Contains(got, "plainblock") {
		t.Errorf("A bare fence should still render its content, got %q", got)
	}
}

func TestRenderCodeBlockEmpty(t *testing.T) {
	if got := renderCodeBlock("go", "", 80); got != "" {
		t.Errorf("Empty code renders nothing, got %q", got)
	}
	if got := renderCodeBlock("go", "\n\n", 80); got != "" {
		t.Errorf("Whitespace-only code renders nothing, got %q", got)
	}
}

func TestRenderCodeBlockBadge(t *testing.T) {
	got := stripANSI(renderCodeBlock("python", "print(1)", 80))

	if !strings.Contains(got, "python") {
		t.Errorf("A named language should show its badge, got %q", got)
	}
	if !strings.Contains(got, "print") {
		t.Errorf("Code should render, got %q", got)
	}
}

func TestHighlightCodeNeverEmpty(t *testing.T) {
	cases := []struct {
		name     string
		code     string
		language string
	}{
		{"go", "func main() {}", "go"},
		{"unknown language", "whatever :: text", "notalanguage"},
		{"no language", "SELECT * FROM t", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := highlightCode(tc.code, tc.language); got == "" {
				t.Error("Highlighting should fall back to plain code, never empty")
			}
		})
	}
}
