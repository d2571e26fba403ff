// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - TTY detection and terminal capability helpers.

package cli

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	// DefaultTerminalWidth is the fallback width when detection fails.
	DefaultTerminalWidth = 80

	// MinTerminalWidth is the narrowest width rendering will target.
	MinTerminalWidth = 40
)

// IsTTY returns true if stdin is a terminal. Interactive prompts are
// only possible when it is.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY returns true if stdout is a terminal. Markdown rendering
// and colors are only safe when it is; piped output stays plain.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// TerminalWidth returns the current terminal width, clamped to
// [MinTerminalWidth, ...) with a fallback when detection fails.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return DefaultTerminalWidth
	}
	if width < MinTerminalWidth {
		return MinTerminalWidth
	}
	return width
}

// DisableColors forces plain ASCII output for the whole process.
// Honors --no-color, NO_COLOR, and the ui.no_color config setting.
func DisableColors() {
	lipgloss.SetColorProfile(termenv.Ascii)
}
