// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// output.go - stderr status helpers shared by the command handlers.

package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/morganforge/chorus/internal/ui/styles"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(styles.TextSecondary)
	valueStyle = lipgloss.NewStyle().Foreground(styles.TextPrimary)
	headStyle  = lipgloss.NewStyle().Foreground(styles.Cyan).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(styles.TextMuted)
	failStyle  = lipgloss.NewStyle().Foreground(styles.Rose)
)

func printSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styles.RenderSuccess(fmt.Sprintf(format, args...)))
}

func printError(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styles.RenderError(fmt.Sprintf(format, args...)))
}

func printWarning(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styles.RenderWarning(fmt.Sprintf(format, args...)))
}

func printStep(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styles.RenderInfo(fmt.Sprintf(format, args...)))
}

// printField prints an aligned "Label: value" detail line.
func printField(w io.Writer, label, format string, args ...any) {
	fmt.Fprintf(w, "  %s %s\n",
		labelStyle.Render(label+":"),
		valueStyle.Render(fmt.Sprintf(format, args...)))
}

// printHeading prints a section heading with an underline.
func printHeading(w io.Writer, text string) {
	fmt.Fprintln(w, headStyle.Render(text))
	fmt.Fprintln(w, dimStyle.Render(underline(len(text))))
}

func underline(n int) string {
	out := make([]rune, n)
	for i := range out {
		out[i] = '─'
	}
	return string(out)
}
