// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export converts saved transcripts to shareable formats.
//
// The store's own file format stays the interchange JSON array; exporters
// here produce human-facing artifacts (Markdown, pretty JSON, plain text)
// that are not meant to be re-imported.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/morganforge/chorus/internal/transcript"
	"github.com/morganforge/chorus/internal/util"
)

// Exporter converts one transcript to a target format.
type Exporter interface {
	// Export renders the transcript and returns the file content.
	Export(t *transcript.Transcript) ([]byte, error)

	// FileExtension returns the extension for the format (e.g. ".md").
	FileExtension() string

	// MimeType returns the MIME type of the exported format.
	MimeType() string
}

// Options configures export behavior.
type Options struct {
	// OutputDir is where exported files are written. Default: the
	// current working directory.
	OutputDir string

	// IncludeMetadata adds the header block (models, dates, counts) and
	// per-message stats lines.
	IncludeMetadata bool

	// IncludeTimestamps adds per-message timestamps.
	IncludeTimestamps bool
}

// DefaultOptions returns the default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	}
}

// ForFormat returns the exporter for a format name as typed in the
// /export command.
func ForFormat(name string, opts *Options) (Exporter, error) {
	switch strings.ToLower(name) {
	case "markdown", "md":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "text", "txt":
		return NewTextExporter(opts), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (markdown, json, text)", name)
	}
}

// ExportToFile renders a transcript with the given exporter and writes it
// under opts.OutputDir with a timestamped name. Returns the output path.
func ExportToFile(t *transcript.Transcript, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(t)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	stamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("chorus_%s_%s%s",
		util.SanitizeFilename(t.Preview(40)),
		stamp,
		exporter.FileExtension(),
	)

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	outputPath := filepath.Join(opts.OutputDir, filename)
	if err := os.WriteFile(outputPath, content, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return outputPath, nil
}

// formatTimestamp formats a timestamp for metadata blocks.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
