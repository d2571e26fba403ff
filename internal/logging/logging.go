// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the application's zap logger.
//
// Chorus renders its UI on stdout, so log output goes to a rotating file
// under the config directory. An optional stderr core can be enabled for
// verbose troubleshooting runs.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction. Zero values fall back to the
// defaults from DefaultOptions.
type Options struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string

	// File is the log file path. Empty disables file output.
	File string

	// MaxSizeMB is the maximum size of the log file before rotation.
	MaxSizeMB int

	// MaxBackups is the number of rotated files to retain.
	MaxBackups int

	// MaxAgeDays is the maximum age of a rotated file in days.
	MaxAgeDays int

	// Compress gzips rotated files.
	Compress bool

	// Console mirrors log output to stderr. Stdout is never used: the
	// terminal UI owns it.
	Console bool
}

// DefaultOptions returns the rotation and level defaults.
func DefaultOptions() Options {
	return Options{
		Level:      "info",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 14,
		Compress:   true,
	}
}

// New constructs a logger from opts. The returned cleanup function flushes
// buffered entries and must be called before exit.
func New(opts Options) (*zap.Logger, func(), error) {
	defaults := DefaultOptions()
	if opts.Level == "" {
		opts.Level = defaults.Level
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = defaults.MaxSizeMB
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = defaults.MaxBackups
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = defaults.MaxAgeDays
	}

	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var cores []zapcore.Core

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
		cores = append(cores, zapcore.NewCore(encoder, fileWriter, level))
	}

	if opts.Console {
		stderrWriter := zapcore.Lock(os.Stderr)
		cores = append(cores, zapcore.NewCore(encoder, stderrWriter, level))
	}

	if len(cores) == 0 {
		return zap.NewNop(), func() {}, nil
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	cleanup := func() {
		// Sync on a file-backed core can fail on some platforms; there is
		// nowhere left to report it.
		_ = logger.Sync()
	}
	return logger, cleanup, nil
}

// Nop returns a logger that discards everything. Used by tests and by
// components that accept an optional logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}
