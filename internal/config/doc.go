// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chorus.
//
// Supports both TOML and JSON configuration formats, with built-in
// defaults, environment variable overrides, and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHORUS_*)
//   - ~/.chorus/config.toml
//   - ~/.chorus/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//
// There is no package-level singleton. Load returns a *Config that the
// caller hands explicitly to the engine, the stores, and the commands.
package config
