// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearChorusEnv neutralizes ambient environment overrides so tests see
// only what they set themselves.
func clearChorusEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"CHORUS_API_KEY",
		"OPENROUTER_API_KEY",
		"CHORUS_BASE_URL",
		"CHORUS_MODEL",
		"CHORUS_PROFILE",
		"CHORUS_LOG_LEVEL",
		"CHORUS_NO_COLOR",
	} {
		t.Setenv(v, "")
	}
}

// testHome points HOME at a temp directory and returns the config dir
// that Load will look in.
func testHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return filepath.Join(home, ".chorus")
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}
	if cfg.API.BaseURL == "" {
		t.Error("Default config should have an API base URL")
	}
	if cfg.API.Timeout() != 120*time.Second {
		t.Errorf("Expected default timeout 120s, got %v", cfg.API.Timeout())
	}
	if cfg.UI.Theme != "dark" {
		t.Errorf("Expected default theme 'dark', got '%s'", cfg.UI.Theme)
	}
	if !cfg.UI.Markdown || !cfg.UI.SideBySide {
		t.Error("Markdown and side-by-side rendering should default on")
	}
	if !cfg.History.Enabled {
		t.Error("History should default on")
	}
	if cfg.Directory.TTL() != 5*time.Minute {
		t.Errorf("Expected default directory TTL 5m, got %v", cfg.Directory.TTL())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "valid default config",
			config:  Default(),
			wantErr: false,
		},
		{
			name: "empty base URL",
			config: func() *Config {
				c := Default()
				c.API.BaseURL = ""
				return c
			}(),
			wantErr: true,
		},
		{
			name: "non-http base URL",
			config: func() *Config {
				c := Default()
				c.API.BaseURL = "ftp://openrouter.ai/api/v1"
				return c
			}(),
			wantErr: true,
		},
		{
			name: "zero timeout",
			config: func() *Config {
				c := Default()
				c.API.TimeoutSecs = 0
				return c
			}(),
			wantErr: true,
		},
		{
			name: "too many retries",
			config: func() *Config {
				c := Default()
				c.API.MaxRetries = 11
				return c
			}(),
			wantErr: true,
		},
		{
			name: "negative temperature",
			config: func() *Config {
				c := Default()
				c.Defaults.Temperature = -0.1
				return c
			}(),
			wantErr: true,
		},
		{
			name: "temperature above maximum",
			config: func() *Config {
				c := Default()
				c.Defaults.Temperature = 2.5
				return c
			}(),
			wantErr: true,
		},
		{
			name: "temperature at lower bound",
			config: func() *Config {
				c := Default()
				c.Defaults.Temperature = 0
				return c
			}(),
			wantErr: false,
		},
		{
			name: "temperature at upper bound",
			config: func() *Config {
				c := Default()
				c.Defaults.Temperature = 2
				return c
			}(),
			wantErr: false,
		},
		{
			name: "invalid theme",
			config: func() *Config {
				c := Default()
				c.UI.Theme = "solarized"
				return c
			}(),
			wantErr: true,
		},
		{
			name: "invalid log level",
			config: func() *Config {
				c := Default()
				c.Log.Level = "verbose"
				return c
			}(),
			wantErr: true,
		},
		{
			name: "negative max transcripts",
			config: func() *Config {
				c := Default()
				c.History.MaxTranscripts = -1
				return c
			}(),
			wantErr: true,
		},
		{
			name: "zero max tokens means server default",
			config: func() *Config {
				c := Default()
				c.Defaults.MaxTokens = 0
				return c
			}(),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsEveryError(t *testing.T) {
	cfg := Default()
	cfg.UI.Theme = "solarized"
	cfg.Log.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	msg := err.Error()
	if !strings.Contains(msg, "ui.theme") || !strings.Contains(msg, "log.level") {
		t.Errorf("Expected both fields reported, got: %s", msg)
	}
	if !strings.Contains(msg, "; ") {
		t.Errorf("Expected errors joined with '; ', got: %s", msg)
	}
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	clearChorusEnv(t)
	dir := testHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.BaseURL != Default().API.BaseURL {
		t.Errorf("Expected default base URL, got '%s'", cfg.API.BaseURL)
	}
	if cfg.History.Dir != filepath.Join(dir, "transcripts") {
		t.Errorf("Expected derived history dir, got '%s'", cfg.History.Dir)
	}
	if cfg.Usage.Path != filepath.Join(dir, "usage.db") {
		t.Errorf("Expected derived usage path, got '%s'", cfg.Usage.Path)
	}
	if cfg.Log.File != filepath.Join(dir, "chorus.log") {
		t.Errorf("Expected derived log file, got '%s'", cfg.Log.File)
	}
}

func TestLoadTOMLOverlay(t *testing.T) {
	clearChorusEnv(t)
	dir := testHome(t)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	toml := `
[api]
timeout_secs = 30

[ui]
theme = "light"
markdown = false
`
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(toml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.TimeoutSecs != 30 {
		t.Errorf("Expected timeout 30, got %d", cfg.API.TimeoutSecs)
	}
	if cfg.UI.Theme != "light" {
		t.Errorf("Expected theme 'light', got '%s'", cfg.UI.Theme)
	}
	if cfg.UI.Markdown {
		t.Error("Explicit markdown=false should survive loading")
	}
	// Absent keys keep their defaults.
	if !cfg.UI.SideBySide {
		t.Error("side_by_side absent from file should keep its default")
	}
	if cfg.API.BaseURL != Default().API.BaseURL {
		t.Errorf("Expected default base URL, got '%s'", cfg.API.BaseURL)
	}
}

func TestLoadJSONFallback(t *testing.T) {
	clearChorusEnv(t)
	dir := testHome(t)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	jsonCfg := `{"defaults": {"model": "openai/gpt-4o"}}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(jsonCfg), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Defaults.Model != "openai/gpt-4o" {
		t.Errorf("Expected model from JSON config, got '%s'", cfg.Defaults.Model)
	}
}

func TestLoadTOMLWinsOverJSON(t *testing.T) {
	clearChorusEnv(t)
	dir := testHome(t)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[defaults]\nmodel = \"from-toml\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"defaults": {"model": "from-json"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Defaults.Model != "from-toml" {
		t.Errorf("TOML should win over JSON, got '%s'", cfg.Defaults.Model)
	}
}

func TestLoadMalformedTOML(t *testing.T) {
	clearChorusEnv(t)
	dir := testHome(t)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[api\nnope"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail on a malformed config file")
	}
	if !strings.Contains(err.Error(), "config.toml") {
		t.Errorf("Error should name the file, got: %v", err)
	}
}

func TestLoadFixesLoosePermissions(t *testing.T) {
	clearChorusEnv(t)
	dir := testHome(t)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[ui]\ntheme = \"dark\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("Expected permissions tightened to 0600, got %o", perm)
	}
}

func TestLoadFromPath(t *testing.T) {
	clearChorusEnv(t)
	testHome(t)

	path := filepath.Join(t.TempDir(), "custom.toml")
	if err := os.WriteFile(path, []byte("[defaults]\nmodel = \"custom\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Defaults.Model != "custom" {
		t.Errorf("Expected model 'custom', got '%s'", cfg.Defaults.Model)
	}

	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("LoadFromPath() with a missing file should fail")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	clearChorusEnv(t)
	t.Setenv("CHORUS_API_KEY", "sk-chorus")
	t.Setenv("OPENROUTER_API_KEY", "sk-openrouter")
	t.Setenv("CHORUS_BASE_URL", "http://localhost:8080/v1")
	t.Setenv("CHORUS_MODEL", "meta-llama/llama-3-70b")
	t.Setenv("CHORUS_PROFILE", "review")
	t.Setenv("CHORUS_LOG_LEVEL", "debug")
	t.Setenv("CHORUS_NO_COLOR", "1")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.API.Key != "sk-chorus" {
		t.Errorf("CHORUS_API_KEY should win over OPENROUTER_API_KEY, got '%s'", cfg.API.Key)
	}
	if cfg.API.BaseURL != "http://localhost:8080/v1" {
		t.Errorf("Expected base URL override, got '%s'", cfg.API.BaseURL)
	}
	if cfg.Defaults.Model != "meta-llama/llama-3-70b" {
		t.Errorf("Expected model override, got '%s'", cfg.Defaults.Model)
	}
	if cfg.Defaults.Profile != "review" {
		t.Errorf("Expected profile override, got '%s'", cfg.Defaults.Profile)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level override, got '%s'", cfg.Log.Level)
	}
	if !cfg.UI.NoColor {
		t.Error("CHORUS_NO_COLOR=1 should disable color")
	}
}

func TestApplyEnvOverridesOpenRouterFallback(t *testing.T) {
	clearChorusEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-openrouter")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.API.Key != "sk-openrouter" {
		t.Errorf("OPENROUTER_API_KEY should apply when CHORUS_API_KEY is unset, got '%s'", cfg.API.Key)
	}
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	val, err := cfg.Get("ui.theme")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if val != "dark" {
		t.Errorf("Get('ui.theme') = %v, want 'dark'", val)
	}

	if err := cfg.Set("defaults.temperature", "1.5"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if cfg.Defaults.Temperature != 1.5 {
		t.Errorf("Expected temperature 1.5, got %g", cfg.Defaults.Temperature)
	}

	if err := cfg.Set("ui.markdown", "false"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if cfg.UI.Markdown {
		t.Error("Set('ui.markdown', 'false') should disable markdown")
	}

	if err := cfg.Set("defaults.max_tokens", 4096); err != nil {
		t.Fatalf("Set() with typed value error = %v", err)
	}
	if cfg.Defaults.MaxTokens != 4096 {
		t.Errorf("Expected max tokens 4096, got %d", cfg.Defaults.MaxTokens)
	}

	if _, err := cfg.Get("nope.key"); err == nil {
		t.Error("Get() with unknown key should return error")
	}
	if err := cfg.Set("api.timeout_secs", "abc"); err == nil {
		t.Error("Set() with a non-integer string should return error")
	}
}

func TestAllKeysResolve(t *testing.T) {
	cfg := Default()
	for _, key := range AllKeys() {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("Get(%q) error = %v", key, err)
		}
	}
}

func TestIsSecret(t *testing.T) {
	if !IsSecret("api.key") {
		t.Error("api.key should be secret")
	}
	if IsSecret("api.base_url") {
		t.Error("api.base_url should not be secret")
	}
}

func TestClone(t *testing.T) {
	original := Default()
	original.Defaults.Model = "original"

	clone := original.Clone()
	clone.Defaults.Model = "cloned"

	if original.Defaults.Model != "original" {
		t.Error("Clone should create an independent copy")
	}
	if clone.Defaults.Model != "cloned" {
		t.Error("Clone model should be modified")
	}
}

func TestStringRedactsKey(t *testing.T) {
	cfg := Default()
	cfg.API.Key = "sk-very-secret"

	out := cfg.String()
	if strings.Contains(out, "sk-very-secret") {
		t.Error("String() must not leak the API key")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Error("String() should mark the key as redacted")
	}
	if cfg.API.Key != "sk-very-secret" {
		t.Error("String() must not mutate the config")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	clearChorusEnv(t)
	dir := testHome(t)

	cfg := Default()
	cfg.API.Key = "sk-test"
	cfg.Defaults.Model = "openai/gpt-4o-mini"
	cfg.UI.Markdown = false

	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("Expected config saved 0600, got %o", perm)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.API.Key != "sk-test" {
		t.Errorf("Expected key round-tripped, got '%s'", loaded.API.Key)
	}
	if loaded.Defaults.Model != "openai/gpt-4o-mini" {
		t.Errorf("Expected model round-tripped, got '%s'", loaded.Defaults.Model)
	}
	if loaded.UI.Markdown {
		t.Error("markdown=false should round-trip")
	}
}
