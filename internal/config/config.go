// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/morganforge/chorus/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete chorus configuration.
type Config struct {
	// API configuration (endpoint, credentials, transport limits)
	API APIConfig `toml:"api" json:"api"`

	// Defaults applied when no profile or flag overrides them
	Defaults DefaultsConfig `toml:"defaults" json:"defaults"`

	// Directory configuration (model listing cache)
	Directory DirectoryConfig `toml:"directory" json:"directory"`

	// UI configuration
	UI UIConfig `toml:"ui" json:"ui"`

	// History configuration (transcript persistence)
	History HistoryConfig `toml:"history" json:"history"`

	// Usage configuration (per-turn usage ledger)
	Usage UsageConfig `toml:"usage" json:"usage"`

	// Log configuration
	Log LogConfig `toml:"log" json:"log"`
}

// APIConfig describes the OpenRouter-compatible endpoint requests go to.
type APIConfig struct {
	// BaseURL is the API root, e.g. "https://openrouter.ai/api/v1"
	BaseURL string `toml:"base_url" json:"base_url"`
	// Key is the bearer token. Prefer CHORUS_API_KEY over storing it here.
	Key string `toml:"key" json:"key"`
	// Referer is sent as HTTP-Referer for app attribution
	Referer string `toml:"referer" json:"referer"`
	// Title is sent as X-Title for app attribution
	Title string `toml:"title" json:"title"`
	// TimeoutSecs bounds non-streaming requests
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries int `toml:"max_retries" json:"max_retries"`
}

// Timeout returns TimeoutSecs as a duration.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// DefaultsConfig holds the generation settings used when neither a profile
// nor a per-invocation flag overrides them.
type DefaultsConfig struct {
	// Profile names the profile resolved at startup. Empty uses the
	// profile store's default pointer.
	Profile string `toml:"profile" json:"profile"`
	// Model is the model id used when no profile is active
	Model string `toml:"model" json:"model"`
	// Temperature is the sampling temperature, 0.0-2.0
	Temperature float64 `toml:"temperature" json:"temperature"`
	// MaxTokens caps completion length. Zero lets the server decide.
	MaxTokens int `toml:"max_tokens" json:"max_tokens"`
	// SystemPrompt is prepended to every new conversation when set
	SystemPrompt string `toml:"system_prompt" json:"system_prompt"`
}

// DirectoryConfig controls the cached model listing.
type DirectoryConfig struct {
	// TTLMinutes is how long a fetched model listing stays fresh.
	// Zero refetches on every listing.
	TTLMinutes int `toml:"ttl_minutes" json:"ttl_minutes"`
}

// TTL returns TTLMinutes as a duration.
func (d DirectoryConfig) TTL() time.Duration {
	return time.Duration(d.TTLMinutes) * time.Minute
}

// UIConfig contains terminal rendering preferences.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme" json:"theme"`
	// Markdown renders final answers through the markdown renderer
	Markdown bool `toml:"markdown" json:"markdown"`
	// SideBySide lays model panels out in columns when the terminal is
	// wide enough; panels stack otherwise
	SideBySide bool `toml:"side_by_side" json:"side_by_side"`
	// Compact trims panel padding and hides per-model stats
	Compact bool `toml:"compact" json:"compact"`
	// NoColor disables ANSI color output
	NoColor bool `toml:"no_color" json:"no_color"`
}

// HistoryConfig controls transcript persistence.
type HistoryConfig struct {
	// Enabled turns transcript saving on
	Enabled bool `toml:"enabled" json:"enabled"`
	// Dir is where transcripts live. Empty means <config dir>/transcripts.
	Dir string `toml:"dir" json:"dir"`
	// MaxTranscripts caps how many transcripts are kept, oldest pruned
	// first. Zero keeps everything.
	MaxTranscripts int `toml:"max_transcripts" json:"max_transcripts"`
}

// UsageConfig controls the per-turn usage ledger.
type UsageConfig struct {
	// Enabled turns usage recording on
	Enabled bool `toml:"enabled" json:"enabled"`
	// Path is the sqlite database file. Empty means <config dir>/usage.db.
	Path string `toml:"path" json:"path"`
}

// LogConfig controls the rotating JSON log file.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error"
	Level string `toml:"level" json:"level"`
	// File is the log path. Empty means <config dir>/chorus.log.
	File string `toml:"file" json:"file"`
	// MaxSizeMB is the maximum size of the log file before rotation
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb"`
	// MaxBackups is the number of rotated files to retain
	MaxBackups int `toml:"max_backups" json:"max_backups"`
	// MaxAgeDays is the maximum age of a rotated file in days
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Key:         "",
			Referer:     "https://github.com/morganforge/chorus",
			Title:       "chorus",
			TimeoutSecs: 120,
			MaxRetries:  3,
		},

		Defaults: DefaultsConfig{
			Profile:     "",
			Model:       "anthropic/claude-3.5-sonnet",
			Temperature: 0.7,
			MaxTokens:   2048,
		},

		Directory: DirectoryConfig{
			TTLMinutes: 5,
		},

		UI: UIConfig{
			Theme:      "dark",
			Markdown:   true,
			SideBySide: true,
			Compact:    false,
			NoColor:    false,
		},

		History: HistoryConfig{
			Enabled:        true,
			MaxTranscripts: 200,
		},

		Usage: UsageConfig{
			Enabled: true,
		},

		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the chorus configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chorus"), nil
}

// PathTOML returns the path to the TOML config file.
func PathTOML() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// PathJSON returns the path to the JSON config file.
func PathJSON() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureDir ensures the config directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// ensureSecurePermissions tightens a config file to 0600. The API key
// lives in it.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads configuration from the default locations: config.toml first,
// then config.json, then built-in defaults. A .env file in the working
// directory is read first so environment overrides can come from it.
// Environment overrides are applied last, then gap-filling and validation.
//
// A present but malformed file is an error. Running with silently ignored
// settings is worse than not running.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path, err := PathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := decodeTOML(cfg, path); err != nil {
				return nil, fmt.Errorf("load %s: %w", filepath.Base(path), err)
			}
			return finalize(cfg)
		}
	}

	if path, err := PathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := decodeJSON(cfg, path); err != nil {
				return nil, fmt.Errorf("load %s: %w", filepath.Base(path), err)
			}
			return finalize(cfg)
		}
	}

	return finalize(cfg)
}

// LoadFromPath loads configuration from a specific file. JSON when the
// path ends in .json, TOML otherwise. The file must exist.
func LoadFromPath(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	var err error
	if strings.HasSuffix(path, ".json") {
		err = decodeJSON(cfg, path)
	} else {
		err = decodeTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return finalize(cfg)
}

// finalize applies environment overrides, fills gaps, and validates.
func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// decodeTOML overlays a TOML file onto cfg. Fields absent from the file
// keep their current values.
func decodeTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not secure %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// decodeJSON overlays a JSON file onto cfg.
func decodeJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not secure %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// fillDefaults fills values that must never be empty and derives the file
// paths that hang off the config directory. Zero values that are
// legitimate settings (temperature 0, ttl_minutes 0) are left alone.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = defaults.API.BaseURL
	}
	if cfg.API.TimeoutSecs == 0 {
		cfg.API.TimeoutSecs = defaults.API.TimeoutSecs
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}

	dir, err := Dir()
	if err != nil {
		return
	}
	if cfg.History.Dir == "" {
		cfg.History.Dir = filepath.Join(dir, "transcripts")
	}
	if cfg.Usage.Path == "" {
		cfg.Usage.Path = filepath.Join(dir, "usage.db")
	}
	if cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(dir, "chorus.log")
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := PathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file. The write is atomic
// and the file ends up 0600: the API key lives in it.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# chorus configuration file\n")
	buf.WriteString("# Generated by chorus - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration to a JSON file, atomic and 0600.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and reports every problem found,
// not just the first.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.API.BaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "api.base_url",
			Message: "must not be empty",
		})
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, ValidationError{
			Field:   "api.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must be http or https", c.API.BaseURL),
		})
	}

	if c.API.TimeoutSecs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "api.timeout_secs",
			Message: fmt.Sprintf("must be positive, got %d", c.API.TimeoutSecs),
		})
	}

	if c.API.MaxRetries < 0 || c.API.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "api.max_retries",
			Message: fmt.Sprintf("must be 0-10, got %d", c.API.MaxRetries),
		})
	}

	if c.Defaults.Temperature < 0 || c.Defaults.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "defaults.temperature",
			Message: fmt.Sprintf("must be between 0.0 and 2.0, got %g", c.Defaults.Temperature),
		})
	}

	if c.Defaults.MaxTokens < 0 {
		errs = append(errs, ValidationError{
			Field:   "defaults.max_tokens",
			Message: "must be non-negative",
		})
	}

	if c.Directory.TTLMinutes < 0 {
		errs = append(errs, ValidationError{
			Field:   "directory.ttl_minutes",
			Message: "must be non-negative",
		})
	}

	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	if c.History.MaxTranscripts < 0 {
		errs = append(errs, ValidationError{
			Field:   "history.max_transcripts",
			Message: "must be non-negative",
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}

	if c.Log.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "log.max_size_mb",
			Message: "must be non-negative",
		})
	}
	if c.Log.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "log.max_backups",
			Message: "must be non-negative",
		})
	}
	if c.Log.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "log.max_age_days",
			Message: "must be non-negative",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CHORUS_API_KEY: overrides api.key
//   - OPENROUTER_API_KEY: overrides api.key when CHORUS_API_KEY is unset
//   - CHORUS_BASE_URL: overrides api.base_url
//   - CHORUS_MODEL: overrides defaults.model
//   - CHORUS_PROFILE: overrides defaults.profile
//   - CHORUS_LOG_LEVEL: overrides log.level
//   - CHORUS_NO_COLOR: set to "1" or "true" to disable color output
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("CHORUS_API_KEY"); key != "" {
		c.API.Key = key
	} else if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.API.Key = key
	}

	if base := os.Getenv("CHORUS_BASE_URL"); base != "" {
		c.API.BaseURL = base
	}

	if model := os.Getenv("CHORUS_MODEL"); model != "" {
		c.Defaults.Model = model
	}

	if profile := os.Getenv("CHORUS_PROFILE"); profile != "" {
		c.Defaults.Profile = profile
	}

	if level := os.Getenv("CHORUS_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}

	if noColor := os.Getenv("CHORUS_NO_COLOR"); noColor != "" {
		c.UI.NoColor = noColor == "1" || strings.EqualFold(noColor, "true")
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value by dot-notation key,
// e.g. "api.base_url" or "defaults.temperature".
func (c *Config) Get(key string) (any, error) {
	field, err := c.fieldByKey(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a configuration value by dot-notation key. String values
// are converted to the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.fieldByKey(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// fieldByKey walks the struct along the dot-separated key parts.
func (c *Config) fieldByKey(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		if part == "" {
			return reflect.Value{}, fmt.Errorf("invalid key: %q", key)
		}

		name := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(n string) bool {
			return strings.EqualFold(n, name)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown config key: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			return field, nil
		}

		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("'%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}

	return reflect.Value{}, fmt.Errorf("invalid key: %q", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go
// field equivalent, matched case-insensitively.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from a raw value with type conversion.
func setFieldValue(field reflect.Value, value any) error {
	// String input converts to the field's type, so "config set" works
	// with plain command-line arguments.
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			field.SetBool(strVal == "1" || strings.EqualFold(strVal, "true") || strings.EqualFold(strVal, "yes"))
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// AllKeys returns every configuration key in dot notation, for listing
// and completion.
func AllKeys() []string {
	return []string{
		"api.base_url",
		"api.key",
		"api.referer",
		"api.title",
		"api.timeout_secs",
		"api.max_retries",
		"defaults.profile",
		"defaults.model",
		"defaults.temperature",
		"defaults.max_tokens",
		"defaults.system_prompt",
		"directory.ttl_minutes",
		"ui.theme",
		"ui.markdown",
		"ui.side_by_side",
		"ui.compact",
		"ui.no_color",
		"history.enabled",
		"history.dir",
		"history.max_transcripts",
		"usage.enabled",
		"usage.path",
		"log.level",
		"log.file",
		"log.max_size_mb",
		"log.max_backups",
		"log.max_age_days",
	}
}

// IsSecret reports whether a key's value must be redacted in display
// output.
func IsSecret(key string) bool {
	return strings.EqualFold(key, "api.key")
}

// Clone returns a copy of the configuration. Every field is a value
// type, so the struct copy is a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as indented JSON with secrets redacted, safe
// for logs and debug output.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.API.Key != "" {
		safe.API.Key = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
