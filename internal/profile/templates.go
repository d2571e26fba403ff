// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/morganforge/chorus/internal/util"
)

// ErrTemplateNotFound is returned when a named template does not exist.
var ErrTemplateNotFound = errors.New("template not found")

// placeholderPattern matches {name} substitution points in template text.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Template is a reusable prompt with {placeholder} substitution points.
type Template struct {
	Name string `json:"name" validate:"required"`
	Text string `json:"text" validate:"required"`
}

// Placeholders returns the distinct placeholder names referenced by the
// template text, sorted.
func (t Template) Placeholders() []string {
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(t.Text, -1) {
		seen[m[1]] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Templates persists reusable prompt templates in a single JSON file.
type Templates struct {
	path string

	mu    sync.RWMutex
	items map[string]Template
}

// templatesFile is the on-disk layout.
type templatesFile struct {
	Templates map[string]Template `json:"templates"`
}

// NewTemplates opens the template store at path, loading it when the file
// exists. A missing file is an empty store, not an error.
func NewTemplates(path string) (*Templates, error) {
	ts := &Templates{
		path:  path,
		items: make(map[string]Template),
	}
	if err := ts.Reload(); err != nil {
		return nil, err
	}
	return ts, nil
}

// Path returns the store's file path.
func (ts *Templates) Path() string {
	return ts.path
}

// Reload re-reads the template file, replacing in-memory state.
func (ts *Templates) Reload() error {
	data, err := os.ReadFile(ts.path)
	if err != nil {
		if os.IsNotExist(err) {
			ts.mu.Lock()
			ts.items = make(map[string]Template)
			ts.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read templates: %w", err)
	}

	var file templatesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode templates: %w", err)
	}
	if file.Templates == nil {
		file.Templates = make(map[string]Template)
	}

	ts.mu.Lock()
	ts.items = file.Templates
	ts.mu.Unlock()
	return nil
}

func (ts *Templates) persist() error {
	data, err := json.MarshalIndent(templatesFile{Templates: ts.items}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode templates: %w", err)
	}
	if err := util.AtomicWriteFile(ts.path, data, 0o644); err != nil {
		return fmt.Errorf("write templates: %w", err)
	}
	return nil
}

// Save validates and stores a template under its name.
func (ts *Templates) Save(t Template) error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid template %q: name and text are required", t.Name)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.items[t.Name] = t
	return ts.persist()
}

// Get returns the named template.
func (ts *Templates) Get(name string) (Template, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	t, ok := ts.items[name]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return t, nil
}

// Delete removes the named template.
func (ts *Templates) Delete(name string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, ok := ts.items[name]; !ok {
		return fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	delete(ts.items, name)
	return ts.persist()
}

// List returns all templates sorted by name.
func (ts *Templates) List() []Template {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	out := make([]Template, 0, len(ts.items))
	for _, t := range ts.items {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Expand renders the named template with vars substituted for its
// placeholders. Placeholders without a value fail with a list of the
// missing names.
func (ts *Templates) Expand(name string, vars map[string]string) (string, error) {
	t, err := ts.Get(name)
	if err != nil {
		return "", err
	}
	return expandText(t.Text, vars)
}

func expandText(text string, vars map[string]string) (string, error) {
	missing := make(map[string]bool)

	out := placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := vars[key]; ok {
			return v
		}
		missing[key] = true
		return m
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", fmt.Errorf("missing template values: %s", strings.Join(names, ", "))
	}
	return out, nil
}
