// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package directory provides cached read access to the backend model
// listing. Directory data is advisory: the chat path never gates on it,
// and callers can always pass model IDs directly.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/morganforge/chorus/internal/openrouter"
)

// DefaultTTL is how long a fetched model listing stays fresh.
const DefaultTTL = 5 * time.Minute

// ErrModelNotFound indicates no directory entry matched a model reference.
var ErrModelNotFound = errors.New("model not found")

// Lister is the transport surface the directory needs.
// *openrouter.Client implements it.
type Lister interface {
	ListModels(ctx context.Context) ([]openrouter.ModelInfo, error)
}

// Clock abstracts time for expiry tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Directory caches the backend model listing with a time-based expiry.
// Stale reads within the TTL are acceptable; fetch failures propagate
// rather than silently serving expired data.
type Directory struct {
	client Lister
	clock  Clock
	ttl    time.Duration
	logger *zap.Logger

	mu        sync.RWMutex
	cached    []openrouter.ModelInfo
	fetchedAt time.Time
}

// New creates a directory over the given transport with the default TTL.
func New(client Lister) *Directory {
	return &Directory{
		client: client,
		clock:  realClock{},
		ttl:    DefaultTTL,
		logger: zap.NewNop(),
	}
}

// WithTTL sets the cache expiry. Zero or negative means every List refetches.
func (d *Directory) WithTTL(ttl time.Duration) *Directory {
	d.ttl = ttl
	return d
}

// WithClock sets a custom clock. Intended for tests.
func (d *Directory) WithClock(clock Clock) *Directory {
	d.clock = clock
	return d
}

// WithLogger sets the logger. The default discards everything.
func (d *Directory) WithLogger(logger *zap.Logger) *Directory {
	if logger != nil {
		d.logger = logger
	}
	return d
}

// List returns the model listing, served from cache while it is younger
// than the TTL. forceRefresh bypasses the cache. A fetch failure
// propagates as-is; the directory never falls back to expired data.
func (d *Directory) List(ctx context.Context, forceRefresh bool) ([]openrouter.ModelInfo, error) {
	if !forceRefresh {
		d.mu.RLock()
		if d.fresh() {
			models := copyModels(d.cached)
			d.mu.RUnlock()
			return models, nil
		}
		d.mu.RUnlock()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if !forceRefresh && d.fresh() {
		return copyModels(d.cached), nil
	}

	models, err := d.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch models: %w", err)
	}

	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })

	d.cached = models
	d.fetchedAt = d.clock.Now()
	d.logger.Debug("model directory refreshed", zap.Int("models", len(models)))

	return copyModels(models), nil
}

// fresh reports whether the cache can serve reads. Callers hold the lock.
func (d *Directory) fresh() bool {
	return d.cached != nil && d.clock.Now().Before(d.fetchedAt.Add(d.ttl))
}

// Search returns models whose ID or display name contains the query,
// case-insensitively. An empty query returns the full listing.
func (d *Directory) Search(ctx context.Context, query string) ([]openrouter.ModelInfo, error) {
	models, err := d.List(ctx, false)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return models, nil
	}

	matches := make([]openrouter.ModelInfo, 0, len(models))
	for _, m := range models {
		if strings.Contains(strings.ToLower(m.ID), query) ||
			strings.Contains(strings.ToLower(m.Name), query) {
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// Find resolves a model reference to a directory entry: exact ID first,
// then a case-insensitive substring of ID or name. The first match in
// sorted ID order wins. Returns ErrModelNotFound when nothing matches.
func (d *Directory) Find(ctx context.Context, ref string) (openrouter.ModelInfo, error) {
	models, err := d.List(ctx, false)
	if err != nil {
		return openrouter.ModelInfo{}, err
	}

	for _, m := range models {
		if m.ID == ref {
			return m, nil
		}
	}

	lower := strings.ToLower(ref)
	for _, m := range models {
		if strings.Contains(strings.ToLower(m.ID), lower) ||
			strings.Contains(strings.ToLower(m.Name), lower) {
			return m, nil
		}
	}

	return openrouter.ModelInfo{}, fmt.Errorf("%w: %q", ErrModelNotFound, ref)
}

// ProviderGroup is one provider's slice of the model listing.
type ProviderGroup struct {
	// Provider is the raw ID prefix ("anthropic", "openai", "other").
	Provider string
	// Display is the Title-cased provider name for rendering.
	Display string
	Models  []openrouter.ModelInfo
}

// GroupByProvider returns the listing grouped by the model ID's provider
// prefix, providers in sorted order and models in sorted ID order within
// each group. Deterministic for a given cache state.
func (d *Directory) GroupByProvider(ctx context.Context) ([]ProviderGroup, error) {
	models, err := d.List(ctx, false)
	if err != nil {
		return nil, err
	}

	byProvider := make(map[string][]openrouter.ModelInfo)
	for _, m := range models {
		p := m.Provider()
		byProvider[p] = append(byProvider[p], m)
	}

	providers := make([]string, 0, len(byProvider))
	for p := range byProvider {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	titler := cases.Title(language.English)
	groups := make([]ProviderGroup, 0, len(providers))
	for _, p := range providers {
		groups = append(groups, ProviderGroup{
			Provider: p,
			Display:  titler.String(p),
			Models:   byProvider[p],
		})
	}
	return groups, nil
}

func copyModels(models []openrouter.ModelInfo) []openrouter.ModelInfo {
	out := make([]openrouter.ModelInfo, len(models))
	copy(out, models)
	return out
}
