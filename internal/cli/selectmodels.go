// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// selectmodels.go - pure model selection, no interaction.

package cli

import (
	"strings"

	"github.com/morganforge/chorus/internal/engine"
)

// SelectMode controls how models are chosen from the session candidates
// when the user picked none explicitly.
type SelectMode int

const (
	// SelectAll fans out to every candidate. The default for ask and
	// chat: querying several models at once is the point.
	SelectAll SelectMode = iota

	// SelectFirst uses only the first candidate.
	SelectFirst

	// SelectExplicit requires explicit picks and ignores candidates.
	SelectExplicit
)

// SelectModels decides which models a turn targets. Explicit picks
// (repeated -m flags) always win; otherwise the mode is applied to the
// candidates resolved from the profile or config. The result is trimmed
// and deduplicated in first-seen order. An empty result is
// engine.ErrNoModelSelected.
func SelectModels(candidates []string, mode SelectMode, picks []string) ([]string, error) {
	chosen := normalizeModels(picks)
	if len(chosen) == 0 {
		switch mode {
		case SelectExplicit:
			// Nothing picked, nothing to fall back to.
		case SelectFirst:
			all := normalizeModels(candidates)
			if len(all) > 0 {
				chosen = all[:1]
			}
		default:
			chosen = normalizeModels(candidates)
		}
	}
	if len(chosen) == 0 {
		return nil, engine.ErrNoModelSelected
	}
	return chosen, nil
}

// normalizeModels trims, drops blanks, and deduplicates while keeping
// first-seen order.
func normalizeModels(models []string) []string {
	seen := make(map[string]bool, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
