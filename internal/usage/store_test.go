// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")

	s1, err := Open(path)
	require.NoError(t, err)
	v1, err := s1.schemaVersion()
	require.NoError(t, err)
	require.Equal(t, len(migrations), v1)
	require.NoError(t, s1.Close())

	// Reopening must not re-apply migrations.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	v2, err := s2.schemaVersion()
	require.NoError(t, err)
	require.Equal(t, v1, v2)
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordTurn([]Record{
		{TurnID: "t1", Profile: "default", Model: "model-a", PromptTokens: 10, CompletionTokens: 40, TTFT: 150 * time.Millisecond, Duration: 2 * time.Second},
		{TurnID: "t1", Profile: "default", Model: "model-b", Error: "interrupted"},
	}))
	require.NoError(t, s.RecordTurn([]Record{
		{TurnID: "t2", Profile: "default", Model: "model-a", PromptTokens: 20, CompletionTokens: 60, TTFT: 250 * time.Millisecond, Duration: 3 * time.Second},
	}))

	recent, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	// Newest insert first.
	require.Equal(t, "t2", recent[0].TurnID)
	require.Equal(t, "model-a", recent[0].Model)
	require.Equal(t, 250*time.Millisecond, recent[0].TTFT)
	require.Equal(t, 3*time.Second, recent[0].Duration)
	require.False(t, recent[0].CreatedAt.IsZero())

	require.Equal(t, "model-b", recent[1].Model)
	require.Equal(t, "interrupted", recent[1].Error)
}

func TestRecentLimit(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordTurn([]Record{{TurnID: "t", Model: "m"}}))
	}

	recent, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}

func TestRecordEmptyIsNoop(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordTurn(nil))

	recent, err := s.Recent(10)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestSummary(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordTurn([]Record{
		{TurnID: "t1", Model: "model-a", PromptTokens: 10, CompletionTokens: 100, TTFT: 100 * time.Millisecond},
		{TurnID: "t1", Model: "model-b", PromptTokens: 10, CompletionTokens: 50, TTFT: 400 * time.Millisecond},
	}))
	require.NoError(t, s.RecordTurn([]Record{
		{TurnID: "t2", Model: "model-a", Error: "api error 500"},
	}))

	summary, err := s.Summary()
	require.NoError(t, err)
	require.Len(t, summary, 2)

	// model-a has more turns and sorts first.
	a := summary[0]
	require.Equal(t, "model-a", a.Model)
	require.Equal(t, 2, a.Turns)
	require.Equal(t, 10, a.PromptTokens)
	require.Equal(t, 100, a.CompletionTokens)
	require.Equal(t, 1, a.Errors)
	require.InDelta(t, 0.5, a.ErrorRate(), 1e-9)
	// The failed turn contributes no TTFT sample.
	require.Equal(t, 100*time.Millisecond, a.AvgTTFT)

	b := summary[1]
	require.Equal(t, "model-b", b.Model)
	require.Equal(t, 1, b.Turns)
	require.Equal(t, 0, b.Errors)
	require.Equal(t, 400*time.Millisecond, b.AvgTTFT)
}

func TestSummaryEmpty(t *testing.T) {
	s := openTestStore(t)

	summary, err := s.Summary()
	require.NoError(t, err)
	require.Empty(t, summary)
}
