// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gitdiff extracts unified diffs from a local repository so they
// can be embedded in review prompts.
package gitdiff

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrNotGitRepo is returned when dir is not inside a git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrNoChanges is returned when the diff comes back empty.
	ErrNoChanges = errors.New("no changes to diff")
)

// gitTimeout bounds git operations when the caller sets no deadline.
const gitTimeout = 10 * time.Second

// maxDiffBytes caps how much diff text is returned. Past it the diff is
// cut at a line boundary and marked; a prompt that large would blow the
// context window anyway.
const maxDiffBytes = 256 << 10

// Extract runs `git diff` with the given extra arguments in dir and
// returns the unified diff text, truncated past maxDiffBytes.
func Extract(ctx context.Context, dir string, args ...string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, gitTimeout)
		defer cancel()
	}

	if !isGitRepo(ctx, dir) {
		return "", ErrNotGitRepo
	}

	cmd := exec.CommandContext(ctx, "git", append([]string{"diff"}, args...)...)
	cmd.Dir = dir

	output, err := cmd.Output()
	if err != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("git diff: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git diff: %w", err)
	}

	text := strings.TrimSpace(string(output))
	if text == "" {
		return "", ErrNoChanges
	}
	return truncateDiff(text, maxDiffBytes), nil
}

// isGitRepo checks whether dir is inside a git repository.
func isGitRepo(ctx context.Context, dir string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-dir")
	cmd.Dir = dir
	return cmd.Run() == nil
}

// truncateDiff cuts the diff at the last full line under max and marks
// the cut.
func truncateDiff(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := strings.LastIndexByte(text[:max], '\n')
	if cut <= 0 {
		cut = max
	}
	return text[:cut] + "\n[diff truncated]"
}
