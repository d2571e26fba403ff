// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

// Status is the lifecycle of one model's stream within a turn.
type Status int

const (
	// StatusIdle means the worker has not started its request yet.
	StatusIdle Status = iota
	// StatusWaiting means the request is open but no token has arrived.
	StatusWaiting
	// StatusResponding means at least one token has arrived.
	StatusResponding
	// StatusDone means the stream ended cleanly.
	StatusDone
	// StatusError means the stream failed.
	StatusError
	// StatusInterrupted means the turn was canceled before the stream ended.
	StatusInterrupted
)

// String returns the lowercase display name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusWaiting:
		return "waiting"
	case StatusResponding:
		return "responding"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	case StatusInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusInterrupted:
		return true
	default:
		return false
	}
}
