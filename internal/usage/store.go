// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package usage records per-model turn outcomes in a local SQLite ledger.
package usage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// Record is one model's outcome within one turn.
type Record struct {
	TurnID           string
	Profile          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TTFT             time.Duration
	Duration         time.Duration

	// Error holds the failure text, empty when the model answered.
	Error string

	CreatedAt time.Time
}

// ModelSummary aggregates a model's ledger rows.
type ModelSummary struct {
	Model            string
	Turns            int
	PromptTokens     int
	CompletionTokens int

	// AvgTTFT averages time to first token over successful turns.
	AvgTTFT time.Duration

	Errors int
}

// ErrorRate returns the fraction of turns that failed.
func (m ModelSummary) ErrorRate() float64 {
	if m.Turns == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.Turns)
}

// Recorder is the narrow interface the engine reports turn results
// through. The zero recorder is a nil interface; recording is optional.
type Recorder interface {
	RecordTurn(records []Record) error
}

// migrations run in order; PRAGMA user_version tracks how many have been
// applied.
var migrations = []string{
	`CREATE TABLE turns (
		id INTEGER PRIMARY KEY,
		turn_id TEXT NOT NULL,
		profile TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		ttft_ms INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX idx_turns_model ON turns(model);
	CREATE INDEX idx_turns_turn ON turns(turn_id);`,
}

// Store is the SQLite-backed usage ledger.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the ledger database at path and applies pending
// migrations. Pass ":memory:" for an in-memory database (used by tests).
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create usage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping usage db: %w", err)
	}

	// Single connection avoids "database is locked" under the pure-Go
	// driver; the busy timeout covers the rest.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}

	s := &Store{db: db, logger: zap.NewNop()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage db: %w", err)
	}
	return s, nil
}

// WithLogger sets the logger and returns the store for chaining.
func (s *Store) WithLogger(logger *zap.Logger) *Store {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies any migrations past the stored user_version, each in
// its own transaction.
func (s *Store) migrate() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		// PRAGMA does not take bound parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

// schemaVersion reads the applied migration count.
func (s *Store) schemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// RecordTurn inserts one row per record in a single transaction.
func (s *Store) RecordTurn(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin usage insert: %w", err)
	}
	for _, r := range records {
		created := r.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := tx.Exec(`
			INSERT INTO turns (turn_id, profile, model, prompt_tokens, completion_tokens, ttft_ms, duration_ms, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.TurnID, r.Profile, r.Model, r.PromptTokens, r.CompletionTokens,
			r.TTFT.Milliseconds(), r.Duration.Milliseconds(), r.Error,
			created.UTC().Format(time.RFC3339Nano),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert usage row: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns the most recently recorded rows, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT turn_id, profile, model, prompt_tokens, completion_tokens, ttft_ms, duration_ms, error, created_at
		FROM turns ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent usage: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var r Record
		var ttftMs, durationMs int64
		var createdAt string
		if err := rows.Scan(&r.TurnID, &r.Profile, &r.Model, &r.PromptTokens, &r.CompletionTokens,
			&ttftMs, &durationMs, &r.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		r.TTFT = time.Duration(ttftMs) * time.Millisecond
		r.Duration = time.Duration(durationMs) * time.Millisecond
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

// Summary aggregates the ledger per model, busiest models first.
func (s *Store) Summary() ([]ModelSummary, error) {
	rows, err := s.db.Query(`
		SELECT model,
		       COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(AVG(CASE WHEN error = '' AND ttft_ms > 0 THEN ttft_ms END), 0),
		       COALESCE(SUM(CASE WHEN error != '' THEN 1 ELSE 0 END), 0)
		FROM turns
		GROUP BY model
		ORDER BY COUNT(*) DESC, model ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	defer rows.Close()

	var results []ModelSummary
	for rows.Next() {
		var m ModelSummary
		var avgTTFTMs float64
		if err := rows.Scan(&m.Model, &m.Turns, &m.PromptTokens, &m.CompletionTokens, &avgTTFTMs, &m.Errors); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		m.AvgTTFT = time.Duration(avgTTFTMs * float64(time.Millisecond))
		results = append(results, m)
	}
	return results, rows.Err()
}
