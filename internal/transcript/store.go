// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript persists conversations under the chorus home
// directory.
//
// Each transcript is one file holding a newline-free JSON array of
// messages, the same shape import and export tools consume. Everything a
// listing shows (preview, models, timestamps) is derived from the file
// itself, so any well-formed message array dropped into the directory is a
// loadable transcript.
package transcript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/morganforge/chorus/internal/conversation"
	"github.com/morganforge/chorus/internal/util"
)

// ErrTranscriptNotFound is returned when a transcript does not exist.
var ErrTranscriptNotFound = errors.New("transcript not found")

// defaultLimit caps stored transcripts; the oldest are pruned past it.
const defaultLimit = 100

// Transcript is one saved conversation plus metadata derived from its
// file: the ID is the filename stem and SavedAt is the file mtime.
type Transcript struct {
	ID       string
	Messages []conversation.Message
	SavedAt  time.Time
}

// Preview returns the first user message truncated for listings.
func (t *Transcript) Preview(maxRunes int) string {
	for _, msg := range t.Messages {
		if msg.Role == conversation.RoleUser && msg.Content != "" {
			return msg.Preview(maxRunes)
		}
	}
	return "(no prompt)"
}

// Models returns the distinct models that answered, in first-seen order.
func (t *Transcript) Models() []string {
	seen := make(map[string]bool)
	var models []string
	for _, msg := range t.Messages {
		if msg.Role != conversation.RoleAssistant || seen[msg.Model] {
			continue
		}
		seen[msg.Model] = true
		models = append(models, msg.Model)
	}
	return models
}

// MessageCount returns the number of messages.
func (t *Transcript) MessageCount() int {
	return len(t.Messages)
}

// Store persists transcripts as one JSON file each under a base
// directory.
type Store struct {
	baseDir string
	limit   int
	logger  *zap.Logger

	mu sync.Mutex
}

// NewStore creates a store rooted at baseDir, creating the directory if
// needed.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &Store{
		baseDir: baseDir,
		limit:   defaultLimit,
		logger:  zap.NewNop(),
	}, nil
}

// WithLogger sets the logger and returns the store for chaining.
func (s *Store) WithLogger(logger *zap.Logger) *Store {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithLimit sets the maximum number of stored transcripts. Zero disables
// pruning.
func (s *Store) WithLimit(n int) *Store {
	s.limit = n
	return s
}

// Save writes messages as one transcript file. An empty id generates a
// fresh one; passing an existing id overwrites that transcript. The id
// actually used is returned on the Transcript, sanitized for use as a
// filename.
func (s *Store) Save(id string, msgs []conversation.Message) (*Transcript, error) {
	if len(msgs) == 0 {
		return nil, errors.New("nothing to save: transcript is empty")
	}
	if id == "" {
		id = newTranscriptID()
	} else {
		id = util.SanitizeFilename(id)
	}

	data, err := marshalMessages(msgs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := util.AtomicWriteFile(s.filePath(id), data, 0o644); err != nil {
		return nil, fmt.Errorf("write transcript %q: %w", id, err)
	}
	if s.limit > 0 {
		s.prune()
	}

	saved := make([]conversation.Message, len(msgs))
	copy(saved, msgs)
	return &Transcript{ID: id, Messages: saved, SavedAt: time.Now()}, nil
}

// Load retrieves a transcript by id.
func (s *Store) Load(id string) (*Transcript, error) {
	return s.load(util.SanitizeFilename(id))
}

// LoadByIndex retrieves a transcript by its position in the listing,
// where 1 is the most recent.
func (s *Store) LoadByIndex(index int) (*Transcript, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	if index < 1 || index > len(all) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrTranscriptNotFound, index, len(all))
	}
	return all[index-1], nil
}

// List returns all transcripts, most recent first. Files that cannot be
// parsed are skipped with a warning rather than failing the listing.
func (s *Store) List() ([]*Transcript, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list transcripts: %w", err)
	}

	var all []*Transcript
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		t, err := s.load(id)
		if err != nil {
			s.logger.Warn("skipping unreadable transcript",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		all = append(all, t)
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].SavedAt.Equal(all[j].SavedAt) {
			return all[i].SavedAt.After(all[j].SavedAt)
		}
		return all[i].ID < all[j].ID
	})
	return all, nil
}

// Search returns transcripts whose preview or message content contains
// the query, case-insensitively, most recent first.
func (s *Store) Search(query string) ([]*Transcript, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var results []*Transcript
	for _, t := range all {
		if transcriptMatches(t, query) {
			results = append(results, t)
		}
	}
	return results, nil
}

// Delete removes a transcript by id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(util.SanitizeFilename(id))
}

// Clear removes every stored transcript, collecting individual failures
// so one bad file does not stop the sweep.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("clear transcripts: %w", err)
	}

	var result *multierror.Error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.baseDir, entry.Name())); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove %s: %w", entry.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

// load reads and parses one transcript file. Callers pass an already
// sanitized id.
func (s *Store) load(id string) (*Transcript, error) {
	path := s.filePath(id)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrTranscriptNotFound, id)
		}
		return nil, fmt.Errorf("stat transcript %q: %w", id, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript %q: %w", id, err)
	}
	msgs, err := unmarshalMessages(data)
	if err != nil {
		return nil, fmt.Errorf("transcript %q: %w", id, err)
	}

	return &Transcript{ID: id, Messages: msgs, SavedAt: info.ModTime()}, nil
}

// remove deletes one transcript file. Caller holds s.mu.
func (s *Store) remove(id string) error {
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q", ErrTranscriptNotFound, id)
		}
		return fmt.Errorf("delete transcript %q: %w", id, err)
	}
	return nil
}

// prune removes the oldest transcripts past the store limit. Caller
// holds s.mu.
func (s *Store) prune() {
	all, err := s.List()
	if err != nil || len(all) <= s.limit {
		return
	}

	// List is most recent first; everything past the limit goes.
	for _, t := range all[s.limit:] {
		if err := s.remove(t.ID); err != nil {
			s.logger.Warn("pruning transcript failed",
				zap.String("id", t.ID),
				zap.Error(err))
			continue
		}
		s.logger.Debug("pruned old transcript", zap.String("id", t.ID))
	}
}

func (s *Store) filePath(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

func transcriptMatches(t *Transcript, lowerQuery string) bool {
	for _, msg := range t.Messages {
		if strings.Contains(strings.ToLower(msg.Content), lowerQuery) {
			return true
		}
	}
	return false
}

func newTranscriptID() string {
	return "chat_" + uuid.NewString()
}
