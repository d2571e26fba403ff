// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/morganforge/chorus/internal/util"
)

// ErrProfileNotFound is returned when a named profile does not exist.
var ErrProfileNotFound = errors.New("profile not found")

// Store persists named profiles in a single JSON file.
type Store struct {
	path   string
	logger *zap.Logger

	mu          sync.RWMutex
	profiles    map[string]Profile
	defaultName string
}

// storeFile is the on-disk layout.
type storeFile struct {
	Default  string             `json:"default,omitempty"`
	Profiles map[string]Profile `json:"profiles"`
}

// NewStore opens the profile store at path, loading it when the file
// exists. A missing file is an empty store, not an error.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:     path,
		logger:   zap.NewNop(),
		profiles: make(map[string]Profile),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithLogger sets the logger. The default discards everything.
func (s *Store) WithLogger(logger *zap.Logger) *Store {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Path returns the store's file path.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the store file, replacing in-memory state. Called at
// construction and by the file watcher when the file changes externally.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.profiles = make(map[string]Profile)
			s.defaultName = ""
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read profiles: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode profiles: %w", err)
	}
	if file.Profiles == nil {
		file.Profiles = make(map[string]Profile)
	}

	s.mu.Lock()
	s.profiles = file.Profiles
	s.defaultName = file.Default
	s.mu.Unlock()
	return nil
}

// persist writes the current state atomically. Callers hold the lock.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(storeFile{
		Default:  s.defaultName,
		Profiles: s.profiles,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	if err := util.AtomicWriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	return nil
}

// Save validates and stores a profile under its name, creating or
// replacing it.
func (s *Store) Save(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.Name] = p
	if err := s.persist(); err != nil {
		return err
	}
	s.logger.Debug("profile saved", zap.String("name", p.Name))
	return nil
}

// Get returns the named profile.
func (s *Store) Get(name string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return p, nil
}

// Delete removes the named profile. Deleting the default profile clears
// the default pointer.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[name]; !ok {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	delete(s.profiles, name)
	if s.defaultName == name {
		s.defaultName = ""
	}
	return s.persist()
}

// Rename changes a profile's name, refusing to overwrite an existing one.
// The default pointer follows.
func (s *Store) Rename(oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[oldName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, oldName)
	}
	if _, exists := s.profiles[newName]; exists {
		return fmt.Errorf("profile %q already exists", newName)
	}

	p.Name = newName
	delete(s.profiles, oldName)
	s.profiles[newName] = p
	if s.defaultName == oldName {
		s.defaultName = newName
	}
	return s.persist()
}

// List returns all profiles sorted by name.
func (s *Store) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetDefault marks an existing profile as the one Resolve("") returns.
func (s *Store) SetDefault(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[name]; !ok {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	s.defaultName = name
	return s.persist()
}

// DefaultName returns the name of the default profile, empty if unset.
func (s *Store) DefaultName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultName
}

// Resolve returns the session configuration for the named profile; an
// empty name resolves the default profile. The result is a deep copy the
// session owns.
func (s *Store) Resolve(name string) (Resolved, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if name == "" {
		if s.defaultName == "" {
			return Resolved{}, fmt.Errorf("%w: no default profile set", ErrProfileNotFound)
		}
		name = s.defaultName
	}

	p, ok := s.profiles[name]
	if !ok {
		return Resolved{}, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return p.resolved(), nil
}
