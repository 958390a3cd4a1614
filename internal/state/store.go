// Package state persists small per-bot values as JSON files.
//
// Each bot owns exactly one Store and is the only writer of its file; the
// store mutex is the per-handler exclusive section that keeps a
// command-triggered mutation and a background-triggered mutation from
// interleaving. Missing or corrupt files are replaced by a caller-supplied
// default rather than surfaced as errors.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"git.home.luguber.info/inful/homehub/internal/logfields"
)

// Store holds one JSON-shaped value of type T for a named domain file.
type Store[T any] struct {
	path     string
	defaults func() T

	mu     sync.Mutex
	value  T
	loaded bool
}

// NewStore creates a store backed by path. The parent directory is created
// eagerly so the first Save cannot fail on a missing directory. defaults is
// invoked whenever the file is absent or unreadable.
func NewStore[T any](path string, defaults func() T) (*Store[T], error) {
	if defaults == nil {
		return nil, fmt.Errorf("defaults function is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store[T]{path: path, defaults: defaults}, nil
}

// View runs fn with the current value under the store lock.
func (s *Store[T]) View(fn func(v T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	fn(s.value)
}

// Update runs fn with a pointer to the current value under the store lock
// and persists the result when fn succeeds. An fn error aborts the save and
// leaves the in-memory value as fn left it only if it also returns nil; on
// error the previous value is restored.
func (s *Store[T]) Update(fn func(v *T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	prev := s.value
	if err := fn(&s.value); err != nil {
		s.value = prev
		return err
	}
	return s.saveLocked()
}

// Reload discards the in-memory value and re-reads the file on next access.
func (s *Store[T]) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
}

// Path returns the backing file path.
func (s *Store[T]) Path() string { return s.path }

func (s *Store[T]) ensureLoaded() {
	if s.loaded {
		return
	}
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("State file unreadable, starting from defaults",
				logfields.Path(s.path), logfields.Error(err))
		}
		s.value = s.defaults()
		return
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		slog.Warn("State file corrupt, starting from defaults",
			logfields.Path(s.path), logfields.Error(err))
		s.value = s.defaults()
		return
	}
	s.value = v
}

// saveLocked writes the value atomically via a temp file + rename.
func (s *Store[T]) saveLocked() error {
	data, err := json.MarshalIndent(s.value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temporary state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
