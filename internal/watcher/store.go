package watcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ErrStateUnavailable indicates the backing state file could not be read,
// parsed, or written. A run cannot proceed without a trustworthy baseline,
// so callers treat it as fatal for the whole run.
var ErrStateUnavailable = errors.New("watcher: state unavailable")

// StateStore abstracts persistence of the watcher state.
type StateStore interface {
	Load() (*State, error)
	Save(state *State) error
}

// FileStore persists the state as a JSON file. Saves replace the file
// atomically via a temp file and rename, so a failed write never corrupts
// the previous valid state.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore wires a file-backed state store.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.With().Str("component", "state_store").Logger(),
	}
}

// Path returns the backing file location.
func (s *FileStore) Path() string {
	return s.path
}

// Exists reports whether a state file is already present.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads and parses the state file. On failure it returns a default
// state alongside the error, so callers can still inspect the defaults.
func (s *FileStore) Load() (*State, error) {
	state := NewState()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return state, fmt.Errorf("%w: read %s: %v", ErrStateUnavailable, s.path, err)
	}
	if err := json.Unmarshal(raw, state); err != nil {
		return state, fmt.Errorf("%w: parse %s: %v", ErrStateUnavailable, s.path, err)
	}
	if state.URLs == nil {
		state.URLs = make(map[string]*Entry)
	}
	return state, nil
}

// Save writes the state file. Called at most once per run, after all
// input updates.
func (s *FileStore) Save(state *State) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode state: %v", ErrStateUnavailable, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrStateUnavailable, dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrStateUnavailable, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write temp file: %v", ErrStateUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp file: %v", ErrStateUnavailable, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace %s: %v", ErrStateUnavailable, s.path, err)
	}

	s.logger.Debug().Str("path", s.path).Int("inputs", len(state.URLs)).Msg("state saved")
	return nil
}

var _ StateStore = (*FileStore)(nil)
