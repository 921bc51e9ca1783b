package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// stateDocument is the on-disk shape of the persisted session list.
type stateDocument struct {
	Sessions []*Session `json:"sessions"`
}

// Store persists the session list as a single JSON document. Writes are
// atomic: marshal to a temp sibling, then rename over the target. A file
// lock serializes writers across processes; the mutex in Registry
// serializes them within one.
type Store struct {
	path string
	lock *flock.Flock
}

// NewStore creates a store for the given state file path.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".flock"),
	}
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes the session list. The target file is untouched if
// serialization fails.
func (s *Store) Save(sessions []*Session) error {
	if sessions == nil {
		sessions = []*Session{}
	}
	data, err := json.MarshalIndent(stateDocument{Sessions: sessions}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sessions: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("locking state file: %w", err)
	}
	defer s.lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// Load reads the session list, returning an empty list if the file does
// not exist.
func (s *Store) Load() ([]*Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	if doc.Sessions == nil {
		doc.Sessions = []*Session{}
	}
	return doc.Sessions, nil
}
