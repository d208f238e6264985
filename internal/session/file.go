package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// FileStore persists a session to a JSON file with mode 0600.
type FileStore struct {
	Path string
}

// Save writes the session to disk.
func (f FileStore) Save(s Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0600)
}

// Load reads a previously saved session.
// Returns the absent session and no error if nothing was saved.
func (f FileStore) Load() (Session, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, nil
		}
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("invalid %s: %w", f.Path, err)
	}
	return s, nil
}

// Remove deletes the saved session. Removing a missing file is not an error.
func (f FileStore) Remove() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Exists reports whether a saved session file is present.
func (f FileStore) Exists() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}
