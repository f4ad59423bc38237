package models

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SlotName is the single snapshot file kept under the save directory.
const SlotName = "session.yaml"

// Store reads and writes the one named session slot. Each Save
// overwrites the whole snapshot.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (st *Store) path() string {
	return filepath.Join(st.dir, SlotName)
}

// Save writes the full session to the slot. Sessions with no tasks are
// never persisted; restoring one would put the machine in an
// unrepresentable state.
func (st *Store) Save(s *Session) error {
	if len(s.Tasks) == 0 {
		return fmt.Errorf("refusing to persist session with no tasks")
	}
	if err := os.MkdirAll(st.dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(st.path(), data, 0644)
}

// Load reads the slot. A missing slot is not an error: it returns
// (nil, nil). Malformed content returns an error for the caller to log;
// either way the caller treats it as "no saved session".
func (st *Store) Load() (*Session, error) {
	data, err := os.ReadFile(st.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode saved session: %w", err)
	}
	if len(s.Tasks) == 0 {
		return nil, nil
	}
	return &s, nil
}

// Clear removes the slot. Clearing an absent slot is a no-op.
func (st *Store) Clear() error {
	err := os.Remove(st.path())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
