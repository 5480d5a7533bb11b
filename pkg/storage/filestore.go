package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileVersion is the current version of the store file format.
const fileVersion = 1

// fileState is the on-disk representation of a FileStore.
type fileState struct {
	// Version is the file format version.
	Version int `json:"version"`

	// SavedAt is when the file was last written.
	SavedAt time.Time `json:"saved_at"`

	// Values holds the stored key-value pairs.
	Values map[string]string `json:"values,omitempty"`
}

// FileStore persists values to a JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file store backed by the given path.
// The file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// GetItem reads the value for key. A missing file or missing key reads as
// the empty string.
func (s *FileStore) GetItem(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return "", err
	}
	return state.Values[key], nil
}

// SetItem writes the value for key.
func (s *FileStore) SetItem(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	if state.Values == nil {
		state.Values = make(map[string]string)
	}
	state.Values[key] = value
	return s.save(state)
}

// RemoveItem deletes the value for key. Removing an absent key is a no-op.
func (s *FileStore) RemoveItem(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	if _, exists := state.Values[key]; !exists {
		return nil
	}
	delete(state.Values, key)
	return s.save(state)
}

// load reads the state file. A missing file yields an empty state.
func (s *FileStore) load() (*fileState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &fileState{}, nil
	}
	if err != nil {
		return nil, err
	}

	state := &fileState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *FileStore) save(state *fileState) error {
	// Ensure parent directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = fileVersion
	state.SavedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// Compile-time interface satisfaction check.
var _ Store = (*FileStore)(nil)
