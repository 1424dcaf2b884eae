package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parley-chat/backend/internal/models"
)

// Keys under which the minimal profiles are persisted.
const (
	PrimaryProfileKey   = "currentUser"
	SpectatorProfileKey = "spectatorUser"
)

// ProfileStore is durable client storage for minimal profiles.
type ProfileStore interface {
	Load(key string) (*models.Profile, error)
	Save(key string, p *models.Profile) error
	Clear(key string) error
}

// MemoryProfileStore keeps profiles in process memory.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
}

// NewMemoryProfileStore creates an empty MemoryProfileStore.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]models.Profile)}
}

// Load returns the profile saved under key, or nil when there is none.
func (s *MemoryProfileStore) Load(key string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Save stores p under key. A nil profile clears the key.
func (s *MemoryProfileStore) Save(key string, p *models.Profile) error {
	if p == nil {
		return s.Clear(key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[key] = *p
	return nil
}

// Clear removes the profile saved under key.
func (s *MemoryProfileStore) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, key)
	return nil
}

// FileProfileStore keeps profiles in a single JSON file, one entry per
// key. Writes go through a temp file and rename.
type FileProfileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileProfileStore creates a store backed by path.
func NewFileProfileStore(path string) *FileProfileStore {
	return &FileProfileStore{path: path}
}

// Load returns the profile saved under key, or nil when there is none.
func (s *FileProfileStore) Load(key string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.read()
	if err != nil {
		return nil, err
	}
	p, ok := all[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Save stores p under key. A nil profile clears the key.
func (s *FileProfileStore) Save(key string, p *models.Profile) error {
	if p == nil {
		return s.Clear(key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.read()
	if err != nil {
		return err
	}
	all[key] = *p
	return s.write(all)
}

// Clear removes the profile saved under key.
func (s *FileProfileStore) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := all[key]; !ok {
		return nil
	}
	delete(all, key)
	return s.write(all)
}

func (s *FileProfileStore) read() (map[string]models.Profile, error) {
	all := make(map[string]models.Profile)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile store: %w", err)
	}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to parse profile store: %w", err)
	}
	return all, nil
}

func (s *FileProfileStore) write(all map[string]models.Profile) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profile store: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create profile directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write profile store: %w", err)
	}
	return os.Rename(tmp, s.path)
}
