// Package profile persists what the companion remembers about its user.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Profile is the remembered user state.
type Profile struct {
	Name      string    `json:"name,omitempty"`
	LastTopic string    `json:"last_topic,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store loads and saves the single user profile. Load returns a zero Profile
// when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (Profile, error)
	Save(ctx context.Context, p Profile) error
}

// FileStore keeps the profile as a JSON file.
type FileStore struct {
	Path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

func (f *FileStore) Load(_ context.Context) (Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return Profile{}, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("profile: read: %w", err)
	}
	return decode(b)
}

func (f *FileStore) Save(_ context.Context, p Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := encode(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("profile: mkdir: %w", err)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("profile: write: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("profile: rename: %w", err)
	}
	return nil
}

// MemoryStore keeps the profile for the life of the process.
type MemoryStore struct {
	mu sync.Mutex
	p  Profile
}

func (m *MemoryStore) Load(context.Context) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.p, nil
}

func (m *MemoryStore) Save(_ context.Context, p Profile) error {
	m.mu.Lock()
	m.p = p
	m.mu.Unlock()
	return nil
}

func encode(p Profile) ([]byte, error) {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("profile: encode: %w", err)
	}
	return b, nil
}

func decode(b []byte) (Profile, error) {
	var p Profile
	if err := json.Unmarshal(b, &p); err != nil {
		return Profile{}, fmt.Errorf("profile: decode: %w", err)
	}
	return p, nil
}
