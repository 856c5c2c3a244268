// Package identity manages the persistent device identifier and request signatures.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// StorageKey names the device identifier entry in every store.
const StorageKey = "wiinvent-viewer-id"

// ErrNotFound reports that no device identifier has been stored yet.
var ErrNotFound = errors.New("device id not found")

// Store persists a single device identifier under a key.
type Store interface {
	Load(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, deviceID string) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps identifiers in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Save(_ context.Context, key, deviceID string) error {
	s.mu.Lock()
	s.values[key] = deviceID
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}

// FileStore persists identifiers as a JSON object on disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store writing to path. Parent directories are created on save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: filepath.Clean(strings.TrimSpace(path))}
}

func (s *FileStore) Load(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.read()
	if err != nil {
		return "", err
	}
	v, ok := entries[key]
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Save(_ context.Context, key, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.read()
	if err != nil {
		return err
	}
	entries[key] = deviceID
	return s.write(entries)
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return s.write(entries)
}

func (s *FileStore) read() (map[string]string, error) {
	raw, err := os.ReadFile(s.path) // #nosec G304 -- path is operator controlled.
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	entries := make(map[string]string)
	if len(strings.TrimSpace(string(raw))) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode identity file: %w", err)
	}
	return entries, nil
}

func (s *FileStore) write(entries map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode identity file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace identity file: %w", err)
	}
	return nil
}
