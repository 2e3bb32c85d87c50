// Package blob stores tutorial bodies outside the database. The metadata
// row keeps only the returned URL. Object-store backends are deployed
// externally; the filesystem and memory stores here cover development and
// tests.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when a key has no stored body.
var ErrNotFound = errors.New("blob: not found")

// Store writes and reads content bodies by key.
type Store interface {
	// Put stores body under key and returns a URL that resolves to it.
	// Writing an existing key replaces the body.
	Put(ctx context.Context, key string, body []byte) (string, error)

	// Get reads the body stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// TutorialKey builds the canonical storage key for a tutorial version.
func TutorialKey(roadmapID, conceptID, tutorialID string) string {
	return fmt.Sprintf("tutorials/%s/%s/%s.md", roadmapID, conceptID, tutorialID)
}

// FSStore stores bodies under a root directory. URLs use the file scheme.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem store rooted at dir.
func NewFSStore(dir string) *FSStore {
	return &FSStore{root: dir}
}

// Put implements Store.
func (s *FSStore) Put(ctx context.Context, key string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validKey(key); err != nil {
		return "", err
	}

	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("blob: mkdir for %s: %w", key, err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("blob: write %s: %w", key, err)
	}
	return "file://" + path, nil
}

// Get implements Store.
func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validKey(key); err != nil {
		return nil, err
	}

	body, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob: %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", key, err)
	}
	return body, nil
}

func validKey(key string) error {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return fmt.Errorf("blob: invalid key %q", key)
	}
	return nil
}

// MemStore is an in-memory store for tests.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string][]byte)}
}

// Put implements Store.
func (s *MemStore) Put(ctx context.Context, key string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validKey(key); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(body))
	copy(stored, body)
	s.blobs[key] = stored
	return "mem://" + key, nil
}

// Get implements Store.
func (s *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob: %s: %w", key, ErrNotFound)
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

// Len returns the number of stored bodies.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
