package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Errors for API key store operations.
var (
	ErrAPIKeyNotFound      = errors.New("API key not found")
	ErrAPIKeyAlreadyExists = errors.New("API key already exists")
)

// Store defines the interface for API key persistence operations.
// Implementations must be safe for concurrent use (spec §3 ApiKey
// invariant: "persisted atomically").
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	GetByID(ctx context.Context, id string) (*APIKey, error)
	List(ctx context.Context) ([]*APIKey, error)
	Delete(ctx context.Context, id string) error
	UpdateLastUsed(ctx context.Context, id string) error

	// Validate finds the key whose hash matches token, if any, and is the
	// hot path exercised on every authenticated request.
	Validate(ctx context.Context, token string) (*APIKey, bool)
}

// FileStore is a Store backed by a single JSON file, rewritten atomically
// (write-temp-then-rename) on every mutation, matching spec §3's
// "persisted atomically" invariant for ApiKey.
type FileStore struct {
	path string
	mu   sync.RWMutex
	keys map[string]*APIKey
}

// NewFileStore loads (or initializes) the key file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, keys: map[string]*APIKey{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading key file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var keys []*APIKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("parsing key file: %w", err)
	}
	for _, k := range keys {
		s.keys[k.ID] = k
	}
	return nil
}

// persist must be called with s.mu held.
func (s *FileStore) persist() error {
	keys := make([]*APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		keys = append(keys, k)
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding keys: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".apikeys-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp key file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp key file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp key file: %w", err)
	}
	return nil
}

func (s *FileStore) Create(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.keys {
		if existing.Name == key.Name {
			return ErrAPIKeyAlreadyExists
		}
	}
	s.keys[key.ID] = key
	return s.persist()
}

func (s *FileStore) GetByID(_ context.Context, id string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, ErrAPIKeyNotFound
	}
	return k, nil
}

func (s *FileStore) List(_ context.Context) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	return out, nil
}

// Delete removes a key immediately; requests already past Validate when
// this runs are allowed to complete (spec §4.9 revocation semantics are
// enforced by the caller not re-validating mid-request).
func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return ErrAPIKeyNotFound
	}
	delete(s.keys, id)
	return s.persist()
}

func (s *FileStore) UpdateLastUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return ErrAPIKeyNotFound
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	return s.persist()
}

func (s *FileStore) Validate(_ context.Context, token string) (*APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Matches(token) {
			return k, true
		}
	}
	return nil, false
}

// Count returns the number of persisted keys, used to decide whether to
// bootstrap the initial admin key (spec §4.9).
func (s *FileStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
