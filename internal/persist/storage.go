// Package persist keeps whitelisted client state slices in durable key/value
// storage under a single root key.
package persist

import (
	"context"
	"errors"
	"sync"
)

// ErrKeyNotFound is returned by GetItem when nothing is stored under a key.
var ErrKeyNotFound = errors.New("persist: key not found")

// ErrCorruptRoot is returned by Rehydrate when the root document is not
// valid JSON.
var ErrCorruptRoot = errors.New("persist: corrupt root document")

// Storage is a string key/value store with the shape of browser localStorage.
type Storage interface {
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// MemoryStorage keeps items in process memory. It is the default for tests
// and single-process development.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string)}
}

func (s *MemoryStorage) GetItem(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (s *MemoryStorage) SetItem(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) RemoveItem(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Len reports how many keys are stored.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
