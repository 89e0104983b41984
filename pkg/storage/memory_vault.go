package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryKeyStore is an in-memory implementation of KeyStore.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewMemoryKeyStore creates a new in-memory key store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		keys: make(map[string]string),
	}
}

// StoreKey saves value under name, replacing any previous value.
func (s *MemoryKeyStore) StoreKey(_ context.Context, name, value string) error {
	if name == "" {
		return fmt.Errorf("key name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[name] = value
	return nil
}

// GetKey retrieves the value stored under name.
func (s *MemoryKeyStore) GetKey(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.keys[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, name)
	}
	return value, nil
}

// RemoveKey deletes name. Removing an unknown name is not an error.
func (s *MemoryKeyStore) RemoveKey(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.keys, name)
	return nil
}

// ClearStorage removes every key.
func (s *MemoryKeyStore) ClearStorage(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.keys)
	return nil
}
