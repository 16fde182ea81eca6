// Package memory provides an in-process storage.Store. State survives only
// as long as the process.
package memory

import (
	"context"
	"sync"

	"github.com/cory-johannsen/omok/internal/storage"
)

// Store is a map-backed storage.Store. All methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{values: make(map[string][]byte)}
}

// Load returns a copy of the value under key, or storage.ErrNotFound.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Save stores a copy of value under key.
func (s *Store) Save(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
