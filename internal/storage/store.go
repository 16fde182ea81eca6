// Package storage defines the durable key-value slot each game instance
// persists its state into, and the helpers instances use to save and restore.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned by Store.Load when the key has never been saved or was deleted.
var ErrNotFound = errors.New("state not found")

// Store is a durable key-value store. Values are opaque JSON documents.
type Store interface {
	// Load returns the value saved under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save replaces the value stored under key.
	Save(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases the store's resources.
	Close() error
}

// DirectoryKey is the slot key of the directory singleton.
const DirectoryKey = "directory"

// SessionKey returns the slot key of the game session with the given id.
func SessionKey(sessionID string) string {
	return "session/" + sessionID
}

// Slot binds one instance to its key. Failures are logged and swallowed:
// in-memory state stays authoritative for the life of the process.
type Slot struct {
	store   Store
	key     string
	timeout time.Duration
	logger  *zap.Logger
}

// NewSlot creates a Slot for key in store. Each store call is bounded by timeout.
//
// Precondition: store and logger must be non-nil; timeout > 0.
func NewSlot(store Store, key string, timeout time.Duration, logger *zap.Logger) *Slot {
	return &Slot{store: store, key: key, timeout: timeout, logger: logger}
}

// Key returns the slot's key.
func (s *Slot) Key() string {
	return s.key
}

// Restore decodes the saved value into v.
//
// Postcondition: Returns true iff a saved value existed and decoded cleanly.
// v may be partially written when decoding fails.
func (s *Slot) Restore(v any) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	data, err := s.store.Load(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("no saved state", zap.String("key", s.key))
		return false
	}
	if err != nil {
		s.logger.Warn("loading state", zap.String("key", s.key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("decoding state", zap.String("key", s.key), zap.Error(err))
		return false
	}
	s.logger.Debug("state restored", zap.String("key", s.key), zap.Int("bytes", len(data)))
	return true
}

// Persist encodes v and saves it.
func (s *Slot) Persist(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encoding state", zap.String("key", s.key), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.store.Save(ctx, s.key, data); err != nil {
		s.logger.Warn("saving state", zap.String("key", s.key), zap.Error(err))
	}
}

// Clear deletes the saved value.
func (s *Slot) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.store.Delete(ctx, s.key); err != nil {
		s.logger.Warn("deleting state", zap.String("key", s.key), zap.Error(err))
	}
}
