// Package memory provides an in-memory kvstore implementation for tests and
// local development.
package memory

import (
	"context"
	"sync"

	"github.com/bissquit/notifyq/internal/kvstore"
)

var _ kvstore.Store = (*Store)(nil)

// Store implements kvstore.Store with plain maps guarded by a mutex.
type Store struct {
	mu     sync.RWMutex
	scopes map[string]map[string]string
	closed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		scopes: make(map[string]map[string]string),
	}
}

// Get returns the value for a key.
func (s *Store) Get(_ context.Context, scope, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", kvstore.ErrClosed
	}

	val, ok := s.scopes[scope][key]
	if !ok {
		return "", kvstore.ErrNotFound
	}
	return val, nil
}

// GetMany returns the values for the given keys, omitting absent ones.
func (s *Store) GetMany(_ context.Context, scope string, keys []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, kvstore.ErrClosed
	}

	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := s.scopes[scope][key]; ok {
			result[key] = val
		}
	}
	return result, nil
}

// SetMany writes all given key-value pairs.
func (s *Store) SetMany(_ context.Context, scope string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kvstore.ErrClosed
	}

	bucket, ok := s.scopes[scope]
	if !ok {
		bucket = make(map[string]string, len(values))
		s.scopes[scope] = bucket
	}
	for key, val := range values {
		bucket[key] = val
	}
	return nil
}

// Update applies fn to the current value under the write lock, so concurrent
// updates of the same key are fully serialized.
func (s *Store) Update(_ context.Context, scope, key string, fn kvstore.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kvstore.ErrClosed
	}

	current, found := s.scopes[scope][key]
	next, err := fn(current, found)
	if err != nil {
		return err
	}

	bucket, ok := s.scopes[scope]
	if !ok {
		bucket = make(map[string]string)
		s.scopes[scope] = bucket
	}
	bucket[key] = next
	return nil
}

// Close marks the store closed. Subsequent calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
