// Package memory stores cached archives in-memory for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/fre-lookup/internal/lookup"
)

// BlobStore keeps archive bytes in a map guarded by a RWMutex.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ lookup.BlobCache = (*BlobStore)(nil)

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data: make(map[string][]byte),
	}
}

// Get returns a copy of the stored bytes.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// Put stores a private copy of data, replacing any previous value.
func (s *BlobStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = append([]byte(nil), data...)
	return nil
}

// Keys lists stored keys in lexical order.
func (s *BlobStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Purge drops every entry.
func (s *BlobStore) Purge(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string][]byte)
	return nil
}
