package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marcusd/internal/errs"
)

// MemoryStore is the in-memory backend used by tests and the memory
// persistence mode. Insertion order is preserved per collection.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]*memCollection
}

type memCollection struct {
	mu    sync.RWMutex
	byKey map[string]*Record
	order []string // keys in first-insertion order
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) collection(name string) *memCollection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &memCollection{byKey: make(map[string]*Record)}
		s.collections[name] = c
	}
	return c
}

// Store upserts a value, stamping _stored_at
func (s *MemoryStore) Store(ctx context.Context, collection, key string, value interface{}) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	c := s.collection(collection)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byKey[key]; !exists {
		c.order = append(c.order, key)
	}
	c.byKey[key] = &Record{Key: key, StoredAt: time.Now().UTC(), Data: data}
	return nil
}

// Retrieve loads a value by key
func (s *MemoryStore) Retrieve(ctx context.Context, collection, key string, out interface{}) error {
	c := s.collection(collection)
	c.mu.RLock()
	rec, ok := c.byKey[key]
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("retrieve %s/%s: %w", collection, key, errs.ErrNotFound)
	}
	return rec.Decode(out)
}

// Query returns filtered records in insertion order
func (s *MemoryStore) Query(ctx context.Context, collection string, filter FilterFunc, limit, offset int) ([]Record, error) {
	c := s.collection(collection)
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matched []Record
	for _, key := range c.order {
		rec, ok := c.byKey[key]
		if !ok {
			continue
		}
		if filter == nil || filter(*rec) {
			matched = append(matched, *rec)
		}
	}
	return window(matched, limit, offset), nil
}

// Delete removes a key; missing keys are not an error
func (s *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	c := s.collection(collection)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byKey[key]; !ok {
		return nil
	}
	delete(c.byKey, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// ClearOld removes entries stored before the threshold
func (s *MemoryStore) ClearOld(ctx context.Context, collection string, olderThan time.Time) (int, error) {
	c := s.collection(collection)
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	var kept []string
	for _, key := range c.order {
		rec := c.byKey[key]
		if rec != nil && rec.StoredAt.Before(olderThan) {
			delete(c.byKey, key)
			removed++
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
	return removed, nil
}

// Close is a no-op for the memory backend
func (s *MemoryStore) Close() error {
	return nil
}
