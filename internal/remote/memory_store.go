package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps documents in process memory. It backs offline runs and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Create(_ context.Context, owner, collection string, data []byte) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(owner, collection, true)[id] = clone(data)
	return id, nil
}

func (s *MemoryStore) Set(_ context.Context, owner, collection, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(owner, collection, true)[id] = clone(data)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, owner, collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.bucket(owner, collection, false)[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Data: clone(data)}, nil
}

func (s *MemoryStore) List(_ context.Context, owner, collection string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(owner, collection, func([]byte) bool { return true }), nil
}

func (s *MemoryStore) Query(_ context.Context, owner, collection, field, value string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(owner, collection, func(data []byte) bool { return fieldEquals(data, field, value) }), nil
}

func (s *MemoryStore) Delete(_ context.Context, owner, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.bucket(owner, collection, false)
	if _, ok := bucket[id]; !ok {
		return ErrNotFound
	}
	delete(bucket, id)
	return nil
}

// Len returns the number of documents in a collection.
func (s *MemoryStore) Len(owner, collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bucket(owner, collection, false))
}

func (s *MemoryStore) bucket(owner, collection string, create bool) map[string][]byte {
	key := namespace(owner, collection)
	bucket, ok := s.docs[key]
	if !ok && create {
		bucket = make(map[string][]byte)
		s.docs[key] = bucket
	}
	return bucket
}

func (s *MemoryStore) collect(owner, collection string, keep func([]byte) bool) []Document {
	bucket := s.bucket(owner, collection, false)
	docs := make([]Document, 0, len(bucket))
	for id, data := range bucket {
		if keep(data) {
			docs = append(docs, Document{ID: id, Data: clone(data)})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

func clone(data []byte) []byte {
	return append([]byte(nil), data...)
}
