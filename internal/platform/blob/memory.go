package blob

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store implementation used in tests and
// single-process development runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// PutErr and GetErr, when set, are returned by the corresponding
	// operation. Tests use them to simulate storage failures.
	PutErr error
	GetErr error
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Ensure MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)

// Put implements Store.Put
func (s *MemoryStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if s.PutErr != nil {
		return "", s.PutErr
	}

	handle := newHandle(contentType)

	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[handle] = buf

	return handle, nil
}

// Get implements Store.Get
func (s *MemoryStore) Get(ctx context.Context, handle string) ([]byte, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Delete implements Store.Delete
func (s *MemoryStore) Delete(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, handle)
	return nil
}

// Len reports the number of stored objects. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
